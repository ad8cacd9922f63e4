package store

import (
	"context"
	"sort"
	"sync"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	version  uint64
	config   *model.Config
	global   *model.GlobalLedger
	accounts map[string]model.UserAccount
	routes   *route.Table
	bid      *model.BidAttempt
	comps    []model.Compensation
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]model.UserAccount),
		routes:   route.NewTable(),
	}
}

// Begin opens a transaction. Its writes are kept in an overlay over the
// committed state and applied on Commit.
func (s *MemoryStore) Begin(_ context.Context) (Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &memoryTx{
		s:        s,
		base:     s.version,
		accounts: make(map[string]*model.UserAccount),
		routes:   make(map[route.Key]*model.SwapRoute),
	}, nil
}

// memoryTx overlays pending writes. A nil map value marks a deletion.
type memoryTx struct {
	s    *MemoryStore
	base uint64
	done bool

	config   *model.Config
	global   *model.GlobalLedger
	accounts map[string]*model.UserAccount
	routes   map[route.Key]*model.SwapRoute
	bidSet   bool
	bid      *model.BidAttempt
	comps    []model.Compensation
}

func (t *memoryTx) Config(_ context.Context) (*model.Config, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if t.config != nil {
		c := *t.config
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.config == nil {
		return nil, notFound("config")
	}
	c := *t.s.config
	return &c, nil
}

func (t *memoryTx) SaveConfig(_ context.Context, cfg *model.Config) error {
	if t.done {
		return ErrTxDone
	}
	c := *cfg
	t.config = &c
	return nil
}

func (t *memoryTx) Global(_ context.Context) (*model.GlobalLedger, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if t.global != nil {
		g := *t.global
		return &g, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.global == nil {
		return nil, notFound("global ledger")
	}
	g := *t.s.global
	return &g, nil
}

func (t *memoryTx) SaveGlobal(_ context.Context, g *model.GlobalLedger) error {
	if t.done {
		return ErrTxDone
	}
	c := *g
	t.global = &c
	return nil
}

func (t *memoryTx) Account(_ context.Context, address string) (*model.UserAccount, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if acc, ok := t.accounts[address]; ok {
		if acc == nil {
			return nil, notFound("account " + address)
		}
		a := *acc
		return &a, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	acc, ok := t.s.accounts[address]
	if !ok {
		return nil, notFound("account " + address)
	}
	return &acc, nil
}

func (t *memoryTx) SaveAccount(_ context.Context, acc *model.UserAccount) error {
	if t.done {
		return ErrTxDone
	}
	a := *acc
	t.accounts[acc.Address] = &a
	return nil
}

func (t *memoryTx) DeleteAccount(_ context.Context, address string) error {
	if t.done {
		return ErrTxDone
	}
	t.accounts[address] = nil
	return nil
}

func (t *memoryTx) Accounts(_ context.Context) ([]model.UserAccount, error) {
	if t.done {
		return nil, ErrTxDone
	}
	t.s.mu.RLock()
	merged := make(map[string]model.UserAccount, len(t.s.accounts))
	for addr, acc := range t.s.accounts {
		merged[addr] = acc
	}
	t.s.mu.RUnlock()

	for addr, acc := range t.accounts {
		if acc == nil {
			delete(merged, addr)
			continue
		}
		merged[addr] = *acc
	}

	out := make([]model.UserAccount, 0, len(merged))
	for _, acc := range merged {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (t *memoryTx) Route(_ context.Context, key route.Key) (*model.SwapRoute, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if r, ok := t.routes[key]; ok {
		if r == nil {
			return nil, routeNotFound(key)
		}
		c := *r
		return &c, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.routes.Get(key)
	if !ok {
		return nil, routeNotFound(key)
	}
	return &r, nil
}

func (t *memoryTx) SaveRoute(_ context.Context, key route.Key, r model.SwapRoute) error {
	if t.done {
		return ErrTxDone
	}
	t.routes[key] = &r
	return nil
}

func (t *memoryTx) DeleteRoute(ctx context.Context, key route.Key) error {
	if _, err := t.Route(ctx, key); err != nil {
		return err
	}
	t.routes[key] = nil
	return nil
}

func (t *memoryTx) Routes(_ context.Context) ([]route.Entry, error) {
	if t.done {
		return nil, ErrTxDone
	}
	t.s.mu.RLock()
	table := t.s.routes.Clone()
	t.s.mu.RUnlock()
	t.apply(table)
	return table.Entries(), nil
}

func (t *memoryTx) apply(table *route.Table) {
	for key, r := range t.routes {
		if r == nil {
			table.Delete(key)
			continue
		}
		table.Put(key, *r)
	}
}

func (t *memoryTx) BidAttempt(_ context.Context) (*model.BidAttempt, error) {
	if t.done {
		return nil, ErrTxDone
	}
	bid := t.bid
	if !t.bidSet {
		t.s.mu.RLock()
		defer t.s.mu.RUnlock()
		bid = t.s.bid
	}
	if bid == nil {
		return nil, notFound("bid attempt")
	}
	return copyAttempt(bid), nil
}

func (t *memoryTx) SaveBidAttempt(_ context.Context, a *model.BidAttempt) error {
	if t.done {
		return ErrTxDone
	}
	t.bidSet = true
	t.bid = copyAttempt(a)
	return nil
}

func (t *memoryTx) DeleteBidAttempt(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.bidSet = true
	t.bid = nil
	return nil
}

func (t *memoryTx) SaveCompensation(_ context.Context, c *model.Compensation) error {
	if t.done {
		return ErrTxDone
	}
	t.comps = append(t.comps, copyCompensation(c))
	return nil
}

func (t *memoryTx) Compensations(_ context.Context) ([]model.Compensation, error) {
	if t.done {
		return nil, ErrTxDone
	}
	t.s.mu.RLock()
	out := make([]model.Compensation, 0, len(t.s.comps)+len(t.comps))
	for i := range t.s.comps {
		out = append(out, copyCompensation(&t.s.comps[i]))
	}
	t.s.mu.RUnlock()
	for i := range t.comps {
		out = append(out, copyCompensation(&t.comps[i]))
	}
	return out, nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	t.done = true

	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.version != t.base {
		return ErrConflict
	}
	if t.config != nil {
		s.config = t.config
	}
	if t.global != nil {
		s.global = t.global
	}
	for addr, acc := range t.accounts {
		if acc == nil {
			delete(s.accounts, addr)
			continue
		}
		s.accounts[addr] = *acc
	}
	t.apply(s.routes)
	if t.bidSet {
		s.bid = t.bid
	}
	s.comps = append(s.comps, t.comps...)
	s.version++
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}
