package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/auction-pool/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache of the
// config, the global ledger and depositor accounts.
//
// Only read-only transactions (BeginRead, used by View) consult Redis.
// Transactions from Begin may write, so they always read the primary. A
// committed write bumps a per-key generation counter and deletes the key. A
// reader fills the cache only if the generation it saw before reading the
// primary is still current, so a slow reader cannot put back a value older
// than the last commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Begin(ctx context.Context) (Tx, error) {
	return s.begin(ctx, false)
}

// BeginRead opens a transaction that serves reads from Redis when it can.
func (s *CachedStore) BeginRead(ctx context.Context) (Tx, error) {
	return s.begin(ctx, true)
}

func (s *CachedStore) begin(ctx context.Context, readOnly bool) (Tx, error) {
	tx, err := s.primary.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &cachedTx{Tx: tx, s: s, readOnly: readOnly, dirty: make(map[string]struct{})}, nil
}

// cachedTx embeds the primary Tx; routes, the bid attempt and compensations
// pass through.
type cachedTx struct {
	Tx
	s        *CachedStore
	readOnly bool
	dirty    map[string]struct{}
}

// --- Read-through (check cache first) ---

func (t *cachedTx) Config(ctx context.Context) (*model.Config, error) {
	var c model.Config
	if t.cached(ctx, configKey, &c) {
		return &c, nil
	}
	gen := t.generation(ctx, configKey)
	cfg, err := t.Tx.Config(ctx)
	if err != nil {
		return nil, err
	}
	t.fill(ctx, configKey, gen, cfg)
	return cfg, nil
}

func (t *cachedTx) Global(ctx context.Context) (*model.GlobalLedger, error) {
	var g model.GlobalLedger
	if t.cached(ctx, globalKey, &g) {
		return &g, nil
	}
	gen := t.generation(ctx, globalKey)
	gl, err := t.Tx.Global(ctx)
	if err != nil {
		return nil, err
	}
	t.fill(ctx, globalKey, gen, gl)
	return gl, nil
}

func (t *cachedTx) Account(ctx context.Context, address string) (*model.UserAccount, error) {
	key := accountKey(address)
	var a model.UserAccount
	if t.cached(ctx, key, &a) {
		return &a, nil
	}
	gen := t.generation(ctx, key)
	acc, err := t.Tx.Account(ctx, address)
	if err != nil {
		return nil, err
	}
	t.fill(ctx, key, gen, acc)
	return acc, nil
}

// --- Write-through (write to primary, invalidate on commit) ---

func (t *cachedTx) SaveConfig(ctx context.Context, cfg *model.Config) error {
	t.dirty[configKey] = struct{}{}
	return t.Tx.SaveConfig(ctx, cfg)
}

func (t *cachedTx) SaveGlobal(ctx context.Context, g *model.GlobalLedger) error {
	t.dirty[globalKey] = struct{}{}
	return t.Tx.SaveGlobal(ctx, g)
}

func (t *cachedTx) SaveAccount(ctx context.Context, acc *model.UserAccount) error {
	t.dirty[accountKey(acc.Address)] = struct{}{}
	return t.Tx.SaveAccount(ctx, acc)
}

func (t *cachedTx) DeleteAccount(ctx context.Context, address string) error {
	t.dirty[accountKey(address)] = struct{}{}
	return t.Tx.DeleteAccount(ctx, address)
}

func (t *cachedTx) Commit(ctx context.Context) error {
	if err := t.Tx.Commit(ctx); err != nil {
		return err
	}
	if len(t.dirty) == 0 {
		return nil
	}
	// Generation bump and delete go in one MULTI. Fills racing it are dropped.
	_, err := t.s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k := range t.dirty {
			pipe.Incr(ctx, genKey(k))
			pipe.Del(ctx, k)
		}
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", "keys", len(t.dirty), "err", err)
	}
	return nil
}

// --- Cache helpers ---

// cached decodes key into v. Only read-only transactions use the cache, and
// never for a key they wrote.
func (t *cachedTx) cached(ctx context.Context, key string, v any) bool {
	if !t.usesCache(key) {
		return false
	}
	data, err := t.s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// generation returns the current generation of key, "" when it has none or
// Redis is unavailable.
func (t *cachedTx) generation(ctx context.Context, key string) string {
	if !t.usesCache(key) {
		return ""
	}
	gen, err := t.s.rdb.Get(ctx, genKey(key)).Result()
	if err != nil {
		return ""
	}
	return gen
}

// fill caches v under key unless a commit bumped the generation since gen
// was read. A lost race simply leaves the key uncached.
func (t *cachedTx) fill(ctx context.Context, key, gen string, v any) {
	if !t.usesCache(key) {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	g := genKey(key)
	err = t.s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, g).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, t.s.ttl)
			return nil
		})
		return err
	}, g)
	if err != nil && !errors.Is(err, errStaleFill) && !errors.Is(err, redis.TxFailedErr) {
		slog.Debug("cache fill failed", "key", key, "err", err)
	}
}

func (t *cachedTx) usesCache(key string) bool {
	if !t.readOnly {
		return false
	}
	_, dirty := t.dirty[key]
	return !dirty
}

var errStaleFill = errors.New("store: cache generation moved")

const (
	configKey = "pool:config"
	globalKey = "pool:global"
)

func accountKey(addr string) string { return fmt.Sprintf("pool:account:%s", addr) }

func genKey(key string) string { return key + ":gen" }

var _ Tx = (*cachedTx)(nil)
