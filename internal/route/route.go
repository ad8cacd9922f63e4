// Package route holds the swap-route registry: an unordered denom pair mapped
// to the spot market that trades it.
//
// Keys are canonical by construction. A Key can only be built by NewKey,
// which orders the pair, so (A,B) and (B,A) are the same key everywhere.
package route

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/atmx/auction-pool/internal/model"
)

// marketIDRegex matches an exchange market identifier: 0x + 32 bytes hex.
// Example: 0x0611780ba69656949525013d947713300f56c37b6175e02f26bffa495c3208fe
var marketIDRegex = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

var (
	ErrSameDenom       = errors.New("route: source and target denom must differ")
	ErrEmptyDenom      = errors.New("route: denom is required")
	ErrInvalidMarketID = errors.New("route: invalid market id")
	ErrDenomMismatch   = errors.New("route: denoms do not match market")
	ErrExists          = errors.New("route: already exists")
	ErrNotFound        = errors.New("route: not found")
)

// Key is the canonical route key: the lexicographically smaller denom first.
type Key struct {
	lo, hi string
}

// NewKey canonicalizes an unordered denom pair.
func NewKey(a, b string) (Key, error) {
	if a == "" || b == "" {
		return Key{}, ErrEmptyDenom
	}
	if a == b {
		return Key{}, fmt.Errorf("%w: %s", ErrSameDenom, a)
	}
	if b < a {
		a, b = b, a
	}
	return Key{lo: a, hi: b}, nil
}

// MustKey is NewKey for literals known to be valid.
func MustKey(a, b string) Key {
	k, err := NewKey(a, b)
	if err != nil {
		panic(err)
	}
	return k
}

// ParseKey reverses Key.String.
func ParseKey(s string) (Key, error) {
	lo, hi, ok := strings.Cut(s, "|")
	if !ok {
		return Key{}, fmt.Errorf("route: malformed key %q", s)
	}
	return NewKey(lo, hi)
}

// Denoms returns the pair in canonical order.
func (k Key) Denoms() (string, string) { return k.lo, k.hi }

// String encodes the key for storage.
func (k Key) String() string { return k.lo + "|" + k.hi }

func (k Key) less(o Key) bool {
	if k.lo != o.lo {
		return k.lo < o.lo
	}
	return k.hi < o.hi
}

// ParseMarketID validates a market identifier.
func ParseMarketID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if !marketIDRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q (expected 0x followed by 64 hex chars)", ErrInvalidMarketID, id)
	}
	return id, nil
}

// New builds a validated route for source→target on marketID. Denom order is
// preserved on the value; lookups go through the canonical key.
func New(source, target, marketID string) (Key, model.SwapRoute, error) {
	key, err := NewKey(source, target)
	if err != nil {
		return Key{}, model.SwapRoute{}, err
	}
	id, err := ParseMarketID(marketID)
	if err != nil {
		return Key{}, model.SwapRoute{}, err
	}
	return key, model.SwapRoute{MarketID: id, SourceDenom: source, TargetDenom: target}, nil
}

// Validate checks that the route's two denoms are exactly the market's base
// and quote denoms, in either order.
func Validate(r model.SwapRoute, market *model.SpotMarket) error {
	want, err := NewKey(market.BaseDenom, market.QuoteDenom)
	if err != nil {
		return fmt.Errorf("%w: market %s", ErrDenomMismatch, market.MarketID)
	}
	got, err := NewKey(r.SourceDenom, r.TargetDenom)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: route %s/%s, market %s trades %s/%s",
			ErrDenomMismatch, r.SourceDenom, r.TargetDenom, market.MarketID, market.BaseDenom, market.QuoteDenom)
	}
	return nil
}

// Entry pairs a key with its route.
type Entry struct {
	Key   Key
	Route model.SwapRoute
}

// Table is a route map kept sorted by key. Not safe for concurrent use.
type Table struct {
	entries []Entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) search(k Key) (int, bool) {
	i := sort.Search(len(t.entries), func(i int) bool { return !t.entries[i].Key.less(k) })
	return i, i < len(t.entries) && t.entries[i].Key == k
}

// Get returns the route for k.
func (t *Table) Get(k Key) (model.SwapRoute, bool) {
	i, ok := t.search(k)
	if !ok {
		return model.SwapRoute{}, false
	}
	return t.entries[i].Route, true
}

// Put inserts or replaces the route for k.
func (t *Table) Put(k Key, r model.SwapRoute) {
	i, ok := t.search(k)
	if ok {
		t.entries[i].Route = r
		return
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = Entry{Key: k, Route: r}
}

// Delete removes k and reports whether it was present.
func (t *Table) Delete(k Key) bool {
	i, ok := t.search(k)
	if !ok {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Len returns the number of routes.
func (t *Table) Len() int { return len(t.entries) }

// Entries returns a copy of all routes in key order.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	return &Table{entries: t.Entries()}
}
