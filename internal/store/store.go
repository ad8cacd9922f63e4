// Package store defines the committed state of the pool agent. Implementations
// include PostgreSQL (source of truth), SQLite (embedded single node), Redis
// (read-through cache over either) and in-memory (for testing).
//
// All access goes through a Tx. Writes become visible to other transactions
// only on Commit. A Tx is not safe for concurrent use.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
)

var (
	// ErrNotFound is returned for a missing config, ledger, account or bid
	// attempt. Missing routes wrap route.ErrNotFound instead.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned by Commit when another transaction committed
	// since this one began.
	ErrConflict = errors.New("store: concurrent commit")

	// ErrTxDone is returned for any use of a finished transaction.
	ErrTxDone = errors.New("store: transaction already finished")
)

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one unit of work against the committed state.
type Tx interface {
	// --- Singletons ---

	Config(ctx context.Context) (*model.Config, error)
	SaveConfig(ctx context.Context, cfg *model.Config) error
	Global(ctx context.Context) (*model.GlobalLedger, error)
	SaveGlobal(ctx context.Context, g *model.GlobalLedger) error

	// --- Depositor accounts ---

	Account(ctx context.Context, address string) (*model.UserAccount, error)
	SaveAccount(ctx context.Context, acc *model.UserAccount) error
	DeleteAccount(ctx context.Context, address string) error
	// Accounts returns all accounts ordered by address.
	Accounts(ctx context.Context) ([]model.UserAccount, error)

	// --- Swap routes ---

	Route(ctx context.Context, key route.Key) (*model.SwapRoute, error)
	SaveRoute(ctx context.Context, key route.Key, r model.SwapRoute) error
	// DeleteRoute fails with route.ErrNotFound if key is not registered.
	DeleteRoute(ctx context.Context, key route.Key) error
	// Routes returns all routes ordered by key.
	Routes(ctx context.Context) ([]route.Entry, error)

	// --- Bid attempt ---

	BidAttempt(ctx context.Context) (*model.BidAttempt, error)
	SaveBidAttempt(ctx context.Context, a *model.BidAttempt) error
	DeleteBidAttempt(ctx context.Context) error

	// --- Compensations ---

	SaveCompensation(ctx context.Context, c *model.Compensation) error
	// Compensations returns all records ordered by recording time.
	Compensations(ctx context.Context) ([]model.Compensation, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ReadStore is implemented by stores that serve read-only transactions
// differently from Begin.
type ReadStore interface {
	BeginRead(ctx context.Context) (Tx, error)
}

// View runs fn in a transaction that is always rolled back. It opens the
// transaction with BeginRead when s supports it.
func View(ctx context.Context, s Store, fn func(tx Tx) error) error {
	begin := s.Begin
	if r, ok := s.(ReadStore); ok {
		begin = r.BeginRead
	}
	tx, err := begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	return fn(tx)
}

// Update runs fn in a transaction committed when fn succeeds.
func Update(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func routeNotFound(key route.Key) error {
	return fmt.Errorf("%w: %s", route.ErrNotFound, key)
}

func notFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// parseDecimal reads a NUMERIC or TEXT column.
func parseDecimal(col, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("column %s: %w", col, err)
	}
	return v, nil
}

func encodeBasket(b []model.Coin) (string, error) {
	if b == nil {
		b = []model.Coin{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode basket: %w", err)
	}
	return string(data), nil
}

func decodeBasket(s string) ([]model.Coin, error) {
	var b []model.Coin
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil, fmt.Errorf("decode basket: %w", err)
	}
	return b, nil
}

// encodeMessages stores an empty message list as a JSON array.
func encodeMessages(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "[]"
	}
	return string(raw)
}

func copyCompensation(c *model.Compensation) model.Compensation {
	out := *c
	out.Funds = append([]model.Coin(nil), c.Funds...)
	out.Messages = json.RawMessage(encodeMessages(c.Messages))
	return out
}

func copyAttempt(a *model.BidAttempt) *model.BidAttempt {
	out := *a
	out.Basket = append([]model.Coin(nil), a.Basket...)
	return &out
}
