package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
	"github.com/atmx/auction-pool/internal/reward"
	"github.com/atmx/auction-pool/internal/route"
	"github.com/atmx/auction-pool/internal/store"
	"github.com/atmx/auction-pool/internal/valuation"
)

// Queries read committed state only and do not take the invocation lock.

// DepositCap is the current room for new deposits.
type DepositCap struct {
	MaxTokens   decimal.Decimal `json:"max_tokens"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	Available   decimal.Decimal `json:"available"`
}

func loadConfig(ctx context.Context, tx store.Tx) (*model.Config, error) {
	cfg, err := tx.Config(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return cfg, err
}

func loadGlobal(ctx context.Context, tx store.Tx) (*model.GlobalLedger, error) {
	g, err := tx.Global(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	return g, err
}

// State returns the global ledger.
func (a *Agent) State(ctx context.Context) (*model.GlobalLedger, error) {
	var g *model.GlobalLedger
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		var err error
		g, err = loadGlobal(ctx, tx)
		return err
	})
	return g, err
}

// Config returns the pool config.
func (a *Agent) Config(ctx context.Context) (*model.Config, error) {
	var cfg *model.Config
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		var err error
		cfg, err = loadConfig(ctx, tx)
		return err
	})
	return cfg, err
}

// User returns address's account with its reward settled to the current
// index. Nothing is written.
func (a *Agent) User(ctx context.Context, address string) (*model.UserAccount, error) {
	var acc *model.UserAccount
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		g, err := loadGlobal(ctx, tx)
		if err != nil {
			return err
		}
		acc, err = tx.Account(ctx, address)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		if err != nil {
			return err
		}
		reward.UpdateUserReward(acc, g.Index)
		return nil
	})
	return acc, err
}

// Accounts returns every account, rewards settled, ordered by address.
func (a *Agent) Accounts(ctx context.Context) ([]model.UserAccount, error) {
	var accs []model.UserAccount
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		g, err := loadGlobal(ctx, tx)
		if err != nil {
			return err
		}
		accs, err = tx.Accounts(ctx)
		if err != nil {
			return err
		}
		for i := range accs {
			reward.UpdateUserReward(&accs[i], g.Index)
		}
		return nil
	})
	return accs, err
}

// CurrentBasket returns the running auction round.
func (a *Agent) CurrentBasket(ctx context.Context) (*model.AuctionBasket, error) {
	return a.host.CurrentBasket(ctx)
}

// BidStatus reports where the pool is in the bid lifecycle.
func (a *Agent) BidStatus(ctx context.Context) (*model.BidStatus, error) {
	var attempt *model.BidAttempt
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		var err error
		attempt, err = tx.BidAttempt(ctx)
		if errors.Is(err, store.ErrNotFound) {
			attempt = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return &model.BidStatus{Phase: model.PhaseIdle}, nil
	}
	basket, err := a.host.CurrentBasket(ctx)
	if err != nil {
		return nil, fmt.Errorf("current basket: %w", err)
	}
	if attempt.Round == basket.Round {
		return &model.BidStatus{
			Phase:   model.PhaseBidConfirmed,
			Leading: basket.HighestBidder == a.addr,
			Attempt: attempt,
		}, nil
	}
	return &model.BidStatus{Phase: model.PhaseSettlementPending, Attempt: attempt}, nil
}

// SimulateSwap quotes offering amount of asset on marketID against the
// current book, exactly as a live order would be sized.
func (a *Agent) SimulateSwap(ctx context.Context, amount decimal.Decimal, marketID, asset string) (*orderbook.Quote, error) {
	id, err := route.ParseMarketID(marketID)
	if err != nil {
		return nil, err
	}
	q, _, err := valuation.Quote(ctx, a.host, id, model.Coin{Denom: asset, Amount: amount})
	return q, err
}

// ExchangeValue values the current basket by walking registered order books.
func (a *Agent) ExchangeValue(ctx context.Context) (decimal.Decimal, error) {
	return a.basketValue(ctx, valuation.NameExchange)
}

// RouterValue values the current basket with the external router.
func (a *Agent) RouterValue(ctx context.Context) (decimal.Decimal, error) {
	return a.basketValue(ctx, valuation.NameRouter)
}

func (a *Agent) basketValue(ctx context.Context, name string) (decimal.Decimal, error) {
	value := decimal.Zero
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		strategy, err := valuation.New(name, a.host, cfg.Router)
		if err != nil {
			return err
		}
		basket, err := a.host.CurrentBasket(ctx)
		if err != nil {
			return fmt.Errorf("current basket: %w", err)
		}
		value, err = strategy.Value(ctx, tx, cfg.ReferenceDenom, basket.Basket)
		return err
	})
	return value, err
}

// MaxDeposit returns how much more the pool accepts right now.
func (a *Agent) MaxDeposit(ctx context.Context) (*DepositCap, error) {
	var c *DepositCap
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		cfg, err := loadConfig(ctx, tx)
		if err != nil {
			return err
		}
		g, err := loadGlobal(ctx, tx)
		if err != nil {
			return err
		}
		basket, err := a.host.CurrentBasket(ctx)
		if err != nil {
			return fmt.Errorf("current basket: %w", err)
		}
		value, err := a.exchange.Value(ctx, tx, cfg.ReferenceDenom, basket.Basket)
		if err != nil {
			return err
		}
		maxTokens := reward.MaxTokens(value, cfg.MaxOffsetBps)
		available := maxTokens.Sub(g.TotalSupply)
		if available.IsNegative() {
			available = decimal.Zero
		}
		c = &DepositCap{MaxTokens: maxTokens, TotalSupply: g.TotalSupply, Available: available}
		return nil
	})
	return c, err
}

// Routes lists every registered swap route ordered by key.
func (a *Agent) Routes(ctx context.Context) ([]model.SwapRoute, error) {
	var routes []model.SwapRoute
	err := store.View(ctx, a.store, func(tx store.Tx) error {
		entries, err := tx.Routes(ctx)
		if err != nil {
			return err
		}
		routes = make([]model.SwapRoute, 0, len(entries))
		for _, e := range entries {
			routes = append(routes, e.Route)
		}
		return nil
	})
	return routes, err
}
