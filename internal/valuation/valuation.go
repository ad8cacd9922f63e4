// Package valuation prices an auction basket in the reference denom.
//
// Two strategies share one interface. Exchange walks the order book of each
// registered route with the swap simulator. Router asks the external
// multi-hop router. The reference denom always counts at face value.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
	"github.com/atmx/auction-pool/internal/route"
)

const (
	NameExchange = "exchange"
	NameRouter   = "router"
)

// ErrUnknownStrategy is returned by New for an unrecognized name.
var ErrUnknownStrategy = errors.New("valuation: unknown strategy")

// Routes resolves registered swap routes. A missing route is reported with
// an error wrapping route.ErrNotFound.
type Routes interface {
	Route(ctx context.Context, key route.Key) (*model.SwapRoute, error)
}

// Strategy values a basket in the reference denom.
type Strategy interface {
	Name() string
	Value(ctx context.Context, routes Routes, reference string, basket []model.Coin) (decimal.Decimal, error)
}

// New returns the strategy registered under name.
func New(name string, h host.Host, routerAddr string) (Strategy, error) {
	switch name {
	case NameExchange:
		return &Exchange{Host: h}, nil
	case NameRouter:
		return &Router{Host: h, Address: routerAddr}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Exchange values each asset by simulating its swap on the registered
// market. Assets without a route are skipped. Simulation errors, including
// orderbook.ErrNotEnoughLiquidity, abort the valuation.
type Exchange struct {
	Host host.Exchange
}

func (e *Exchange) Name() string { return NameExchange }

func (e *Exchange) Value(ctx context.Context, routes Routes, reference string, basket []model.Coin) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, coin := range basket {
		if coin.Denom == reference {
			total = total.Add(coin.Amount)
			continue
		}
		if !coin.Amount.IsPositive() {
			continue
		}
		r, err := lookup(ctx, routes, coin.Denom, reference)
		if err != nil {
			return decimal.Zero, err
		}
		if r == nil {
			continue
		}
		q, _, err := Quote(ctx, e.Host, r.MarketID, coin)
		if err != nil {
			return decimal.Zero, fmt.Errorf("value %s%s: %w", coin.Amount, coin.Denom, err)
		}
		total = total.Add(q.Output)
	}
	return total, nil
}

// Router values each asset with the external router. An asset without a
// route, or whose router query fails, is worth zero.
type Router struct {
	Host    host.Router
	Address string
}

func (r *Router) Name() string { return NameRouter }

func (r *Router) Value(ctx context.Context, routes Routes, reference string, basket []model.Coin) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, coin := range basket {
		if coin.Denom == reference {
			total = total.Add(coin.Amount)
			continue
		}
		if !coin.Amount.IsPositive() {
			continue
		}
		sr, err := lookup(ctx, routes, coin.Denom, reference)
		if err != nil {
			return decimal.Zero, err
		}
		if sr == nil {
			continue
		}
		out, err := r.Host.SimulateSwap(ctx, r.Address, sr.MarketID, coin)
		if err != nil {
			slog.Warn("router valuation failed, valuing asset at zero",
				"denom", coin.Denom,
				"market_id", sr.MarketID,
				"err", err,
			)
			continue
		}
		total = total.Add(out)
	}
	return total, nil
}

// Quote simulates offering coin on marketID against the current book.
func Quote(ctx context.Context, ex host.Exchange, marketID string, offer model.Coin) (*orderbook.Quote, *model.SpotMarket, error) {
	market, err := ex.SpotMarket(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	params, err := ex.ExchangeParams(ctx)
	if err != nil {
		return nil, nil, err
	}
	book, err := ex.Orderbook(ctx, marketID)
	if err != nil {
		return nil, nil, err
	}
	side, err := orderbook.SideFor(market, offer.Denom)
	if err != nil {
		return nil, nil, err
	}
	q, err := orderbook.Simulate(market, params, book, side, offer.Amount)
	if err != nil {
		return nil, nil, err
	}
	return q, market, nil
}

// lookup returns the route between denom and reference, or nil if none is
// registered.
func lookup(ctx context.Context, routes Routes, denom, reference string) (*model.SwapRoute, error) {
	key, err := route.NewKey(denom, reference)
	if err != nil {
		return nil, err
	}
	r, err := routes.Route(ctx, key)
	if errors.Is(err, route.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup route %s: %w", key, err)
	}
	return r, nil
}
