package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
	"github.com/atmx/auction-pool/internal/settlement"
	"github.com/atmx/auction-pool/internal/valuation"
	"github.com/atmx/auction-pool/internal/workflow"
)

// ManualSwap sells amount of asset on marketID outside the bid cycle. The
// proceeds stay in the pool balance and are not distributed.
func (a *Agent) ManualSwap(ctx context.Context, sender string, amount decimal.Decimal, marketID, asset string) (*Result, error) {
	return a.invoke(ctx, CmdManualSwap, sender, nil, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.requireAdmin(ctx)
		if err != nil {
			return err
		}
		if asset == cfg.ReferenceDenom {
			return ErrCannotManuallySwap
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: swap %s", ErrInvalidAmount, amount)
		}
		id, err := route.ParseMarketID(marketID)
		if err != nil {
			return err
		}
		offer := model.Coin{Denom: asset, Amount: amount}
		q, market, err := valuation.Quote(ctx, a.host, id, offer)
		if err != nil {
			return err
		}
		order := settlement.BuildOrder(a.addr, cfg.Subaccount, market, q)
		inv.saga.Add(workflow.DispatchReply(order, replyManualSwap, settlement.ReceivedDenom(market, q.Side)))

		inv.attr("market_id", id)
		inv.attr("swap_out::"+asset, amount.String())
		return nil
	})
}

func (inv *invocation) onManualSwap(_ context.Context, step workflow.Step, ack *host.Ack) ([]workflow.Step, error) {
	order, ok := step.Msg.(host.MarketOrderMsg)
	if !ok {
		return nil, fmt.Errorf("%w: reply to %s", workflow.ErrUnknownContinuation, step.Msg.Kind())
	}
	got, err := settlement.Proceeds(order, ack)
	if err != nil {
		return nil, err
	}
	denom, _ := step.Payload.(string)
	inv.attr("received::"+denom, got.String())
	return nil, nil
}

// UpdateConfig replaces the pool config. The subaccount is derived and
// cannot be changed.
func (a *Agent) UpdateConfig(ctx context.Context, sender string, cfg model.Config) (*Result, error) {
	return a.invoke(ctx, CmdUpdateConfig, sender, nil, func(ctx context.Context, inv *invocation) error {
		cur, err := inv.requireAdmin(ctx)
		if err != nil {
			return err
		}
		cfg.Subaccount = cur.Subaccount
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := inv.tx.SaveConfig(ctx, &cfg); err != nil {
			return err
		}
		inv.cfg = &cfg
		inv.attr("admin", cfg.Admin)
		inv.attr("reference_denom", cfg.ReferenceDenom)
		return nil
	})
}

// SetRoute registers marketID as the route between source and target.
func (a *Agent) SetRoute(ctx context.Context, sender, source, target, marketID string) (*Result, error) {
	return a.invoke(ctx, CmdSetRoute, sender, nil, func(ctx context.Context, inv *invocation) error {
		if _, err := inv.requireAdmin(ctx); err != nil {
			return err
		}
		key, r, err := route.New(source, target, marketID)
		if err != nil {
			return err
		}
		if _, err := inv.tx.Route(ctx, key); err == nil {
			return fmt.Errorf("%w: %s", route.ErrExists, key)
		} else if !errors.Is(err, route.ErrNotFound) {
			return err
		}
		market, err := a.host.SpotMarket(ctx, r.MarketID)
		if err != nil {
			return err
		}
		if err := route.Validate(r, market); err != nil {
			return err
		}
		if err := inv.tx.SaveRoute(ctx, key, r); err != nil {
			return err
		}
		inv.attr("source_denom", source)
		inv.attr("target_denom", target)
		inv.attr("market_id", r.MarketID)
		return nil
	})
}

// DeleteRoute removes the route between source and target, in either order.
func (a *Agent) DeleteRoute(ctx context.Context, sender, source, target string) (*Result, error) {
	return a.invoke(ctx, CmdDeleteRoute, sender, nil, func(ctx context.Context, inv *invocation) error {
		if _, err := inv.requireAdmin(ctx); err != nil {
			return err
		}
		key, err := route.NewKey(source, target)
		if err != nil {
			return err
		}
		if err := inv.tx.DeleteRoute(ctx, key); err != nil {
			return err
		}
		inv.attr("source_denom", source)
		inv.attr("target_denom", target)
		return nil
	})
}
