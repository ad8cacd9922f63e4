package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/reward"
	"github.com/atmx/auction-pool/internal/route"
	"github.com/atmx/auction-pool/internal/settlement"
	"github.com/atmx/auction-pool/internal/store"
	"github.com/atmx/auction-pool/internal/valuation"
	"github.com/atmx/auction-pool/internal/workflow"
)

// Continuation ids.
const (
	replyBidPlaced  = "bid_placed"
	replyAssetSold  = "asset_sold"
	replyManualSwap = "manual_swap"
	callFinalize    = "finalize_settlement"
)

// Self calls are only ever produced by the agent's own steps, so there is no
// external sender to check for them.
func (a *Agent) registerContinuations(inv *invocation) {
	inv.resolver.OnReply(replyBidPlaced, inv.onBidPlaced)
	inv.resolver.OnReply(replyAssetSold, inv.onAssetSold)
	inv.resolver.OnReply(replyManualSwap, inv.onManualSwap)
	inv.resolver.OnCall(callFinalize, inv.finalizeSettlement)
}

// PlaceBid bids the minimum acceptable amount in round when the basket is
// worth more than it. Bids are only placed inside the last
// BidTimeBufferSecs of the round.
func (a *Agent) PlaceBid(ctx context.Context, sender string, round uint64) (*Result, error) {
	return a.invoke(ctx, CmdPlaceBid, sender, nil, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.config(ctx)
		if err != nil {
			return err
		}
		basket, err := a.host.CurrentBasket(ctx)
		if err != nil {
			return fmt.Errorf("current basket: %w", err)
		}
		if round != basket.Round {
			return fmt.Errorf("%w: round %d, current %d", ErrWrongRound, round, basket.Round)
		}
		if basket.HighestBidder == a.addr {
			return ErrAlreadyHighestBidder
		}

		prev, err := inv.tx.BidAttempt(ctx)
		switch {
		case err == nil:
			if prev.Round < basket.Round {
				return fmt.Errorf("%w: attempt for round %d", ErrUnsettledPreviousBid, prev.Round)
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now, err := a.host.BlockTime(ctx)
		if err != nil {
			return fmt.Errorf("block time: %w", err)
		}
		if now.Unix()+cfg.BidTimeBufferSecs < basket.ClosingTime {
			return fmt.Errorf("%w: bidding opens %ds before close, %ds left",
				ErrNotInBidTime, cfg.BidTimeBufferSecs, basket.ClosingTime-now.Unix())
		}

		params, err := a.host.AuctionParams(ctx)
		if err != nil {
			return fmt.Errorf("auction params: %w", err)
		}
		minBid := host.MinBid(basket.HighestBid, params.MinNextBidIncrementRate)

		strategy, err := valuation.New(a.bidValuation, a.host, cfg.Router)
		if err != nil {
			return err
		}
		value, err := strategy.Value(ctx, inv.tx, cfg.ReferenceDenom, basket.Basket)
		if err != nil {
			return err
		}
		if value.LessThanOrEqual(minBid) {
			return fmt.Errorf("%w: min bid %s, basket worth %s", ErrMinBidTooHigh, minBid, value)
		}

		inv.arena.provisional = &model.BidAttempt{
			Amount:      minBid,
			Round:       basket.Round,
			SubmittedBy: sender,
			Basket:      append([]model.Coin(nil), basket.Basket...),
		}
		inv.saga.Add(workflow.DispatchReply(host.BidMsg{
			Sender: a.addr,
			Round:  basket.Round,
			Amount: model.Coin{Denom: cfg.ReferenceDenom, Amount: minBid},
		}, replyBidPlaced, nil))

		inv.attr("round", fmt.Sprint(basket.Round))
		inv.attr("min_bid_size", minBid.String())
		inv.attr("basket_value", value.String())
		return nil
	})
}

// onBidPlaced promotes the provisional attempt once the auction accepted it.
func (inv *invocation) onBidPlaced(ctx context.Context, _ workflow.Step, _ *host.Ack) ([]workflow.Step, error) {
	attempt := inv.arena.provisional
	if attempt == nil {
		return nil, fmt.Errorf("%w: no provisional bid", workflow.ErrUnknownContinuation)
	}
	inv.arena.provisional = nil
	if err := inv.tx.SaveBidAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	return nil, nil
}

// Settle resolves the stored attempt once its round is final. A won basket
// is liquidated asset by asset, then the proceeds are split.
func (a *Agent) Settle(ctx context.Context, sender string) (*Result, error) {
	return a.invoke(ctx, CmdSettle, sender, nil, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.config(ctx)
		if err != nil {
			return err
		}
		attempt, err := inv.tx.BidAttempt(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBidAttemptNotFound
		}
		if err != nil {
			return err
		}
		last, err := a.host.LastResult(ctx)
		if errors.Is(err, host.ErrLastResultNotFound) {
			return fmt.Errorf("%w: attempt round %d, no round finished yet",
				ErrBidAttemptRoundNotFinished, attempt.Round)
		}
		if err != nil {
			return fmt.Errorf("last auction result: %w", err)
		}
		if attempt.Round != last.Round {
			return fmt.Errorf("%w: attempt round %d, last finished round %d",
				ErrBidAttemptRoundNotFinished, attempt.Round, last.Round)
		}

		// Cleared before any liquidation so a second settle finds nothing.
		if err := inv.tx.DeleteBidAttempt(ctx); err != nil {
			return err
		}
		inv.arena.provisional = nil

		inv.attr("round", fmt.Sprint(attempt.Round))
		inv.emit("bid_info", map[string]string{
			"winner":     last.Winner,
			"bid_amount": last.Amount.Amount.String(),
		})
		if last.Winner != a.addr {
			inv.attr("result", "loss")
			inv.emit("bid_result", map[string]string{"result": "loss", "winning_bidder": ""})
			return nil
		}

		inv.attr("result", "win")
		inv.emit("bid_result", map[string]string{"result": "win", "winning_bidder": attempt.SubmittedBy})

		zero := decimal.Zero
		inv.arena.settled = &zero
		for _, coin := range attempt.Basket {
			if coin.Denom == cfg.ReferenceDenom || !coin.Amount.IsPositive() {
				continue
			}
			step, ok, err := a.liquidation(ctx, inv, cfg, coin)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			inv.saga.Add(step)
			inv.attr("swap_out::"+coin.Denom, coin.Amount.String())
		}
		inv.saga.Add(workflow.Self(callFinalize, attempt))
		return nil
	})
}

// liquidation builds the sell step for one won asset. Assets without a
// registered route are abandoned.
func (a *Agent) liquidation(ctx context.Context, inv *invocation, cfg *model.Config, coin model.Coin) (workflow.Step, bool, error) {
	key, err := route.NewKey(coin.Denom, cfg.ReferenceDenom)
	if err != nil {
		return workflow.Step{}, false, err
	}
	r, err := inv.tx.Route(ctx, key)
	if errors.Is(err, route.ErrNotFound) {
		slog.Info("no route for won asset, skipping", "denom", coin.Denom, "amount", coin.Amount.String())
		return workflow.Step{}, false, nil
	}
	if err != nil {
		return workflow.Step{}, false, err
	}
	q, market, err := valuation.Quote(ctx, a.host, r.MarketID, coin)
	if err != nil {
		return workflow.Step{}, false, fmt.Errorf("liquidate %s%s: %w", coin.Amount, coin.Denom, err)
	}
	order := settlement.BuildOrder(a.addr, cfg.Subaccount, market, q)
	return workflow.DispatchReply(order, replyAssetSold, settlement.ReceivedDenom(market, q.Side)), true, nil
}

func (inv *invocation) onAssetSold(_ context.Context, step workflow.Step, ack *host.Ack) ([]workflow.Step, error) {
	if inv.arena.settled == nil {
		return nil, fmt.Errorf("%w: no settlement in progress", workflow.ErrUnknownContinuation)
	}
	order, ok := step.Msg.(host.MarketOrderMsg)
	if !ok {
		return nil, fmt.Errorf("%w: reply to %s", workflow.ErrUnknownContinuation, step.Msg.Kind())
	}
	got, err := settlement.Proceeds(order, ack)
	if err != nil {
		return nil, err
	}
	total := inv.arena.settled.Add(got)
	inv.arena.settled = &total
	if denom, ok := step.Payload.(string); ok {
		inv.attr("received::"+denom, got.String())
	}
	return nil, nil
}

// finalizeSettlement splits the accumulated proceeds of a won round. It runs
// after every liquidation of the round has been acknowledged.
func (inv *invocation) finalizeSettlement(ctx context.Context, step workflow.Step) ([]workflow.Step, error) {
	attempt, ok := step.Payload.(*model.BidAttempt)
	if !ok || inv.arena.settled == nil {
		return nil, fmt.Errorf("%w: finalize without settlement", workflow.ErrUnknownContinuation)
	}
	proceeds := *inv.arena.settled
	inv.arena.settled = nil

	cfg, err := inv.config(ctx)
	if err != nil {
		return nil, err
	}
	split := settlement.Divide(proceeds, attempt.Amount, cfg.WinnerRewardBps, attempt.SubmittedBy, inv.agent.addr)

	g, err := inv.global(ctx)
	if err != nil {
		return nil, err
	}
	if err := reward.AddProfit(g, split.PoolProfit); err != nil {
		return nil, err
	}
	reward.UpdateGlobalIndex(g)
	if err := inv.saveGlobal(ctx, g); err != nil {
		return nil, err
	}

	inv.attr("bid_amount", attempt.Amount.String())
	inv.attr("received_from_basket_sell", proceeds.String())
	inv.attr("profit", split.Profit.String())
	inv.attr("pool_profit", split.PoolProfit.String())
	inv.attr("reward", split.WinnerReward.String())

	if !split.WinnerReward.IsPositive() {
		return nil, nil
	}
	return []workflow.Step{inv.payStep(attempt.SubmittedBy, cfg.ReferenceDenom, split.WinnerReward)}, nil
}

// ClearCurrentBid drops an attempt that was outbid in the still-running
// round, so the pool is free to bid again or let depositors withdraw.
func (a *Agent) ClearCurrentBid(ctx context.Context, sender string) (*Result, error) {
	return a.invoke(ctx, CmdClearCurrentBid, sender, nil, func(ctx context.Context, inv *invocation) error {
		if _, err := inv.config(ctx); err != nil {
			return err
		}
		attempt, err := inv.tx.BidAttempt(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ErrBidAttemptNotFound
		}
		if err != nil {
			return err
		}
		basket, err := a.host.CurrentBasket(ctx)
		if err != nil {
			return fmt.Errorf("current basket: %w", err)
		}
		if attempt.Round != basket.Round {
			return fmt.Errorf("%w: attempt round %d, current round %d; settle instead",
				ErrBidAttemptRoundNotFinished, attempt.Round, basket.Round)
		}
		if basket.HighestBidder == a.addr {
			return ErrAlreadyHighestBidder
		}
		if err := inv.tx.DeleteBidAttempt(ctx); err != nil {
			return err
		}
		inv.attr("round", fmt.Sprint(attempt.Round))
		inv.attr("amount", attempt.Amount.String())
		return nil
	})
}
