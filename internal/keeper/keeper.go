// Package keeper drives the pool's bid lifecycle on a timer: it settles
// finished rounds, clears attempts that were outbid, and bids inside the bid
// window when the pool is not leading.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atmx/auction-pool/internal/agent"
	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/metrics"
	"github.com/atmx/auction-pool/internal/model"
)

// Action is what one tick did.
type Action string

const (
	ActionSettle Action = "settle"
	ActionClear  Action = "clear"
	ActionBid    Action = "bid"
	ActionHold   Action = "hold"  // leading the current round
	ActionWait   Action = "wait"  // attempt's round closed, result not published
	ActionIdle   Action = "idle"  // outside the bid window
	ActionSkip   Action = "skip"  // basket not worth the minimum bid
	ActionError  Action = "error" // tick failed
)

// Pool is the subset of the agent the keeper drives.
type Pool interface {
	Config(ctx context.Context) (*model.Config, error)
	BidStatus(ctx context.Context) (*model.BidStatus, error)
	CurrentBasket(ctx context.Context) (*model.AuctionBasket, error)
	PlaceBid(ctx context.Context, sender string, round uint64) (*agent.Result, error)
	Settle(ctx context.Context, sender string) (*agent.Result, error)
	ClearCurrentBid(ctx context.Context, sender string) (*agent.Result, error)
}

var _ Pool = (*agent.Agent)(nil)

// Keeper runs Tick every Interval as Sender. Winner rewards are paid to Sender.
type Keeper struct {
	pool     Pool
	clock    host.Chain
	sender   string
	interval time.Duration
}

// New creates a keeper. A non-positive interval defaults to 30s.
func New(pool Pool, clock host.Chain, sender string, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Keeper{pool: pool, clock: clock, sender: sender, interval: interval}
}

// Run ticks until ctx is done.
func (k *Keeper) Run(ctx context.Context) {
	slog.Info("keeper started", "sender", k.sender, "interval", k.interval.String())
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped")
			return
		case <-ticker.C:
			action, err := k.Tick(ctx)
			metrics.KeeperTicks.WithLabelValues(string(action)).Inc()
			if err != nil {
				slog.Warn("keeper tick failed", "err", err)
				continue
			}
			slog.Debug("keeper tick", "action", string(action))
		}
	}
}

// Tick inspects the bid lifecycle and takes at most one state-changing step,
// except that clearing an outbid attempt is followed by a fresh bid.
func (k *Keeper) Tick(ctx context.Context) (Action, error) {
	status, err := k.pool.BidStatus(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("bid status: %w", err)
	}

	switch status.Phase {
	case model.PhaseSettlementPending:
		_, err := k.pool.Settle(ctx, k.sender)
		if errors.Is(err, agent.ErrBidAttemptRoundNotFinished) {
			return ActionWait, nil
		}
		if err != nil {
			return ActionError, fmt.Errorf("settle: %w", err)
		}
		return ActionSettle, nil

	case model.PhaseBidConfirmed:
		if status.Leading {
			return ActionHold, nil
		}
		if _, err := k.pool.ClearCurrentBid(ctx, k.sender); err != nil {
			return ActionError, fmt.Errorf("clear bid: %w", err)
		}
		action, err := k.bid(ctx)
		if err != nil || action == ActionBid {
			return action, err
		}
		return ActionClear, nil
	}

	return k.bid(ctx)
}

func (k *Keeper) bid(ctx context.Context) (Action, error) {
	cfg, err := k.pool.Config(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("config: %w", err)
	}
	basket, err := k.pool.CurrentBasket(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("current basket: %w", err)
	}
	now, err := k.clock.BlockTime(ctx)
	if err != nil {
		return ActionError, fmt.Errorf("block time: %w", err)
	}
	if now.Unix()+cfg.BidTimeBufferSecs < basket.ClosingTime {
		return ActionIdle, nil
	}

	_, err = k.pool.PlaceBid(ctx, k.sender, basket.Round)
	switch {
	case err == nil:
		return ActionBid, nil
	case errors.Is(err, agent.ErrMinBidTooHigh):
		return ActionSkip, nil
	case errors.Is(err, agent.ErrNotInBidTime), errors.Is(err, agent.ErrWrongRound):
		// Round rolled over between reads.
		return ActionIdle, nil
	default:
		return ActionError, fmt.Errorf("place bid: %w", err)
	}
}
