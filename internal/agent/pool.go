package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/reward"
	"github.com/atmx/auction-pool/internal/store"
)

// Deposit adds the attached reference-denom funds to sender's stake. The
// pool may not grow beyond MaxOffsetBps of the current basket's exchange
// value.
func (a *Agent) Deposit(ctx context.Context, sender string, funds []model.Coin) (*Result, error) {
	return a.invoke(ctx, CmdDeposit, sender, funds, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.config(ctx)
		if err != nil {
			return err
		}
		if len(funds) != 1 || funds[0].Denom != cfg.ReferenceDenom {
			return fmt.Errorf("%w: deposit exactly one coin of %s", ErrInvalidDenom, cfg.ReferenceDenom)
		}
		amount := funds[0].Amount
		if !amount.IsPositive() {
			return fmt.Errorf("%w: deposit %s", ErrInvalidAmount, amount)
		}

		g, err := inv.global(ctx)
		if err != nil {
			return err
		}
		basket, err := a.host.CurrentBasket(ctx)
		if err != nil {
			return fmt.Errorf("current basket: %w", err)
		}
		value, err := a.exchange.Value(ctx, inv.tx, cfg.ReferenceDenom, basket.Basket)
		if err != nil {
			return err
		}
		maxTokens := reward.MaxTokens(value, cfg.MaxOffsetBps)
		if g.TotalSupply.Add(amount).GreaterThan(maxTokens) {
			return fmt.Errorf("%w: supply %s + %s > %s", ErrMaxTokensExceeded, g.TotalSupply, amount, maxTokens)
		}

		acc, err := inv.tx.Account(ctx, sender)
		if errors.Is(err, store.ErrNotFound) {
			acc = reward.NewAccount(sender, g.Index)
		} else if err != nil {
			return err
		}
		reward.UpdateUserReward(acc, g.Index)
		if err := reward.IncreaseSupply(g, acc, amount); err != nil {
			return err
		}
		if err := inv.tx.SaveAccount(ctx, acc); err != nil {
			return err
		}
		if err := inv.saveGlobal(ctx, g); err != nil {
			return err
		}

		inv.attr("owner", sender)
		inv.attr("amount", amount.String())
		inv.attr("total_supply", g.TotalSupply.String())
		return nil
	})
}

// Withdraw returns amount of sender's stake together with all pending
// reward in one transfer. Withdrawals are blocked during the last
// WithdrawTimeBufferSecs of a round, while the pool may be bidding.
func (a *Agent) Withdraw(ctx context.Context, sender string, amount decimal.Decimal) (*Result, error) {
	return a.invoke(ctx, CmdWithdraw, sender, nil, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.config(ctx)
		if err != nil {
			return err
		}
		if !amount.IsPositive() {
			return fmt.Errorf("%w: withdraw %s", ErrInvalidAmount, amount)
		}
		g, err := inv.global(ctx)
		if err != nil {
			return err
		}
		acc, err := inv.tx.Account(ctx, sender)
		if errors.Is(err, store.ErrNotFound) {
			acc = reward.NewAccount(sender, g.Index)
		} else if err != nil {
			return err
		}
		if amount.GreaterThan(acc.Deposited) {
			return fmt.Errorf("%w: withdraw %s, deposited %s", ErrInsufficientFunds, amount, acc.Deposited)
		}
		if err := a.checkWithdrawTime(ctx, cfg); err != nil {
			return err
		}

		reward.UpdateUserReward(acc, g.Index)
		pending := acc.PendingReward
		acc.PendingReward = decimal.Zero
		if err := reward.DecreaseSupply(g, acc, amount); err != nil {
			return err
		}
		inv.pay(sender, cfg.ReferenceDenom, amount.Add(pending))

		if acc.Deposited.IsZero() {
			err = inv.tx.DeleteAccount(ctx, sender)
		} else {
			err = inv.tx.SaveAccount(ctx, acc)
		}
		if err != nil {
			return err
		}
		if err := inv.saveGlobal(ctx, g); err != nil {
			return err
		}

		inv.attr("owner", sender)
		inv.attr("amount", amount.String())
		inv.attr("rewards", pending.String())
		return nil
	})
}

func (a *Agent) checkWithdrawTime(ctx context.Context, cfg *model.Config) error {
	basket, err := a.host.CurrentBasket(ctx)
	if err != nil {
		return fmt.Errorf("current basket: %w", err)
	}
	now, err := a.host.BlockTime(ctx)
	if err != nil {
		return fmt.Errorf("block time: %w", err)
	}
	if now.Unix() > basket.ClosingTime-cfg.WithdrawTimeBufferSecs {
		remaining := (basket.ClosingTime - now.Unix()) / 60
		return fmt.Errorf("%w: buffer is %d minutes, %d minutes to close",
			ErrNotInWithdrawTime, cfg.WithdrawTimeBufferSecs/60, remaining)
	}
	return nil
}

// Harvest pays out sender's pending reward. The stake is untouched.
func (a *Agent) Harvest(ctx context.Context, sender string) (*Result, error) {
	return a.invoke(ctx, CmdHarvest, sender, nil, func(ctx context.Context, inv *invocation) error {
		cfg, err := inv.config(ctx)
		if err != nil {
			return err
		}
		g, err := inv.global(ctx)
		if err != nil {
			return err
		}
		acc, err := inv.tx.Account(ctx, sender)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, sender)
		}
		if err != nil {
			return err
		}

		reward.UpdateUserReward(acc, g.Index)
		pending := acc.PendingReward
		if pending.IsPositive() {
			inv.pay(sender, cfg.ReferenceDenom, pending)
		}
		acc.PendingReward = decimal.Zero
		if err := inv.tx.SaveAccount(ctx, acc); err != nil {
			return err
		}

		inv.attr("owner", sender)
		inv.attr("rewards", pending.String())
		return nil
	})
}
