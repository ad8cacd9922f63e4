// Package reward implements the pro-rata index accumulator that distributes
// pool profit over depositors without iterating them on every profit event.
//
// A depositor's owed reward is deposited * (globalIndex - userIndex). Reward
// accrual is floored to atomic units, so fractional dust stays in the pool.
package reward

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
)

// IndexPrecision is the number of fractional digits kept on the global index.
const IndexPrecision int32 = 18

var (
	// ErrInsufficientSupply is returned when a decrease would push total
	// supply below zero.
	ErrInsufficientSupply = errors.New("reward: total supply underflow")

	// ErrNegativeAmount is returned for negative supply changes.
	ErrNegativeAmount = errors.New("reward: amount must not be negative")
)

// UpdateUserReward settles acc's reward up to index. It must run before any
// read of PendingReward or change of Deposited.
func UpdateUserReward(acc *model.UserAccount, index decimal.Decimal) {
	delta := acc.Deposited.Mul(index.Sub(acc.Index))
	if delta.IsPositive() {
		acc.PendingReward = acc.PendingReward.Add(delta.Floor())
	}
	acc.Index = index
}

// UpdateGlobalIndex folds pending profit into the index. With zero supply
// the profit stays pending until the next fold.
func UpdateGlobalIndex(g *model.GlobalLedger) {
	if !g.TotalSupply.IsPositive() || g.ProfitToDistribute.IsZero() {
		return
	}
	perUnit := g.ProfitToDistribute.DivRound(g.TotalSupply, IndexPrecision+6).Truncate(IndexPrecision)
	g.Index = g.Index.Add(perUnit)
	g.AccumulatedProfit = g.AccumulatedProfit.Add(g.ProfitToDistribute)
	g.ProfitToDistribute = decimal.Zero
}

// AddProfit queues profit for the next fold.
func AddProfit(g *model.GlobalLedger, profit decimal.Decimal) error {
	if profit.IsNegative() {
		return fmt.Errorf("%w: profit %s", ErrNegativeAmount, profit)
	}
	g.ProfitToDistribute = g.ProfitToDistribute.Add(profit)
	return nil
}

// IncreaseSupply credits amount to both the account and the total supply.
// The caller must have settled the account first.
func IncreaseSupply(g *model.GlobalLedger, acc *model.UserAccount, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	acc.Deposited = acc.Deposited.Add(amount)
	g.TotalSupply = g.TotalSupply.Add(amount)
	return nil
}

// DecreaseSupply debits amount from both the account and the total supply.
func DecreaseSupply(g *model.GlobalLedger, acc *model.UserAccount, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	if amount.GreaterThan(acc.Deposited) || amount.GreaterThan(g.TotalSupply) {
		return fmt.Errorf("%w: decrease %s, deposited %s, supply %s",
			ErrInsufficientSupply, amount, acc.Deposited, g.TotalSupply)
	}
	acc.Deposited = acc.Deposited.Sub(amount)
	g.TotalSupply = g.TotalSupply.Sub(amount)
	return nil
}

// MaxTokens caps the pool size at bps of the basket value, floored.
func MaxTokens(basketValue decimal.Decimal, bps int64) decimal.Decimal {
	return basketValue.Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(model.BpsDenominator)).
		Floor()
}

// NewAccount returns an empty account for address snapshotted at index, so
// a first deposit never claims profit folded before it.
func NewAccount(address string, index decimal.Decimal) *model.UserAccount {
	return &model.UserAccount{
		Address:       address,
		Deposited:     decimal.Zero,
		Index:         index,
		PendingReward: decimal.Zero,
	}
}

// NewGlobal returns a zeroed ledger.
func NewGlobal() *model.GlobalLedger {
	return &model.GlobalLedger{
		Index:              decimal.Zero,
		ProfitToDistribute: decimal.Zero,
		AccumulatedProfit:  decimal.Zero,
		TotalSupply:        decimal.Zero,
	}
}
