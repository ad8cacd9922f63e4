package reward

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUpdateUserReward_Floors(t *testing.T) {
	acc := &model.UserAccount{Deposited: d("3"), Index: d("0"), PendingReward: d("0")}

	UpdateUserReward(acc, d("0.5"))

	// 3 * 0.5 = 1.5, floored.
	if !acc.PendingReward.Equal(d("1")) {
		t.Errorf("expected pending 1, got %s", acc.PendingReward)
	}
	if !acc.Index.Equal(d("0.5")) {
		t.Errorf("expected index snapshot 0.5, got %s", acc.Index)
	}

	// Re-settling at the same index is a no-op.
	UpdateUserReward(acc, d("0.5"))
	if !acc.PendingReward.Equal(d("1")) {
		t.Errorf("re-settle changed pending to %s", acc.PendingReward)
	}
}

func TestUpdateGlobalIndex_Accumulates(t *testing.T) {
	g := NewGlobal()
	g.TotalSupply = d("10000")

	_ = AddProfit(g, d("5306"))
	UpdateGlobalIndex(g)
	if !g.Index.Equal(d("0.5306")) {
		t.Errorf("expected index 0.5306, got %s", g.Index)
	}
	if !g.ProfitToDistribute.IsZero() {
		t.Errorf("profit_to_distribute should be zero after fold, got %s", g.ProfitToDistribute)
	}

	_ = AddProfit(g, d("1000"))
	UpdateGlobalIndex(g)
	if !g.Index.Equal(d("0.6306")) {
		t.Errorf("expected cumulative index 0.6306, got %s", g.Index)
	}
	if !g.AccumulatedProfit.Equal(d("6306")) {
		t.Errorf("expected accumulated 6306, got %s", g.AccumulatedProfit)
	}
}

func TestUpdateGlobalIndex_ZeroSupplyKeepsProfitPending(t *testing.T) {
	g := NewGlobal()
	_ = AddProfit(g, d("42"))

	UpdateGlobalIndex(g)

	if !g.ProfitToDistribute.Equal(d("42")) {
		t.Errorf("expected profit to stay pending, got %s", g.ProfitToDistribute)
	}
	if !g.Index.IsZero() || !g.AccumulatedProfit.IsZero() {
		t.Errorf("index/accumulated should not move: %s / %s", g.Index, g.AccumulatedProfit)
	}

	g.TotalSupply = d("7")
	UpdateGlobalIndex(g)
	if !g.ProfitToDistribute.IsZero() {
		t.Errorf("expected fold once supply is nonzero, got %s", g.ProfitToDistribute)
	}
	if !g.Index.Equal(d("6")) {
		t.Errorf("expected index 6, got %s", g.Index)
	}
}

func TestUpdateGlobalIndex_TruncatesIndex(t *testing.T) {
	g := NewGlobal()
	g.TotalSupply = d("3")
	_ = AddProfit(g, d("1"))

	UpdateGlobalIndex(g)

	if g.Index.Exponent() < -IndexPrecision {
		t.Errorf("index carries more than %d digits: %s", IndexPrecision, g.Index)
	}
	if !g.Index.Equal(d("0.333333333333333333")) {
		t.Errorf("unexpected index %s", g.Index)
	}
}

func TestProRataDistribution(t *testing.T) {
	g := NewGlobal()
	alice := NewAccount("alice", g.Index)
	bob := NewAccount("bob", g.Index)

	UpdateUserReward(alice, g.Index)
	_ = IncreaseSupply(g, alice, d("5000"))
	UpdateUserReward(bob, g.Index)
	_ = IncreaseSupply(g, bob, d("5000"))

	_ = AddProfit(g, d("5306"))
	UpdateGlobalIndex(g)

	UpdateUserReward(alice, g.Index)
	UpdateUserReward(bob, g.Index)
	if !alice.PendingReward.Equal(d("2653")) || !bob.PendingReward.Equal(d("2653")) {
		t.Errorf("expected 2653 each, got %s / %s", alice.PendingReward, bob.PendingReward)
	}
}

func TestLateDepositorDoesNotClaimEarlierProfit(t *testing.T) {
	g := NewGlobal()
	alice := NewAccount("alice", g.Index)
	_ = IncreaseSupply(g, alice, d("100"))

	_ = AddProfit(g, d("50"))
	UpdateGlobalIndex(g)

	bob := NewAccount("bob", g.Index)
	UpdateUserReward(bob, g.Index)
	_ = IncreaseSupply(g, bob, d("100"))

	UpdateUserReward(bob, g.Index)
	if !bob.PendingReward.IsZero() {
		t.Errorf("late depositor accrued %s", bob.PendingReward)
	}
	UpdateUserReward(alice, g.Index)
	if !alice.PendingReward.Equal(d("50")) {
		t.Errorf("expected alice 50, got %s", alice.PendingReward)
	}
}

func TestDecreaseSupply(t *testing.T) {
	g := NewGlobal()
	acc := NewAccount("a", g.Index)
	_ = IncreaseSupply(g, acc, d("10"))

	if err := DecreaseSupply(g, acc, d("11")); !errors.Is(err, ErrInsufficientSupply) {
		t.Errorf("expected ErrInsufficientSupply, got %v", err)
	}
	if err := DecreaseSupply(g, acc, d("4")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !acc.Deposited.Equal(d("6")) || !g.TotalSupply.Equal(d("6")) {
		t.Errorf("expected 6/6, got %s/%s", acc.Deposited, g.TotalSupply)
	}
	if err := IncreaseSupply(g, acc, d("-1")); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("expected ErrNegativeAmount, got %v", err)
	}
}

func TestMaxTokens(t *testing.T) {
	tests := []struct {
		value string
		bps   int64
		want  string
	}{
		{"14985", 10000, "14985"},
		{"14985", 5000, "7492"},
		{"1", 9999, "0"},
		{"0", 10000, "0"},
	}
	for _, tt := range tests {
		got := MaxTokens(d(tt.value), tt.bps)
		if !got.Equal(d(tt.want)) {
			t.Errorf("MaxTokens(%s, %d) = %s, want %s", tt.value, tt.bps, got, tt.want)
		}
	}
}
