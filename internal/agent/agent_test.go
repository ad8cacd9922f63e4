package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/host/sim"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/route"
	"github.com/atmx/auction-pool/internal/store"
	"github.com/atmx/auction-pool/internal/workflow"
)

const (
	self   = "pool-agent"
	admin  = "admin"
	keeper = "keeper"
	alice  = "alice"
	bob    = "bob"
	rival  = "rival"
	market = "0xa508cb32923323679f29a032c70342c147c17d0145625922b0ef22e955c844c0"
	atomID = "0x0611780ba69656949525013d947713300f56c37b6175e02f26bffa495c3208fe"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func inj(n int64) []model.Coin { return []model.Coin{model.NewCoin("inj", n)} }

type recorder struct {
	mu        sync.Mutex
	committed []string
	aborted   []string
}

func (r *recorder) InvocationCommitted(res *Result, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, res.Command)
}

func (r *recorder) InvocationAborted(command string, _ error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, command)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	chain *sim.Chain
	agent *Agent
	obs   *recorder
}

func poolConfig() model.Config {
	return model.Config{
		ReferenceDenom:         "inj",
		Admin:                  admin,
		Router:                 "router",
		BidTimeBufferSecs:      300,
		WithdrawTimeBufferSecs: 600,
		MaxOffsetBps:           10000,
		WinnerRewardBps:        1000,
	}
}

// newFixture boots an agent over a round-1 auction holding 30000 usdt. The
// exchange values it at 14985 inj and the router at 14985 inj.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain := sim.New(sim.Options{
		Agent: self,
		AuctionParams: model.AuctionParams{
			MinNextBidIncrementRate: d("0.01"),
			AuctionPeriodSecs:       3600,
		},
	})
	chain.SetMarket(model.SpotMarket{
		MarketID:            market,
		BaseDenom:           "inj",
		QuoteDenom:          "usdt",
		TakerFeeRate:        d("0.001"),
		MinPriceTickSize:    d("0.001"),
		MinQuantityTickSize: d("1"),
	})
	chain.SetBook(market,
		[]model.PriceLevel{{Price: d("1.9"), Quantity: d("1000")}},
		[]model.PriceLevel{{Price: d("2"), Quantity: d("1000000")}},
	)
	chain.SetRouterQuote(market, "usdt", d("0.4995"))
	chain.FundBasket(model.NewCoin("usdt", 30000))

	obs := &recorder{}
	a, err := New(Options{Address: self, Host: chain, Store: store.NewMemoryStore(), Observers: []Observer{obs}})
	require.NoError(t, err)

	f := &fixture{t: t, ctx: context.Background(), chain: chain, agent: a, obs: obs}
	_, err = a.Bootstrap(f.ctx, poolConfig())
	require.NoError(t, err)
	_, err = a.SetRoute(f.ctx, admin, "usdt", "inj", market)
	require.NoError(t, err)
	return f
}

func (f *fixture) balance(addr, denom string) decimal.Decimal {
	f.t.Helper()
	b, err := f.chain.Balance(f.ctx, addr, denom)
	require.NoError(f.t, err)
	return b
}

func (f *fixture) deposit(addr string, amount int64) {
	f.t.Helper()
	f.chain.Fund(addr, model.NewCoin("inj", amount))
	_, err := f.agent.Deposit(f.ctx, addr, inj(amount))
	require.NoError(f.t, err)
}

func (f *fixture) basket() *model.AuctionBasket {
	f.t.Helper()
	b, err := f.chain.CurrentBasket(f.ctx)
	require.NoError(f.t, err)
	return b
}

// intoBidWindow moves the clock to 200s before the current round closes.
func (f *fixture) intoBidWindow() {
	f.chain.SetTime(time.Unix(f.basket().ClosingTime-200, 0))
}

func (f *fixture) ledger() *model.GlobalLedger {
	f.t.Helper()
	g, err := f.agent.State(f.ctx)
	require.NoError(f.t, err)
	return g
}

// winRound deposits 5000 from alice and bob, outbids a 9000 rival bid and
// closes round 1 with the agent as winner.
func (f *fixture) winRound() {
	f.t.Helper()
	f.deposit(alice, 5000)
	f.deposit(bob, 5000)
	require.NoError(f.t, f.chain.RivalBid(rival, d("9000")))
	f.intoBidWindow()

	res, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(f.t, err)
	require.Equal(f.t, "9090", res.Attributes["min_bid_size"])

	result, err := f.chain.EndRound()
	require.NoError(f.t, err)
	require.Equal(f.t, self, result.Winner)
}

func TestFullRound_DistributesProfitProRata(t *testing.T) {
	f := newFixture(t)
	f.winRound()

	res, err := f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)

	assert.Equal(t, "win", res.Attributes["result"])
	assert.Equal(t, "30000", res.Attributes["swap_out::usdt"])
	assert.Equal(t, "14985", res.Attributes["received::inj"])
	assert.Equal(t, "14985", res.Attributes["received_from_basket_sell"])
	assert.Equal(t, "5895", res.Attributes["profit"])
	assert.Equal(t, "5306", res.Attributes["pool_profit"])
	assert.Equal(t, "589", res.Attributes["reward"])
	assert.Equal(t, 3, res.Steps, "order, finalize, winner payout")
	require.Len(t, res.Events, 2)
	assert.Equal(t, keeper, res.Events[1].Attributes["winning_bidder"])

	g := f.ledger()
	assert.True(t, g.Index.Equal(d("0.5306")), "index %s", g.Index)
	assert.True(t, g.AccumulatedProfit.Equal(d("5306")))
	assert.True(t, g.ProfitToDistribute.IsZero())
	assert.True(t, f.balance(keeper, "inj").Equal(d("589")))

	for _, addr := range []string{alice, bob} {
		acc, err := f.agent.User(f.ctx, addr)
		require.NoError(t, err)
		assert.True(t, acc.PendingReward.Equal(d("2653")), "%s pending %s", addr, acc.PendingReward)
	}

	for _, addr := range []string{alice, bob} {
		res, err := f.agent.Withdraw(f.ctx, addr, d("5000"))
		require.NoError(t, err)
		assert.Equal(t, "2653", res.Attributes["rewards"])
		assert.True(t, f.balance(addr, "inj").Equal(d("7653")))
	}
	assert.True(t, f.balance(self, "inj").IsZero(), "pool fully paid out")
	assert.True(t, f.ledger().TotalSupply.IsZero())

	_, err = f.agent.User(f.ctx, alice)
	assert.ErrorIs(t, err, ErrAccountNotFound, "emptied account is deleted")
}

func TestSettle_SecondCallFindsNoAttempt(t *testing.T) {
	f := newFixture(t)
	f.winRound()

	_, err := f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)
	_, err = f.agent.Settle(f.ctx, keeper)
	assert.ErrorIs(t, err, ErrBidAttemptNotFound)
}

func TestSettle_SelfSubmittedKeepsFullProfit(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, self, 1)
	require.NoError(t, err)
	_, err = f.chain.EndRound()
	require.NoError(t, err)

	res, err := f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)
	// Bid was 1 with no rival: profit 14984, no winner reward.
	assert.Equal(t, "0", res.Attributes["reward"])
	assert.Equal(t, "14984", res.Attributes["profit"])
	assert.Equal(t, "14984", res.Attributes["pool_profit"])
	assert.Equal(t, 2, res.Steps)
}

func TestSettle_ZeroSupplyKeepsProfitPending(t *testing.T) {
	f := newFixture(t)
	f.chain.Fund(self, model.NewCoin("inj", 10000))
	require.NoError(t, f.chain.RivalBid(rival, d("9000")))
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)
	_, err = f.chain.EndRound()
	require.NoError(t, err)

	_, err = f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)

	g := f.ledger()
	assert.True(t, g.ProfitToDistribute.Equal(d("5306")))
	assert.True(t, g.Index.IsZero())
	assert.True(t, g.AccumulatedProfit.IsZero())
}

func TestSettle_LossPaysNothing(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)
	require.NoError(t, f.chain.RivalBid(rival, d("9000")))
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)
	require.NoError(t, f.chain.RivalBid(rival, d("9181")))
	_, err = f.chain.EndRound()
	require.NoError(t, err)

	res, err := f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)
	assert.Equal(t, "loss", res.Attributes["result"])
	assert.Equal(t, "", res.Events[1].Attributes["winning_bidder"])
	assert.Equal(t, 0, res.Steps)

	g := f.ledger()
	assert.True(t, g.Index.IsZero())
	assert.True(t, f.balance(self, "inj").Equal(d("10000")), "outbid refund returned")

	status, err := f.agent.BidStatus(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, status.Phase)
}

func TestSettle_RoundNotFinished(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)

	_, err = f.agent.Settle(f.ctx, keeper)
	assert.ErrorIs(t, err, ErrBidAttemptRoundNotFinished)

	status, err := f.agent.BidStatus(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseBidConfirmed, status.Phase)
	assert.True(t, status.Leading)
}

func TestSettle_LiquidityFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.winRound()
	f.chain.SetBook(market, nil, []model.PriceLevel{{Price: d("2"), Quantity: d("10")}})

	_, err := f.agent.Settle(f.ctx, keeper)
	require.Error(t, err)
	assert.Equal(t, ClassPrecondition, Classify(err))

	status, err := f.agent.BidStatus(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSettlementPending, status.Phase, "attempt survives the aborted settle")
	assert.True(t, f.balance(self, "usdt").Equal(d("30000")))
}

func TestPlaceBid_Guards(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)

	_, err := f.agent.PlaceBid(f.ctx, keeper, 2)
	assert.ErrorIs(t, err, ErrWrongRound)

	_, err = f.agent.PlaceBid(f.ctx, keeper, 1)
	assert.ErrorIs(t, err, ErrNotInBidTime)

	f.intoBidWindow()
	require.NoError(t, f.chain.RivalBid(rival, d("20000")))
	_, err = f.agent.PlaceBid(f.ctx, keeper, 1)
	assert.ErrorIs(t, err, ErrMinBidTooHigh)

	assert.Equal(t, []string{CmdPlaceBid, CmdPlaceBid, CmdPlaceBid}, f.obs.aborted)
}

func TestPlaceBid_AlreadyHighestAndUnsettled(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)

	_, err = f.agent.PlaceBid(f.ctx, keeper, 1)
	assert.ErrorIs(t, err, ErrAlreadyHighestBidder)

	_, err = f.chain.EndRound()
	require.NoError(t, err)
	_, err = f.agent.PlaceBid(f.ctx, keeper, 2)
	assert.ErrorIs(t, err, ErrUnsettledPreviousBid)
}

func TestPlaceBid_AuctionRejectionRollsBack(t *testing.T) {
	f := newFixture(t)
	// No deposits: the agent cannot fund the bid.
	require.NoError(t, f.chain.RivalBid(rival, d("9000")))
	f.intoBidWindow()

	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, workflow.ErrSubMsgFailure)
	assert.ErrorIs(t, err, host.ErrInsufficientFunds)
	assert.Equal(t, ClassSubOperation, Classify(err))

	status, err := f.agent.BidStatus(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, status.Phase)
	assert.Equal(t, rival, f.basket().HighestBidder)
}

func TestClearCurrentBid(t *testing.T) {
	f := newFixture(t)
	_, err := f.agent.ClearCurrentBid(f.ctx, keeper)
	assert.ErrorIs(t, err, ErrBidAttemptNotFound)

	f.deposit(alice, 10000)
	f.intoBidWindow()
	_, err = f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)

	_, err = f.agent.ClearCurrentBid(f.ctx, keeper)
	assert.ErrorIs(t, err, ErrAlreadyHighestBidder)

	require.NoError(t, f.chain.RivalBid(rival, d("100")))
	_, err = f.agent.ClearCurrentBid(f.ctx, keeper)
	require.NoError(t, err)

	status, err := f.agent.BidStatus(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseIdle, status.Phase)
}

func TestClearCurrentBid_AfterRoundEndsMustSettle(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 10000)
	f.intoBidWindow()
	_, err := f.agent.PlaceBid(f.ctx, keeper, 1)
	require.NoError(t, err)
	_, err = f.chain.EndRound()
	require.NoError(t, err)

	_, err = f.agent.ClearCurrentBid(f.ctx, keeper)
	assert.ErrorIs(t, err, ErrBidAttemptRoundNotFinished)
}

func TestDeposit_Guards(t *testing.T) {
	f := newFixture(t)
	f.chain.Fund(alice, model.NewCoin("inj", 20000))
	f.chain.Fund(alice, model.NewCoin("usdt", 100))

	_, err := f.agent.Deposit(f.ctx, alice, []model.Coin{model.NewCoin("usdt", 100)})
	assert.ErrorIs(t, err, ErrInvalidDenom)

	_, err = f.agent.Deposit(f.ctx, alice, []model.Coin{model.NewCoin("inj", 1), model.NewCoin("usdt", 1)})
	assert.ErrorIs(t, err, ErrInvalidDenom)

	_, err = f.agent.Deposit(f.ctx, alice, nil)
	assert.ErrorIs(t, err, ErrInvalidDenom)

	_, err = f.agent.Deposit(f.ctx, alice, inj(14986))
	assert.ErrorIs(t, err, ErrMaxTokensExceeded)
	assert.True(t, f.balance(alice, "inj").Equal(d("20000")), "rejected funds stay with the sender")

	_, err = f.agent.Deposit(f.ctx, alice, inj(14985))
	require.NoError(t, err)

	room, err := f.agent.MaxDeposit(f.ctx)
	require.NoError(t, err)
	assert.True(t, room.MaxTokens.Equal(d("14985")))
	assert.True(t, room.Available.IsZero())
}

func TestWithdraw_Guards(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 5000)

	_, err := f.agent.Withdraw(f.ctx, alice, d("5001"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.agent.Withdraw(f.ctx, bob, d("1"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = f.agent.Withdraw(f.ctx, alice, d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	f.chain.SetTime(time.Unix(f.basket().ClosingTime-300, 0))
	_, err = f.agent.Withdraw(f.ctx, alice, d("1000"))
	assert.ErrorIs(t, err, ErrNotInWithdrawTime)
	assert.Contains(t, err.Error(), "buffer is 10 minutes, 5 minutes to close")

	f.chain.SetTime(time.Unix(f.basket().ClosingTime-600, 0))
	res, err := f.agent.Withdraw(f.ctx, alice, d("1000"))
	require.NoError(t, err)
	assert.Equal(t, "1000", res.Attributes["amount"])

	acc, err := f.agent.User(f.ctx, alice)
	require.NoError(t, err)
	assert.True(t, acc.Deposited.Equal(d("4000")))
}

func TestHarvest_PaysOnce(t *testing.T) {
	f := newFixture(t)
	f.winRound()
	_, err := f.agent.Settle(f.ctx, keeper)
	require.NoError(t, err)

	res, err := f.agent.Harvest(f.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "2653", res.Attributes["rewards"])

	res, err = f.agent.Harvest(f.ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "0", res.Attributes["rewards"])
	assert.True(t, f.balance(alice, "inj").Equal(d("2653")))

	acc, err := f.agent.User(f.ctx, alice)
	require.NoError(t, err)
	assert.True(t, acc.Deposited.Equal(d("5000")), "stake untouched")
	assert.True(t, acc.PendingReward.IsZero())

	_, err = f.agent.Harvest(f.ctx, "nobody")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSupplyMatchesDeposits(t *testing.T) {
	f := newFixture(t)
	f.deposit(alice, 3000)
	f.deposit(bob, 4000)
	f.deposit(alice, 2000)
	_, err := f.agent.Withdraw(f.ctx, bob, d("1500"))
	require.NoError(t, err)
	_, err = f.agent.Withdraw(f.ctx, alice, d("5000"))
	require.NoError(t, err)
	f.deposit("carol", 700)

	accs, err := f.agent.Accounts(f.ctx)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, acc := range accs {
		sum = sum.Add(acc.Deposited)
	}
	assert.True(t, f.ledger().TotalSupply.Equal(sum), "supply %s, sum %s", f.ledger().TotalSupply, sum)
	assert.True(t, sum.Equal(d("3200")))
	require.Len(t, accs, 2)
	assert.Equal(t, bob, accs[0].Address)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	f.chain.SetMarket(model.SpotMarket{
		MarketID: atomID, BaseDenom: "atom", QuoteDenom: "usdt",
		TakerFeeRate: d("0.001"), MinPriceTickSize: d("0.001"), MinQuantityTickSize: d("1"),
	})

	_, err := f.agent.SetRoute(f.ctx, admin, "inj", "usdt", market)
	assert.ErrorIs(t, err, route.ErrExists, "reverse direction is the same route")

	_, err = f.agent.SetRoute(f.ctx, admin, "inj", "inj", market)
	assert.ErrorIs(t, err, route.ErrSameDenom)

	_, err = f.agent.SetRoute(f.ctx, admin, "atom", "inj", "0x1234")
	assert.ErrorIs(t, err, route.ErrInvalidMarketID)

	_, err = f.agent.SetRoute(f.ctx, admin, "atom", "inj", atomID)
	assert.ErrorIs(t, err, route.ErrDenomMismatch)

	_, err = f.agent.SetRoute(f.ctx, admin, "atom", "inj", "0x"+"ab"+market[4:])
	assert.ErrorIs(t, err, host.ErrMarketNotFound)

	_, err = f.agent.SetRoute(f.ctx, alice, "atom", "usdt", atomID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.agent.SetRoute(f.ctx, admin, "atom", "usdt", atomID)
	require.NoError(t, err)
	routes, err := f.agent.Routes(f.ctx)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, atomID, routes[0].MarketID)

	_, err = f.agent.DeleteRoute(f.ctx, admin, "inj", "usdt")
	require.NoError(t, err)
	_, err = f.agent.DeleteRoute(f.ctx, admin, "usdt", "inj")
	assert.ErrorIs(t, err, route.ErrNotFound)

	value, err := f.agent.ExchangeValue(f.ctx)
	require.NoError(t, err)
	assert.True(t, value.IsZero(), "unrouted basket is worth nothing")

	_, err = f.agent.SetRoute(f.ctx, admin, "inj", "usdt", market)
	require.NoError(t, err)
	value, err = f.agent.ExchangeValue(f.ctx)
	require.NoError(t, err)
	assert.True(t, value.Equal(d("14985")))
}

func TestManualSwap(t *testing.T) {
	f := newFixture(t)
	f.chain.Fund(self, model.NewCoin("usdt", 1000))

	_, err := f.agent.ManualSwap(f.ctx, alice, d("1000"), market, "usdt")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.agent.ManualSwap(f.ctx, admin, d("1000"), market, "inj")
	assert.ErrorIs(t, err, ErrCannotManuallySwap)

	res, err := f.agent.ManualSwap(f.ctx, admin, d("1000"), market, "usdt")
	require.NoError(t, err)
	assert.Equal(t, "499", res.Attributes["received::inj"])
	assert.True(t, f.balance(self, "inj").Equal(d("499")))
	assert.True(t, f.ledger().ProfitToDistribute.IsZero(), "manual proceeds are not distributed")
}

func TestUpdateConfig(t *testing.T) {
	f := newFixture(t)
	cfg := poolConfig()
	cfg.WinnerRewardBps = 500

	_, err := f.agent.UpdateConfig(f.ctx, alice, cfg)
	assert.ErrorIs(t, err, ErrUnauthorized)

	bad := cfg
	bad.MaxOffsetBps = 20000
	_, err = f.agent.UpdateConfig(f.ctx, admin, bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = f.agent.UpdateConfig(f.ctx, admin, cfg)
	require.NoError(t, err)
	got, err := f.agent.Config(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.WinnerRewardBps)
	assert.Equal(t, model.SubaccountID(self), got.Subaccount)
}

func TestBootstrap(t *testing.T) {
	chain := sim.New(sim.Options{Agent: self})
	a, err := New(Options{Address: self, Host: chain, Store: store.NewMemoryStore()})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Deposit(ctx, alice, nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, ClassNotFound, Classify(err))

	_, err = a.Bootstrap(ctx, poolConfig())
	require.NoError(t, err)
	_, err = a.Bootstrap(ctx, poolConfig())
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	_, err = New(Options{Address: self, Host: chain, Store: store.NewMemoryStore(), BidValuation: "oracle"})
	assert.Error(t, err)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)

	value, err := f.agent.RouterValue(f.ctx)
	require.NoError(t, err)
	assert.True(t, value.Equal(d("14985")))

	f.chain.SetRouterDown(true)
	value, err = f.agent.RouterValue(f.ctx)
	require.NoError(t, err)
	assert.True(t, value.IsZero(), "router failures value assets at zero")

	q, err := f.agent.SimulateSwap(f.ctx, d("100"), market, "inj")
	require.NoError(t, err)
	assert.Equal(t, model.SideSell, q.Side)
	assert.True(t, q.Output.Equal(d("189")), "output %s", q.Output)

	_, err = f.agent.SimulateSwap(f.ctx, d("100"), market, "atom")
	assert.Error(t, err)

	basket, err := f.agent.CurrentBasket(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), basket.Round)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{ErrUnauthorized, ClassAuthorization},
		{route.ErrSameDenom, ClassValidation},
		{ErrAccountNotFound, ClassNotFound},
		{ErrMinBidTooHigh, ClassPrecondition},
		{workflow.ErrSubMsgFailure, ClassSubOperation},
		{workflow.ErrUnknownContinuation, ClassInternal},
		{context.Canceled, ClassInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}
