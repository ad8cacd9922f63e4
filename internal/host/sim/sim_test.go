package sim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
)

const (
	agent  = "pool-agent"
	market = "0xa508cb32923323679f29a032c70342c147c17d0145625922b0ef22e955c844c0"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newChain(t *testing.T) *Chain {
	t.Helper()
	c := New(Options{
		Agent: agent,
		AuctionParams: model.AuctionParams{
			MinNextBidIncrementRate: d("0.01"),
			AuctionPeriodSecs:       3600,
		},
	})
	c.SetMarket(model.SpotMarket{
		MarketID:            market,
		BaseDenom:           "inj",
		QuoteDenom:          "usdt",
		TakerFeeRate:        d("0.001"),
		MinPriceTickSize:    d("0.001"),
		MinQuantityTickSize: d("1"),
	})
	c.SetBook(market,
		[]model.PriceLevel{{Price: d("1.9"), Quantity: d("1000")}},
		[]model.PriceLevel{{Price: d("2"), Quantity: d("1000")}},
	)
	return c
}

func balance(t *testing.T, c *Chain, addr, denom string) decimal.Decimal {
	t.Helper()
	b, err := c.Balance(context.Background(), addr, denom)
	require.NoError(t, err)
	return b
}

func TestSession_RollbackDiscardsEffects(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.Fund("alice", model.NewCoin("inj", 100))

	sess, err := c.Begin(ctx, "alice", []model.Coin{model.NewCoin("inj", 40)})
	require.NoError(t, err)
	require.NoError(t, sess.Rollback(ctx))

	assert.True(t, balance(t, c, "alice", "inj").Equal(d("100")))
	assert.True(t, balance(t, c, agent, "inj").IsZero())

	_, err = sess.Dispatch(ctx, host.BankSendMsg{From: agent, To: "bob"})
	assert.ErrorIs(t, err, host.ErrSessionClosed)
}

func TestSession_CommitAppliesFundsAndMessages(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.Fund("alice", model.NewCoin("inj", 100))

	sess, err := c.Begin(ctx, "alice", []model.Coin{model.NewCoin("inj", 40)})
	require.NoError(t, err)
	_, err = sess.Dispatch(ctx, host.BankSendMsg{From: agent, To: "bob", Amount: []model.Coin{model.NewCoin("inj", 15)}})
	require.NoError(t, err)

	// Not visible before commit.
	assert.True(t, balance(t, c, "bob", "inj").IsZero())

	require.NoError(t, sess.Commit(ctx))
	assert.True(t, balance(t, c, "alice", "inj").Equal(d("60")))
	assert.True(t, balance(t, c, agent, "inj").Equal(d("25")))
	assert.True(t, balance(t, c, "bob", "inj").Equal(d("15")))
}

func TestBegin_InsufficientFunds(t *testing.T) {
	c := newChain(t)
	_, err := c.Begin(context.Background(), "alice", []model.Coin{model.NewCoin("inj", 1)})
	assert.ErrorIs(t, err, host.ErrInsufficientFunds)
}

func TestSession_StaleCommitFails(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)

	sess, err := c.Begin(ctx, "alice", nil)
	require.NoError(t, err)
	c.Advance(time.Second)

	assert.ErrorIs(t, sess.Commit(ctx), host.ErrStaleSession)
}

func TestBid_RefundsPreviousBidder(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	require.NoError(t, c.RivalBid("rival", d("100")))
	c.Fund(agent, model.NewCoin("inj", 500))

	sess, err := c.Begin(ctx, agent, nil)
	require.NoError(t, err)
	_, err = sess.Dispatch(ctx, host.BidMsg{Sender: agent, Round: 1, Amount: model.NewCoin("inj", 101)})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	basket, err := c.CurrentBasket(ctx)
	require.NoError(t, err)
	assert.Equal(t, agent, basket.HighestBidder)
	assert.True(t, basket.HighestBid.Equal(d("101")))
	assert.True(t, balance(t, c, "rival", "inj").Equal(d("100")))
	assert.True(t, balance(t, c, AuctionModule, "inj").Equal(d("101")))
}

func TestBid_Rejections(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	require.NoError(t, c.RivalBid("rival", d("100")))
	c.Fund(agent, model.NewCoin("inj", 500))

	tests := []struct {
		name string
		msg  host.BidMsg
	}{
		{"wrong round", host.BidMsg{Sender: agent, Round: 2, Amount: model.NewCoin("inj", 200)}},
		{"below increment", host.BidMsg{Sender: agent, Round: 1, Amount: model.NewCoin("inj", 100)}},
		{"wrong denom", host.BidMsg{Sender: agent, Round: 1, Amount: model.NewCoin("usdt", 200)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := c.Begin(ctx, agent, nil)
			require.NoError(t, err)
			defer sess.Rollback(ctx)
			_, err = sess.Dispatch(ctx, tt.msg)
			assert.ErrorIs(t, err, host.ErrBidRejected)
		})
	}
}

func TestMarketOrder_BuyDebitsCostPlusFee(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.Fund(agent, model.NewCoin("usdt", 1000))

	sess, err := c.Begin(ctx, agent, nil)
	require.NoError(t, err)
	ack, err := sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: agent, MarketID: market, Side: model.SideBuy,
		Quantity: d("499"), WorstPrice: d("2"),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	var res host.OrderResult
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.True(t, res.Quantity.Equal(d("499")))
	assert.True(t, res.Price.Equal(d("2")))

	// 998 notional + 0.998 fee, rounded up.
	assert.True(t, balance(t, c, agent, "usdt").Equal(d("1")), "usdt left: %s", balance(t, c, agent, "usdt"))
	assert.True(t, balance(t, c, agent, "inj").Equal(d("499")))

	book, err := c.Orderbook(ctx, market)
	require.NoError(t, err)
	assert.True(t, book.Sells[0].Quantity.Equal(d("501")))
}

func TestMarketOrder_SellCreditsNotionalMinusFee(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.Fund(agent, model.NewCoin("inj", 100))

	sess, err := c.Begin(ctx, agent, nil)
	require.NoError(t, err)
	_, err = sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: agent, MarketID: market, Side: model.SideSell,
		Quantity: d("100"), WorstPrice: d("1.9"),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Commit(ctx))

	// 190 - 0.19, floored.
	assert.True(t, balance(t, c, agent, "usdt").Equal(d("189")))
	assert.True(t, balance(t, c, agent, "inj").IsZero())
}

func TestMarketOrder_FillOrKill(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.Fund(agent, model.NewCoin("usdt", 10000))

	sess, err := c.Begin(ctx, agent, nil)
	require.NoError(t, err)
	defer sess.Rollback(ctx)

	_, err = sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: agent, MarketID: market, Side: model.SideBuy,
		Quantity: d("1001"), WorstPrice: d("2"),
	})
	assert.ErrorIs(t, err, host.ErrOrderRejected)

	_, err = sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: agent, MarketID: market, Side: model.SideBuy,
		Quantity: d("10"), WorstPrice: d("1.99"),
	})
	assert.ErrorIs(t, err, host.ErrOrderRejected)
}

func TestEndRound_WinnerReceivesBasket(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.FundBasket(model.NewCoin("usdt", 300))
	c.FundBasket(model.NewCoin("usdt", 200))
	require.NoError(t, c.RivalBid("rival", d("50")))

	res, err := c.EndRound()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.Round)
	assert.Equal(t, "rival", res.Winner)

	assert.True(t, balance(t, c, "rival", "usdt").Equal(d("500")))
	assert.True(t, balance(t, c, AuctionModule, "inj").IsZero())

	basket, err := c.CurrentBasket(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), basket.Round)
	assert.Empty(t, basket.Basket)
	assert.Empty(t, basket.HighestBidder)

	last, err := c.LastResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, "rival", last.Winner)
}

func TestLastResult_NotFoundBeforeFirstRound(t *testing.T) {
	c := newChain(t)
	_, err := c.LastResult(context.Background())
	assert.ErrorIs(t, err, host.ErrLastResultNotFound)
}

func TestSimulateSwap(t *testing.T) {
	ctx := context.Background()
	c := newChain(t)
	c.SetRouterQuote(market, "usdt", d("0.4995"))

	out, err := c.SimulateSwap(ctx, "router", market, model.NewCoin("usdt", 30000))
	require.NoError(t, err)
	assert.True(t, out.Equal(d("14985")))

	_, err = c.SimulateSwap(ctx, "router", market, model.NewCoin("atom", 1))
	assert.ErrorIs(t, err, host.ErrNoQuote)

	c.SetRouterDown(true)
	_, err = c.SimulateSwap(ctx, "router", market, model.NewCoin("usdt", 1))
	assert.Error(t, err)
}
