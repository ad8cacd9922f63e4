package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/host/sim"
	"github.com/atmx/auction-pool/internal/model"
)

const market = "0xa508cb32923323679f29a032c70342c147c17d0145625922b0ef22e955c844c0"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newRemote(t *testing.T) (*Client, *sim.Chain) {
	t.Helper()
	chain := sim.New(sim.Options{
		Agent:         "agent",
		AuctionParams: model.AuctionParams{MinNextBidIncrementRate: d("0.01"), AuctionPeriodSecs: 3600},
	})
	chain.SetMarket(model.SpotMarket{
		MarketID: market, BaseDenom: "inj", QuoteDenom: "usdt",
		TakerFeeRate: d("0.001"), MinPriceTickSize: d("0.001"), MinQuantityTickSize: d("1"),
	})
	chain.SetBook(market, nil, []model.PriceLevel{{Price: d("2"), Quantity: d("100")}})

	srv := httptest.NewServer(NewServer(chain).Routes())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 1000), chain
}

func TestClient_Queries(t *testing.T) {
	ctx := context.Background()
	c, chain := newRemote(t)
	chain.FundBasket(model.NewCoin("usdt", 300))
	chain.SetRouterQuote(market, "usdt", d("0.5"))

	basket, err := c.CurrentBasket(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), basket.Round)
	require.Len(t, basket.Basket, 1)
	assert.True(t, basket.Basket[0].Amount.Equal(d("300")))

	m, err := c.SpotMarket(ctx, market)
	require.NoError(t, err)
	assert.Equal(t, "usdt", m.QuoteDenom)

	book, err := c.Orderbook(ctx, market)
	require.NoError(t, err)
	require.Len(t, book.Sells, 1)
	assert.True(t, book.Sells[0].Price.Equal(d("2")))

	out, err := c.SimulateSwap(ctx, "router", market, model.NewCoin("usdt", 300))
	require.NoError(t, err)
	assert.True(t, out.Equal(d("150")))

	now, err := c.BlockTime(ctx)
	require.NoError(t, err)
	want, _ := chain.BlockTime(ctx)
	assert.True(t, now.Equal(want))
}

func TestClient_MapsErrorCodes(t *testing.T) {
	ctx := context.Background()
	c, _ := newRemote(t)

	_, err := c.SpotMarket(ctx, "0xdeadbeef")
	assert.ErrorIs(t, err, host.ErrMarketNotFound)

	_, err = c.LastResult(ctx)
	assert.ErrorIs(t, err, host.ErrLastResultNotFound)

	_, err = c.Begin(ctx, "nobody", []model.Coin{model.NewCoin("inj", 1)})
	assert.ErrorIs(t, err, host.ErrInsufficientFunds)
}

func TestClient_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, chain := newRemote(t)
	chain.Fund("agent", model.NewCoin("usdt", 1000))

	sess, err := c.Begin(ctx, "agent", nil)
	require.NoError(t, err)

	ack, err := sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: "agent", MarketID: market, Side: model.SideBuy,
		Quantity: d("50"), WorstPrice: d("2"),
	})
	require.NoError(t, err)
	var res host.OrderResult
	require.NoError(t, json.Unmarshal(ack.Data, &res))
	assert.True(t, res.Quantity.Equal(d("50")))

	_, err = sess.Dispatch(ctx, host.MarketOrderMsg{
		Sender: "agent", MarketID: market, Side: model.SideBuy,
		Quantity: d("51"), WorstPrice: d("2"),
	})
	assert.ErrorIs(t, err, host.ErrOrderRejected)

	require.NoError(t, sess.Commit(ctx))
	inj, err := chain.Balance(ctx, "agent", "inj")
	require.NoError(t, err)
	assert.True(t, inj.Equal(d("50")))

	assert.ErrorIs(t, sess.Commit(ctx), host.ErrSessionClosed)
}

func TestClient_RetriesQueriesNotSessions(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if gets.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(model.AuctionParams{AuctionPeriodSecs: 60})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 1000)
	ctx := context.Background()

	p, err := c.AuctionParams(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), p.AuctionPeriodSecs)
	assert.Equal(t, int32(2), gets.Load())

	_, err = c.Begin(ctx, "agent", nil)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, int32(1), posts.Load())
}
