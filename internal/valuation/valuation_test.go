package valuation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host/sim"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
	"github.com/atmx/auction-pool/internal/route"
)

const market = "0xa508cb32923323679f29a032c70342c147c17d0145625922b0ef22e955c844c0"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type routeMap map[route.Key]model.SwapRoute

func (m routeMap) Route(_ context.Context, k route.Key) (*model.SwapRoute, error) {
	r, ok := m[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", route.ErrNotFound, k)
	}
	return &r, nil
}

type failingRoutes struct{}

func (failingRoutes) Route(context.Context, route.Key) (*model.SwapRoute, error) {
	return nil, errors.New("db down")
}

func newChain() *sim.Chain {
	c := sim.New(sim.Options{Agent: "agent"})
	c.SetMarket(model.SpotMarket{
		MarketID:            market,
		BaseDenom:           "inj",
		QuoteDenom:          "usdt",
		TakerFeeRate:        d("0.001"),
		MinPriceTickSize:    d("0.001"),
		MinQuantityTickSize: d("1"),
	})
	c.SetBook(market, nil, []model.PriceLevel{{Price: d("2"), Quantity: d("1000000")}})
	c.SetRouterQuote(market, "usdt", d("0.4995"))
	return c
}

func routes() routeMap {
	return routeMap{
		route.MustKey("inj", "usdt"): {MarketID: market, SourceDenom: "usdt", TargetDenom: "inj"},
	}
}

var basket = []model.Coin{
	model.NewCoin("usdt", 30000),
	model.NewCoin("inj", 100),
	model.NewCoin("atom", 5), // no route
}

func TestExchange_Value(t *testing.T) {
	s := &Exchange{Host: newChain()}
	v, err := s.Value(context.Background(), routes(), "inj", basket)
	if err != nil {
		t.Fatal(err)
	}
	// 30000 * (1 - 0.001) / 2 = 14985, plus 100 inj at face value.
	if !v.Equal(d("15085")) {
		t.Errorf("value = %s, want 15085", v)
	}
}

func TestExchange_NotEnoughLiquidity(t *testing.T) {
	c := newChain()
	c.SetBook(market, nil, []model.PriceLevel{{Price: d("2"), Quantity: d("10")}})
	s := &Exchange{Host: c}

	_, err := s.Value(context.Background(), routes(), "inj", basket)
	if !errors.Is(err, orderbook.ErrNotEnoughLiquidity) {
		t.Errorf("err = %v, want ErrNotEnoughLiquidity", err)
	}
}

func TestRouter_Value(t *testing.T) {
	s := &Router{Host: newChain(), Address: "router"}
	v, err := s.Value(context.Background(), routes(), "inj", basket)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(d("15085")) {
		t.Errorf("value = %s, want 15085", v)
	}
}

func TestRouter_FailureValuesAtZero(t *testing.T) {
	c := newChain()
	c.SetRouterDown(true)
	s := &Router{Host: c, Address: "router"}

	v, err := s.Value(context.Background(), routes(), "inj", basket)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Equal(d("100")) {
		t.Errorf("value = %s, want 100 (reference only)", v)
	}
}

func TestValue_ReferenceOnlyNeedsNoRoutes(t *testing.T) {
	for _, s := range []Strategy{&Exchange{Host: newChain()}, &Router{Host: newChain()}} {
		v, err := s.Value(context.Background(), routeMap{}, "inj", []model.Coin{model.NewCoin("inj", 7)})
		if err != nil {
			t.Fatalf("%s: %v", s.Name(), err)
		}
		if !v.Equal(d("7")) {
			t.Errorf("%s: value = %s, want 7", s.Name(), v)
		}
	}
}

func TestValue_RouteLookupErrorPropagates(t *testing.T) {
	for _, s := range []Strategy{&Exchange{Host: newChain()}, &Router{Host: newChain()}} {
		if _, err := s.Value(context.Background(), failingRoutes{}, "inj", basket); err == nil {
			t.Errorf("%s: expected error", s.Name())
		}
	}
}

func TestNew(t *testing.T) {
	c := newChain()
	for _, name := range []string{NameExchange, NameRouter} {
		s, err := New(name, c, "router")
		if err != nil {
			t.Fatal(err)
		}
		if s.Name() != name {
			t.Errorf("Name() = %s, want %s", s.Name(), name)
		}
	}
	if _, err := New("oracle", c, ""); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestQuote_SellSide(t *testing.T) {
	c := newChain()
	c.SetBook(market, []model.PriceLevel{{Price: d("1.9"), Quantity: d("1000")}}, nil)

	q, m, err := Quote(context.Background(), c, market, model.NewCoin("inj", 100))
	if err != nil {
		t.Fatal(err)
	}
	if m.BaseDenom != "inj" || q.Side != model.SideSell {
		t.Fatalf("side = %s, base = %s", q.Side, m.BaseDenom)
	}
	// 190 * 0.999 = 189.81, floored.
	if !q.Output.Equal(d("189")) {
		t.Errorf("output = %s, want 189", q.Output)
	}
}
