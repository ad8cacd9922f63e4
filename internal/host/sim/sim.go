// Package sim is a deterministic in-memory host: one auction, spot markets
// with atomic market-order execution, router quotes, a bank and a settable
// block clock.
//
// Sessions run against a private copy of the chain state and swap it in on
// Commit. A commit fails with host.ErrStaleSession if the chain moved since
// the session began, so callers must serialize invocations.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
)

// AuctionModule holds the basket and escrowed bids.
const AuctionModule = "auction-module"

// Options configures a new Chain.
type Options struct {
	Agent          string
	BidDenom       string // defaults to "inj"
	Start          time.Time
	AuctionParams  model.AuctionParams
	ExchangeParams model.ExchangeParams
}

// Chain implements host.Host.
type Chain struct {
	mu      sync.Mutex
	agent   string
	st      *state
	version uint64
}

var _ host.Host = (*Chain)(nil)

// New creates a chain at round 1, closing one auction period after Start.
func New(opts Options) *Chain {
	if opts.BidDenom == "" {
		opts.BidDenom = "inj"
	}
	if opts.Start.IsZero() {
		opts.Start = time.Unix(1_700_000_000, 0).UTC()
	}
	if opts.ExchangeParams.AtomicMarketOrderFeeMultiplier.IsZero() {
		opts.ExchangeParams.AtomicMarketOrderFeeMultiplier = decimal.NewFromInt(1)
	}
	return &Chain{
		agent: opts.Agent,
		st: &state{
			now:      opts.Start,
			balances: make(map[string]map[string]decimal.Decimal),
			basket: model.AuctionBasket{
				Round:       1,
				HighestBid:  decimal.Zero,
				ClosingTime: opts.Start.Unix() + opts.AuctionParams.AuctionPeriodSecs,
			},
			params:   opts.AuctionParams,
			bidDenom: opts.BidDenom,
			markets:  make(map[string]model.SpotMarket),
			books:    make(map[string]model.Orderbook),
			exParams: opts.ExchangeParams,
			quotes:   make(map[string]decimal.Decimal),
		},
	}
}

// --- Queries (committed state) ---

func (c *Chain) CurrentBasket(_ context.Context) (*model.AuctionBasket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.st.basket
	b.Basket = append([]model.Coin(nil), b.Basket...)
	return &b, nil
}

func (c *Chain) LastResult(_ context.Context) (*model.AuctionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.last == nil {
		return nil, host.ErrLastResultNotFound
	}
	r := *c.st.last
	return &r, nil
}

func (c *Chain) AuctionParams(_ context.Context) (*model.AuctionParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.st.params
	return &p, nil
}

func (c *Chain) SpotMarket(_ context.Context, marketID string) (*model.SpotMarket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.st.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrMarketNotFound, marketID)
	}
	return &m, nil
}

func (c *Chain) ExchangeParams(_ context.Context) (*model.ExchangeParams, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.st.exParams
	return &p, nil
}

func (c *Chain) Orderbook(_ context.Context, marketID string) (*model.Orderbook, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.st.markets[marketID]; !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrMarketNotFound, marketID)
	}
	b := copyBook(c.st.books[marketID])
	b.MarketID = marketID
	return &b, nil
}

func (c *Chain) SimulateSwap(_ context.Context, _ string, marketID string, offer model.Coin) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.routerDown {
		return decimal.Zero, fmt.Errorf("sim: router unavailable")
	}
	rate, ok := c.st.quotes[quoteKey(marketID, offer.Denom)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", host.ErrNoQuote, offer.Denom, marketID)
	}
	return offer.Amount.Mul(rate).Floor(), nil
}

func (c *Chain) BlockTime(_ context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.now, nil
}

func (c *Chain) Balance(_ context.Context, address, denom string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.balance(address, denom), nil
}

// --- Sessions ---

// Begin clones the committed state and moves funds from sender to the agent.
func (c *Chain) Begin(_ context.Context, sender string, funds []model.Coin) (host.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.st.clone()
	for _, coin := range funds {
		if err := st.transfer(sender, c.agent, coin); err != nil {
			return nil, err
		}
	}
	return &session{id: uuid.NewString(), chain: c, st: st, base: c.version}, nil
}

type session struct {
	id     string
	chain  *Chain
	st     *state
	base   uint64
	closed bool
}

func (s *session) ID() string { return s.id }

func (s *session) Dispatch(_ context.Context, msg host.Msg) (*host.Ack, error) {
	if s.closed {
		return nil, host.ErrSessionClosed
	}
	switch m := msg.(type) {
	case host.BidMsg:
		if err := s.st.bid(m.Sender, m.Round, m.Amount); err != nil {
			return nil, err
		}
		return &host.Ack{}, nil
	case host.MarketOrderMsg:
		res, err := s.st.marketOrder(m)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		return &host.Ack{Data: data}, nil
	case host.BankSendMsg:
		for _, coin := range m.Amount {
			if err := s.st.transfer(m.From, m.To, coin); err != nil {
				return nil, err
			}
		}
		return &host.Ack{}, nil
	default:
		return nil, fmt.Errorf("%w: %T", host.ErrUnknownMsg, msg)
	}
}

func (s *session) Commit(_ context.Context) error {
	if s.closed {
		return host.ErrSessionClosed
	}
	c := s.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != s.base {
		s.closed = true
		return host.ErrStaleSession
	}
	c.st = s.st
	c.version++
	s.closed = true
	return nil
}

func (s *session) Rollback(_ context.Context) error {
	s.closed = true
	return nil
}

// --- Test and operator controls. Each mutates committed state directly. ---

func (c *Chain) mutate(fn func(st *state) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := fn(c.st); err != nil {
		return err
	}
	c.version++
	return nil
}

// SetTime sets the block clock.
func (c *Chain) SetTime(t time.Time) {
	_ = c.mutate(func(st *state) error { st.now = t; return nil })
}

// Advance moves the block clock forward.
func (c *Chain) Advance(d time.Duration) {
	_ = c.mutate(func(st *state) error { st.now = st.now.Add(d); return nil })
}

// Fund mints coin to address.
func (c *Chain) Fund(address string, coin model.Coin) {
	_ = c.mutate(func(st *state) error { st.credit(address, coin); return nil })
}

// FundBasket adds coin to the current auction basket.
func (c *Chain) FundBasket(coin model.Coin) {
	_ = c.mutate(func(st *state) error {
		st.credit(AuctionModule, coin)
		for i := range st.basket.Basket {
			if st.basket.Basket[i].Denom == coin.Denom {
				st.basket.Basket[i].Amount = st.basket.Basket[i].Amount.Add(coin.Amount)
				return nil
			}
		}
		st.basket.Basket = append(st.basket.Basket, coin)
		return nil
	})
}

// SetMarket lists or replaces a spot market.
func (c *Chain) SetMarket(m model.SpotMarket) {
	_ = c.mutate(func(st *state) error { st.markets[m.MarketID] = m; return nil })
}

// SetBook replaces a market's order book. Levels are normalized.
func (c *Chain) SetBook(marketID string, buys, sells []model.PriceLevel) {
	_ = c.mutate(func(st *state) error {
		st.books[marketID] = model.Orderbook{
			MarketID: marketID,
			Buys:     orderbook.Normalize(buys, model.SideSell),
			Sells:    orderbook.Normalize(sells, model.SideBuy),
		}
		return nil
	})
}

// SetExchangeParams replaces the exchange parameters.
func (c *Chain) SetExchangeParams(p model.ExchangeParams) {
	_ = c.mutate(func(st *state) error { st.exParams = p; return nil })
}

// SetAuctionParams replaces the auction parameters.
func (c *Chain) SetAuctionParams(p model.AuctionParams) {
	_ = c.mutate(func(st *state) error { st.params = p; return nil })
}

// SetRouterQuote sets the router's output rate for offering denom on marketID.
func (c *Chain) SetRouterQuote(marketID, denom string, rate decimal.Decimal) {
	_ = c.mutate(func(st *state) error { st.quotes[quoteKey(marketID, denom)] = rate; return nil })
}

// SetRouterDown makes every router query fail.
func (c *Chain) SetRouterDown(down bool) {
	_ = c.mutate(func(st *state) error { st.routerDown = down; return nil })
}

// RivalBid funds bidder and places its bid in the current round.
func (c *Chain) RivalBid(bidder string, amount decimal.Decimal) error {
	return c.mutate(func(st *state) error {
		coin := model.Coin{Denom: st.bidDenom, Amount: amount}
		st.credit(bidder, coin)
		return st.bid(bidder, st.basket.Round, coin)
	})
}

// EndRound closes the current round. The winner receives the basket and the
// winning bid is burned. An unsold basket rolls over to the next round.
func (c *Chain) EndRound() (*model.AuctionResult, error) {
	var result model.AuctionResult
	err := c.mutate(func(st *state) error {
		b := &st.basket
		result = model.AuctionResult{
			Round:  b.Round,
			Winner: b.HighestBidder,
			Amount: model.Coin{Denom: st.bidDenom, Amount: b.HighestBid},
		}
		if b.HighestBidder != "" {
			for _, coin := range b.Basket {
				if err := st.transfer(AuctionModule, b.HighestBidder, coin); err != nil {
					return err
				}
			}
			if err := st.debit(AuctionModule, result.Amount); err != nil {
				return err
			}
			b.Basket = nil
		}
		b.Round++
		b.ClosingTime += st.params.AuctionPeriodSecs
		b.HighestBidder = ""
		b.HighestBid = decimal.Zero
		r := result
		st.last = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func quoteKey(marketID, denom string) string { return marketID + "|" + denom }
