package sim

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
)

type state struct {
	now        time.Time
	balances   map[string]map[string]decimal.Decimal
	basket     model.AuctionBasket
	last       *model.AuctionResult
	params     model.AuctionParams
	bidDenom   string
	markets    map[string]model.SpotMarket
	books      map[string]model.Orderbook
	exParams   model.ExchangeParams
	quotes     map[string]decimal.Decimal
	routerDown bool
}

func (st *state) clone() *state {
	out := *st
	out.balances = make(map[string]map[string]decimal.Decimal, len(st.balances))
	for addr, coins := range st.balances {
		m := make(map[string]decimal.Decimal, len(coins))
		for denom, amt := range coins {
			m[denom] = amt
		}
		out.balances[addr] = m
	}
	out.basket.Basket = append([]model.Coin(nil), st.basket.Basket...)
	if st.last != nil {
		last := *st.last
		out.last = &last
	}
	out.markets = make(map[string]model.SpotMarket, len(st.markets))
	for id, m := range st.markets {
		out.markets[id] = m
	}
	out.books = make(map[string]model.Orderbook, len(st.books))
	for id, b := range st.books {
		out.books[id] = copyBook(b)
	}
	out.quotes = make(map[string]decimal.Decimal, len(st.quotes))
	for k, v := range st.quotes {
		out.quotes[k] = v
	}
	return &out
}

func copyBook(b model.Orderbook) model.Orderbook {
	return model.Orderbook{
		MarketID: b.MarketID,
		Buys:     append([]model.PriceLevel(nil), b.Buys...),
		Sells:    append([]model.PriceLevel(nil), b.Sells...),
	}
}

// --- Bank ---

func (st *state) balance(address, denom string) decimal.Decimal {
	return st.balances[address][denom]
}

func (st *state) credit(address string, coin model.Coin) {
	coins, ok := st.balances[address]
	if !ok {
		coins = make(map[string]decimal.Decimal)
		st.balances[address] = coins
	}
	coins[coin.Denom] = coins[coin.Denom].Add(coin.Amount)
}

func (st *state) debit(address string, coin model.Coin) error {
	have := st.balance(address, coin.Denom)
	if have.LessThan(coin.Amount) {
		return fmt.Errorf("%w: %s has %s%s, needs %s%s",
			host.ErrInsufficientFunds, address, have, coin.Denom, coin.Amount, coin.Denom)
	}
	st.credit(address, model.Coin{Denom: coin.Denom, Amount: coin.Amount.Neg()})
	return nil
}

func (st *state) transfer(from, to string, coin model.Coin) error {
	if coin.Amount.IsNegative() {
		return fmt.Errorf("sim: negative transfer %s%s", coin.Amount, coin.Denom)
	}
	if coin.Amount.IsZero() {
		return nil
	}
	if err := st.debit(from, coin); err != nil {
		return err
	}
	st.credit(to, coin)
	return nil
}

// --- Auction ---

func (st *state) bid(bidder string, round uint64, amount model.Coin) error {
	b := &st.basket
	if round != b.Round {
		return fmt.Errorf("%w: round %d, current %d", host.ErrBidRejected, round, b.Round)
	}
	if amount.Denom != st.bidDenom {
		return fmt.Errorf("%w: bid denom %s, want %s", host.ErrBidRejected, amount.Denom, st.bidDenom)
	}
	if st.now.Unix() >= b.ClosingTime {
		return fmt.Errorf("%w: round %d closed", host.ErrBidRejected, round)
	}
	if b.HighestBidder != "" {
		if minBid := host.MinBid(b.HighestBid, st.params.MinNextBidIncrementRate); amount.Amount.LessThan(minBid) {
			return fmt.Errorf("%w: bid %s below minimum %s", host.ErrBidRejected, amount.Amount, minBid)
		}
	} else if !amount.Amount.IsPositive() {
		return fmt.Errorf("%w: bid must be positive", host.ErrBidRejected)
	}

	if err := st.transfer(bidder, AuctionModule, amount); err != nil {
		return err
	}
	if b.HighestBidder != "" {
		refund := model.Coin{Denom: st.bidDenom, Amount: b.HighestBid}
		if err := st.transfer(AuctionModule, b.HighestBidder, refund); err != nil {
			return err
		}
	}
	b.HighestBidder = bidder
	b.HighestBid = amount.Amount
	return nil
}

// --- Exchange ---

// marketOrder fills an atomic order against the book or fails without effect.
// Book liquidity is external: the counterparty side is minted or burned.
func (st *state) marketOrder(m host.MarketOrderMsg) (*host.OrderResult, error) {
	market, ok := st.markets[m.MarketID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", host.ErrMarketNotFound, m.MarketID)
	}
	if !m.Quantity.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %s", host.ErrOrderRejected, m.Quantity)
	}
	book := st.books[m.MarketID]
	feeRate := orderbook.FeeRate(&market, &st.exParams)

	var (
		levels   []model.PriceLevel
		notional decimal.Decimal
		filled   bool
	)
	switch m.Side {
	case model.SideBuy:
		levels, notional, filled = fill(book.Sells, m.Quantity, func(p decimal.Decimal) bool {
			return p.LessThanOrEqual(m.WorstPrice)
		})
	case model.SideSell:
		levels, notional, filled = fill(book.Buys, m.Quantity, func(p decimal.Decimal) bool {
			return p.GreaterThanOrEqual(m.WorstPrice)
		})
	default:
		return nil, fmt.Errorf("%w: side %q", host.ErrOrderRejected, m.Side)
	}
	if !filled {
		return nil, fmt.Errorf("%w: %s %s on %s not fillable within %s",
			host.ErrOrderRejected, m.Side, m.Quantity, m.MarketID, m.WorstPrice)
	}

	price := notional.DivRound(m.Quantity, orderbook.Precision)
	gross := m.Quantity.Mul(price)
	fee := gross.Mul(feeRate)

	base := model.Coin{Denom: market.BaseDenom, Amount: m.Quantity}
	if m.Side == model.SideBuy {
		cost := model.Coin{Denom: market.QuoteDenom, Amount: gross.Add(fee).Ceil()}
		if err := st.debit(m.Sender, cost); err != nil {
			return nil, err
		}
		st.credit(m.Sender, base)
		book.Sells = levels
	} else {
		if err := st.debit(m.Sender, base); err != nil {
			return nil, err
		}
		st.credit(m.Sender, model.Coin{Denom: market.QuoteDenom, Amount: gross.Sub(fee).Floor()})
		book.Buys = levels
	}
	st.books[m.MarketID] = book

	return &host.OrderResult{Quantity: m.Quantity, Price: price, Fee: fee}, nil
}

// fill takes qty from the head of levels while within accepts the price. It
// returns the remaining levels, the filled notional and whether qty was met.
func fill(levels []model.PriceLevel, qty decimal.Decimal, within func(decimal.Decimal) bool) ([]model.PriceLevel, decimal.Decimal, bool) {
	rest := append([]model.PriceLevel(nil), levels...)
	remaining := qty
	notional := decimal.Zero
	i := 0
	for i < len(rest) && remaining.IsPositive() {
		l := rest[i]
		if !within(l.Price) {
			break
		}
		take := decimal.Min(l.Quantity, remaining)
		notional = notional.Add(take.Mul(l.Price))
		remaining = remaining.Sub(take)
		if take.Equal(l.Quantity) {
			i++
			continue
		}
		rest[i].Quantity = l.Quantity.Sub(take)
	}
	return rest[i:], notional, remaining.IsZero()
}
