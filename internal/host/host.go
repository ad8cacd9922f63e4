// Package host defines the collaborators the pool agent runs against: the
// external auction, the spot exchange, the multi-hop router, the chain clock
// and bank, and the invocation Session through which all effects flow.
//
// A Session stages every dispatched message. Nothing it does is visible until
// Commit, and Rollback discards all of it.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
)

var (
	ErrMarketNotFound     = errors.New("host: market not found")
	ErrLastResultNotFound = errors.New("host: last auction result not found")
	ErrInsufficientFunds  = errors.New("host: insufficient funds")
	ErrBidRejected        = errors.New("host: bid rejected")
	ErrOrderRejected      = errors.New("host: order rejected")
	ErrNoQuote            = errors.New("host: router has no quote")
	ErrSessionClosed      = errors.New("host: session closed")
	ErrStaleSession       = errors.New("host: state changed since session began")
	ErrUnknownMsg         = errors.New("host: unknown message type")
)

// Auction is the external auction subsystem.
type Auction interface {
	CurrentBasket(ctx context.Context) (*model.AuctionBasket, error)
	// LastResult returns ErrLastResultNotFound before the first round closes.
	LastResult(ctx context.Context) (*model.AuctionResult, error)
	AuctionParams(ctx context.Context) (*model.AuctionParams, error)
}

// Exchange is the external spot exchange.
type Exchange interface {
	// SpotMarket returns ErrMarketNotFound for an unknown id.
	SpotMarket(ctx context.Context, marketID string) (*model.SpotMarket, error)
	ExchangeParams(ctx context.Context) (*model.ExchangeParams, error)
	// Orderbook returns buys sorted descending and sells ascending.
	Orderbook(ctx context.Context, marketID string) (*model.Orderbook, error)
}

// Router is the external multi-hop router. It only simulates.
type Router interface {
	SimulateSwap(ctx context.Context, router, marketID string, offer model.Coin) (decimal.Decimal, error)
}

// Chain exposes the block clock and the bank.
type Chain interface {
	BlockTime(ctx context.Context) (time.Time, error)
	Balance(ctx context.Context, address, denom string) (decimal.Decimal, error)
}

// Host is everything the agent needs from its environment.
type Host interface {
	Auction
	Exchange
	Router
	Chain

	// Begin opens an invocation for sender. Attached funds move from sender
	// to the agent inside the session.
	Begin(ctx context.Context, sender string, funds []model.Coin) (Session, error)
}

// Session is one atomic invocation. Dispatch runs a message against the
// staged state and returns its acknowledgment.
type Session interface {
	ID() string
	Dispatch(ctx context.Context, msg Msg) (*Ack, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// --- Messages ---

// Msg is a host-directed message.
type Msg interface {
	Kind() string
}

const (
	KindBid         = "auction.bid"
	KindMarketOrder = "exchange.market_order"
	KindBankSend    = "bank.send"
)

// BidMsg places a bid in the current auction round.
type BidMsg struct {
	Sender string     `json:"sender"`
	Round  uint64     `json:"round"`
	Amount model.Coin `json:"amount"`
}

func (BidMsg) Kind() string { return KindBid }

// MarketOrderMsg is an atomic, fill-or-kill market order bounded by WorstPrice.
type MarketOrderMsg struct {
	Sender     string          `json:"sender"`
	Subaccount string          `json:"subaccount"`
	MarketID   string          `json:"market_id"`
	Side       model.OrderSide `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	WorstPrice decimal.Decimal `json:"worst_price"`
}

func (MarketOrderMsg) Kind() string { return KindMarketOrder }

// BankSendMsg transfers coins.
type BankSendMsg struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Amount []model.Coin `json:"amount"`
}

func (BankSendMsg) Kind() string { return KindBankSend }

// Ack is a message acknowledgment. Data is message specific.
type Ack struct {
	Data json.RawMessage `json:"data,omitempty"`
}

// OrderResult is the Data of a market-order acknowledgment.
type OrderResult struct {
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"` // average fill price
	Fee      decimal.Decimal `json:"fee"`
}

// Envelope is the wire form of a Msg.
type Envelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

// Encode wraps msg in an Envelope.
func Encode(msg Msg) (*Envelope, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return &Envelope{Type: msg.Kind(), Msg: raw}, nil
}

// Decode unwraps an Envelope into a value Msg.
func Decode(env *Envelope) (Msg, error) {
	switch env.Type {
	case KindBid:
		var m BidMsg
		if err := decodeInto(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindMarketOrder:
		var m MarketOrderMsg
		if err := decodeInto(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindBankSend:
		var m BankSendMsg
		if err := decodeInto(env, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMsg, env.Type)
	}
}

func decodeInto(env *Envelope, v any) error {
	if err := json.Unmarshal(env.Msg, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Type, err)
	}
	return nil
}

// MinBid is the smallest bid the auction accepts over highest: highest
// scaled by (1 + rate), rounded up, and 1 when that is zero.
func MinBid(highest, rate decimal.Decimal) decimal.Decimal {
	bid := highest.Mul(decimal.NewFromInt(1).Add(rate)).Ceil()
	if bid.IsZero() {
		return decimal.NewFromInt(1)
	}
	return bid
}
