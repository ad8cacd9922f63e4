// Package model defines the core domain types shared across the auction pool.
// All monetary values use shopspring/decimal, never float64.
// Amounts are atomic units of their denom and are kept integral; prices,
// fee rates and the reward index are fractional.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BpsDenominator is the basis-point scale for MaxOffsetBps and WinnerRewardBps.
const BpsDenominator = 10000

// Coin is an amount of a single denom.
type Coin struct {
	Denom  string          `json:"denom"`
	Amount decimal.Decimal `json:"amount"`
}

// NewCoin builds a coin from an integer amount.
func NewCoin(denom string, amount int64) Coin {
	return Coin{Denom: denom, Amount: decimal.NewFromInt(amount)}
}

// Config is the pool configuration, editable by the admin.
type Config struct {
	ReferenceDenom         string `json:"reference_denom" yaml:"reference_denom"`
	Admin                  string `json:"admin" yaml:"admin"`
	Router                 string `json:"router" yaml:"router"`
	BidTimeBufferSecs      int64  `json:"bid_time_buffer_secs" yaml:"bid_time_buffer_secs"`
	WithdrawTimeBufferSecs int64  `json:"withdraw_time_buffer_secs" yaml:"withdraw_time_buffer_secs"`
	MaxOffsetBps           int64  `json:"max_offset_bps" yaml:"max_offset_bps"`
	WinnerRewardBps        int64  `json:"winner_reward_bps" yaml:"winner_reward_bps"`
	Subaccount             string `json:"subaccount" yaml:"-"` // derived from the agent address, never edited
}

// GlobalLedger is the singleton reward accumulator.
// Invariant: TotalSupply == Σ UserAccount.Deposited.
type GlobalLedger struct {
	Index              decimal.Decimal `json:"index"`                // cumulative profit per supply unit
	ProfitToDistribute decimal.Decimal `json:"profit_to_distribute"` // pending, not yet folded into Index
	AccumulatedProfit  decimal.Decimal `json:"accumulated_profit"`   // lifetime total folded in
	TotalSupply        decimal.Decimal `json:"total_supply"`
}

// UserAccount is one depositor's position. Deleted when Deposited returns to zero.
type UserAccount struct {
	Address       string          `json:"address"`
	Deposited     decimal.Decimal `json:"deposited"`
	Index         decimal.Decimal `json:"index"` // GlobalLedger.Index at last settlement
	PendingReward decimal.Decimal `json:"pending_reward"`
}

// SwapRoute maps an unordered denom pair to the spot market that trades it.
type SwapRoute struct {
	MarketID    string `json:"market_id"`
	SourceDenom string `json:"source_denom"`
	TargetDenom string `json:"target_denom"`
}

// BidAttempt is a bid the external auction has accepted for Round.
// Basket is the auction basket at bid time; it is what gets liquidated on a win.
type BidAttempt struct {
	Amount      decimal.Decimal `json:"amount"`
	Round       uint64          `json:"round"`
	SubmittedBy string          `json:"submitted_by"`
	Basket      []Coin          `json:"basket"`
}

// Compensation records host effects that committed while the ledger writes
// of the same invocation did not. Messages holds the dispatched host
// envelopes in order. Reconciling it is left to an operator.
type Compensation struct {
	ID         string          `json:"id"` // invocation id
	Command    string          `json:"command"`
	Sender     string          `json:"sender"`
	SessionID  string          `json:"session_id"`
	Funds      []Coin          `json:"funds"`
	Messages   json.RawMessage `json:"messages"`
	Error      string          `json:"error"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// BidPhase is the externally observable stage of the bid lifecycle.
type BidPhase string

const (
	PhaseIdle              BidPhase = "idle"
	PhaseBidConfirmed      BidPhase = "bid_confirmed"
	PhaseSettlementPending BidPhase = "settlement_pending"
)

// BidStatus pairs the lifecycle phase with the stored attempt, if any.
type BidStatus struct {
	Phase   BidPhase    `json:"phase"`
	Leading bool        `json:"leading"`
	Attempt *BidAttempt `json:"attempt,omitempty"`
}

// --- External auction snapshots ---

// AuctionBasket is the current round of the external auction.
type AuctionBasket struct {
	Round         uint64          `json:"round"`
	Basket        []Coin          `json:"basket"`
	HighestBidder string          `json:"highest_bidder"`
	HighestBid    decimal.Decimal `json:"highest_bid"`
	ClosingTime   int64           `json:"closing_time"` // unix seconds
}

// AuctionResult is the last finalized round.
type AuctionResult struct {
	Round  uint64 `json:"round"`
	Winner string `json:"winner"`
	Amount Coin   `json:"amount"`
}

// AuctionParams holds the auction module parameters.
type AuctionParams struct {
	MinNextBidIncrementRate decimal.Decimal `json:"min_next_bid_increment_rate"`
	AuctionPeriodSecs       int64           `json:"auction_period_secs"`
}

// --- External exchange snapshots ---

// SpotMarket is the exchange metadata for one market. Prices are quote atomic
// units per base atomic unit.
type SpotMarket struct {
	MarketID            string          `json:"market_id"`
	Ticker              string          `json:"ticker"`
	BaseDenom           string          `json:"base_denom"`
	QuoteDenom          string          `json:"quote_denom"`
	TakerFeeRate        decimal.Decimal `json:"taker_fee_rate"`
	MinPriceTickSize    decimal.Decimal `json:"min_price_tick_size"`
	MinQuantityTickSize decimal.Decimal `json:"min_quantity_tick_size"`
	MinNotional         decimal.Decimal `json:"min_notional"`
	Status              string          `json:"status"`
}

// ExchangeParams holds the exchange module parameters used for pricing.
type ExchangeParams struct {
	AtomicMarketOrderFeeMultiplier decimal.Decimal `json:"atomic_market_order_fee_multiplier"`
}

// OrderSide is the side of a market order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"  // spend quote, receive base
	SideSell OrderSide = "sell" // spend base, receive quote
)

// PriceLevel is one aggregated order-book level.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Orderbook is a snapshot of both sides of a market. Buys are sorted by
// descending price, sells by ascending price.
type Orderbook struct {
	MarketID string       `json:"market_id"`
	Buys     []PriceLevel `json:"buys"`
	Sells    []PriceLevel `json:"sells"`
}

// Event is a typed set of attributes emitted by a committed invocation.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
