// Package settlement turns a won basket into reference-denom proceeds and
// splits the resulting profit between the bid submitter and the pool.
//
// Orders are built from the same swap simulation that priced the basket, so
// the live order's quantity and slippage bound match the quote exactly.
package settlement

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/host"
	"github.com/atmx/auction-pool/internal/model"
	"github.com/atmx/auction-pool/internal/orderbook"
)

// ErrMalformedAck is returned when a market-order acknowledgment carries no
// decodable fill.
var ErrMalformedAck = errors.New("settlement: malformed acknowledgment")

// BuildOrder builds the atomic market order for a simulated quote. A sell
// trades the tick-floored input, a buy the simulated base quantity. Both are
// bounded by the quote's worst price.
func BuildOrder(sender, subaccount string, market *model.SpotMarket, q *orderbook.Quote) host.MarketOrderMsg {
	qty := q.Quantity
	if q.Side == model.SideSell {
		qty = q.Input
	}
	return host.MarketOrderMsg{
		Sender:     sender,
		Subaccount: subaccount,
		MarketID:   market.MarketID,
		Side:       q.Side,
		Quantity:   qty,
		WorstPrice: q.WorstPrice,
	}
}

// ReceivedDenom is the denom an order credits: base for a buy, quote for a sell.
func ReceivedDenom(market *model.SpotMarket, side model.OrderSide) string {
	if side == model.SideBuy {
		return market.BaseDenom
	}
	return market.QuoteDenom
}

// Proceeds decodes the fill of order from ack and returns the received
// amount in atomic units: the filled quantity for a buy, quantity times
// average price less the fee for a sell. Both are floored.
func Proceeds(order host.MarketOrderMsg, ack *host.Ack) (decimal.Decimal, error) {
	if ack == nil || len(ack.Data) == 0 {
		return decimal.Zero, fmt.Errorf("%w: empty data for order on %s", ErrMalformedAck, order.MarketID)
	}
	var res host.OrderResult
	if err := json.Unmarshal(ack.Data, &res); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedAck, err)
	}
	if !res.Quantity.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: fill quantity %s", ErrMalformedAck, res.Quantity)
	}

	switch order.Side {
	case model.SideBuy:
		return res.Quantity.Floor(), nil
	case model.SideSell:
		return res.Quantity.Mul(res.Price).Sub(res.Fee).Floor(), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: side %q", ErrMalformedAck, order.Side)
	}
}

// Split is the division of a won round's proceeds.
type Split struct {
	Profit       decimal.Decimal `json:"profit"`
	WinnerReward decimal.Decimal `json:"winner_reward"`
	PoolProfit   decimal.Decimal `json:"pool_profit"`
}

// Divide computes the split of proceeds for a bid of bidAmount. Profit is
// floored at zero. The submitter earns winnerRewardBps of it, floored,
// unless the bid was submitted by the agent itself.
func Divide(proceeds, bidAmount decimal.Decimal, winnerRewardBps int64, submittedBy, self string) Split {
	profit := proceeds.Sub(bidAmount)
	if profit.IsNegative() {
		profit = decimal.Zero
	}
	reward := decimal.Zero
	if submittedBy != self {
		reward = profit.Mul(decimal.NewFromInt(winnerRewardBps)).
			Div(decimal.NewFromInt(model.BpsDenominator)).
			Floor()
	}
	return Split{
		Profit:       profit,
		WinnerReward: reward,
		PoolProfit:   profit.Sub(reward),
	}
}
