// Package orderbook implements the swap simulator: a walk over a spot
// market's order book that yields the exact tradable quantity and the worst
// acceptable price for an atomic market order.
//
// The same Simulate call prices informational queries, values baskets and
// sizes live orders, so a quote and the order built from it never disagree.
package orderbook

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/auction-pool/internal/model"
)

var (
	// ErrNotEnoughLiquidity is returned when the book empties before the
	// input amount is exhausted.
	ErrNotEnoughLiquidity = errors.New("orderbook: not enough liquidity")

	// ErrAssetNotInMarket is returned when the offered asset is neither the
	// base nor the quote denom of the market.
	ErrAssetNotInMarket = errors.New("orderbook: asset not traded in market")

	// ErrInvalidTick is returned for a non-positive tick size.
	ErrInvalidTick = errors.New("orderbook: tick size must be positive")

	// Precision is the number of fractional digits kept for divisions.
	Precision int32 = 18
)

// Quote is the result of a simulated atomic market order.
type Quote struct {
	Side model.OrderSide `json:"side"`
	// Input is the offered amount after flooring to its tick: quote units
	// for a buy, base units for a sell.
	Input decimal.Decimal `json:"input"`
	// Output is the received amount in atomic units, floored.
	Output decimal.Decimal `json:"output"`
	// Quantity is the base quantity of the order: Output for a buy, Input
	// for a sell.
	Quantity   decimal.Decimal `json:"quantity"`
	WorstPrice decimal.Decimal `json:"worst_price"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
}

// FeeRate is the taker fee paid by an atomic market order.
func FeeRate(market *model.SpotMarket, params *model.ExchangeParams) decimal.Decimal {
	return market.TakerFeeRate.Mul(params.AtomicMarketOrderFeeMultiplier)
}

// SideFor returns the order side that swaps asset away on market: offering
// the base sells, offering the quote buys.
func SideFor(market *model.SpotMarket, asset string) (model.OrderSide, error) {
	switch asset {
	case market.BaseDenom:
		return model.SideSell, nil
	case market.QuoteDenom:
		return model.SideBuy, nil
	default:
		return "", fmt.Errorf("%w: %s not in %s", ErrAssetNotInMarket, asset, market.MarketID)
	}
}

// FloorToTick rounds v down to a multiple of tick.
func FloorToTick(v, tick decimal.Decimal) decimal.Decimal {
	return v.DivRound(tick, Precision).Floor().Mul(tick)
}

// Simulate walks the book for an order on side offering amount atomic units.
//
// Buying base with quote floors the amount to the price tick, deducts the fee
// up front and walks ascending sells. Selling base floors the quantity to the
// quantity tick, walks descending buys and deducts the fee from the proceeds.
// WorstPrice is the price of the last level touched.
func Simulate(
	market *model.SpotMarket,
	params *model.ExchangeParams,
	book *model.Orderbook,
	side model.OrderSide,
	amount decimal.Decimal,
) (*Quote, error) {
	if !market.MinPriceTickSize.IsPositive() || !market.MinQuantityTickSize.IsPositive() {
		return nil, ErrInvalidTick
	}
	fee := FeeRate(market, params)

	switch side {
	case model.SideBuy:
		return simulateBuy(market, book.Sells, amount, fee)
	case model.SideSell:
		return simulateSell(market, book.Buys, amount, fee)
	default:
		return nil, fmt.Errorf("orderbook: unknown side %q", side)
	}
}

func simulateBuy(market *model.SpotMarket, sells []model.PriceLevel, amount, fee decimal.Decimal) (*Quote, error) {
	if len(sells) == 0 {
		return nil, ErrNotEnoughLiquidity
	}

	input := FloorToTick(amount, market.MinPriceTickSize)
	remaining := input.Mul(decimal.NewFromInt(1).Sub(fee))
	quantity := decimal.Zero
	var worst decimal.Decimal

	for _, level := range sells {
		worst = level.Price
		notional := level.Price.Mul(level.Quantity)
		if remaining.GreaterThan(notional) {
			remaining = remaining.Sub(notional)
			quantity = quantity.Add(level.Quantity)
			continue
		}
		quantity = quantity.Add(remaining.DivRound(level.Price, Precision))
		remaining = decimal.Zero
		break
	}

	if remaining.IsPositive() {
		return nil, ErrNotEnoughLiquidity
	}

	output := FloorToTick(quantity, market.MinQuantityTickSize).Floor()
	return &Quote{
		Side:       model.SideBuy,
		Input:      input,
		Output:     output,
		Quantity:   output,
		WorstPrice: worst,
		FeeRate:    fee,
	}, nil
}

func simulateSell(market *model.SpotMarket, buys []model.PriceLevel, amount, fee decimal.Decimal) (*Quote, error) {
	if len(buys) == 0 {
		return nil, ErrNotEnoughLiquidity
	}

	input := FloorToTick(amount, market.MinQuantityTickSize)
	remaining := input
	proceeds := decimal.Zero
	var worst decimal.Decimal

	for _, level := range buys {
		worst = level.Price
		if remaining.GreaterThan(level.Quantity) {
			remaining = remaining.Sub(level.Quantity)
			proceeds = proceeds.Add(level.Price.Mul(level.Quantity))
			continue
		}
		proceeds = proceeds.Add(level.Price.Mul(remaining))
		remaining = decimal.Zero
		break
	}

	if remaining.IsPositive() {
		return nil, ErrNotEnoughLiquidity
	}

	proceeds = proceeds.Mul(decimal.NewFromInt(1).Sub(fee))
	return &Quote{
		Side:       model.SideSell,
		Input:      input,
		Output:     proceeds.Floor(),
		Quantity:   input,
		WorstPrice: worst,
		FeeRate:    fee,
	}, nil
}

// Normalize drops empty levels, merges equal prices and sorts the levels by
// execution priority for side: ascending for asks consumed by a buy,
// descending for bids consumed by a sell.
func Normalize(levels []model.PriceLevel, side model.OrderSide) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for _, l := range levels {
		if !l.Price.IsPositive() || !l.Quantity.IsPositive() {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if side == model.SideBuy {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].Price.GreaterThan(out[j].Price)
	})

	merged := out[:0]
	for _, l := range out {
		if n := len(merged); n > 0 && merged[n-1].Price.Equal(l.Price) {
			merged[n-1].Quantity = merged[n-1].Quantity.Add(l.Quantity)
			continue
		}
		merged = append(merged, l)
	}
	return merged
}
