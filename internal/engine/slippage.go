package engine

import (
	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// SlippageModel adjusts a reference price to the price a market order
// actually executes at. Implementations must worsen the price for the
// taker: buys at or above the reference, sells at or below.
type SlippageModel func(side schema.OrderSide, price decimal.Decimal) decimal.Decimal

// BasisPointSlippage worsens the reference price by a flat number of
// basis points.
func BasisPointSlippage(bps int64) SlippageModel {
	factor := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10_000))
	return func(side schema.OrderSide, price decimal.Decimal) decimal.Decimal {
		adjustment := price.Mul(factor)
		if side == schema.OrderSideBuy {
			return price.Add(adjustment)
		}
		return price.Sub(adjustment)
	}
}

// NoSlippage executes at the reference price unchanged.
func NoSlippage() SlippageModel {
	return func(_ schema.OrderSide, price decimal.Decimal) decimal.Decimal {
		return price
	}
}
