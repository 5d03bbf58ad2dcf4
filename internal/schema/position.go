package schema

import "github.com/shopspring/decimal"

// Position is the per-symbol holding tracked by the risk manager.
// Quantity is signed: positive is long, negative is short. Positions are
// never deleted; quantity may return to zero.
type Position struct {
	Symbol      string
	Quantity    decimal.Decimal
	CostBasis   decimal.Decimal
	MarketPrice decimal.Decimal
}

// AverageCost is CostBasis / Quantity, zero for a flat position.
func (p Position) AverageCost() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis.Div(p.Quantity)
}

// UnrealizedPnL is (market price - average cost) * quantity.
func (p Position) UnrealizedPnL() decimal.Decimal {
	if p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.MarketPrice.Sub(p.AverageCost()).Mul(p.Quantity)
}

// PositionLimit is the per-symbol (or default) ceiling set. Limits are
// immutable once set and replaced wholesale.
type PositionLimit struct {
	MaxPositionSize  decimal.Decimal
	MaxNotionalValue decimal.Decimal
	MaxDailyTrades   int
	MaxDailyVolume   decimal.Decimal
	MaxConcentration decimal.Decimal
}

// RiskMetrics is a point-in-time snapshot derived from current positions
// and the latest known prices. It is recomputed on demand, never stored.
//
// VaR95 is a proxy (a flat fraction of exposure), not a statistical
// estimator. CurrentDrawdown is clamped at zero.
type RiskMetrics struct {
	TotalExposure   decimal.Decimal
	LargestPosition decimal.Decimal
	PositionCount   int
	DailyPnL        decimal.Decimal
	DailyTrades     int
	DailyVolume     decimal.Decimal
	VaR95           decimal.Decimal
	CurrentDrawdown decimal.Decimal
}
