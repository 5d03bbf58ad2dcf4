// Package market defines the market-data collaborator contract the core
// consumes. Real feeds live outside the core; StaticSource covers the
// demo binary and tests.
package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one aggregated price bar.
type Bar struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Source supplies prices to the core. A missing price is an expected,
// retryable condition: implementations return ok=false, never panic.
type Source interface {
	// LatestPrice returns the last known price for the symbol.
	LatestPrice(symbol string) (decimal.Decimal, bool)

	// HistoricalData returns ordered bars within [start, end].
	HistoricalData(symbol string, start, end time.Time) ([]Bar, bool)
}
