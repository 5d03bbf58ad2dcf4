// Package store persists executions. Writes are append-only; a write
// failure is reported but never rolls back in-memory order state.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Execution is one fill, as recorded.
type Execution struct {
	ID            uint            `gorm:"primaryKey"`
	OrderID       string          `gorm:"index"`
	Symbol        string          `gorm:"index"`
	Side          string
	Quantity      decimal.Decimal `gorm:"type:numeric"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	ClientOrderID string
	ExecutedAt    time.Time
}

// TableName keeps the original executions table name.
func (Execution) TableName() string {
	return "executions"
}

// ExecutionStore appends execution records.
type ExecutionStore interface {
	RecordExecution(ctx context.Context, exec Execution) error
}
