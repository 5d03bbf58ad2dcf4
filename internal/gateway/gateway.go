// Package gateway defines the broker/execution collaborator contract.
// The core always calls it through a circuit breaker; the wire protocol
// to any concrete broker is out of scope.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// PlaceRequest is one order placement attempt.
type PlaceRequest struct {
	OrderID  string
	Symbol   string
	Side     schema.OrderSide
	Type     schema.OrderType
	Quantity decimal.Decimal
	Price    decimal.Decimal
}

// Gateway places orders with the external execution venue. A non-nil
// error is a structured failure the engine turns into a rejection.
type Gateway interface {
	PlaceOrder(ctx context.Context, req PlaceRequest) error
}
