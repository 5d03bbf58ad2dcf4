package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide uint8

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType is the execution style of an order.
type OrderType uint8

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus tracks the lifecycle of an order.
//
// Pending is the only initial state. Filled, Cancelled, Rejected and
// Expired are terminal. Submitted and PartiallyFilled are transient.
type OrderStatus uint8

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusPending
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
	OrderStatusExpired
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusPartiallyFilled:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// TimeInForceDay expires unfilled orders when the trading day rolls over.
const TimeInForceDay = "DAY"

// OrderRequest is the caller-supplied, immutable order definition.
// Price is required for limit orders, StopPrice for stop orders.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	TimeInForce   string
	ClientOrderID string
}

// Order is the engine's authoritative record of a submitted order.
// It is owned by the execution engine for its whole lifetime; the order
// book only references it while it waits for a price trigger.
type Order struct {
	ID               string
	Symbol           string
	Side             OrderSide
	Type             OrderType
	Quantity         decimal.Decimal
	Price            decimal.Decimal
	StopPrice        decimal.Decimal
	Status           OrderStatus
	FilledQuantity   decimal.Decimal
	AverageFillPrice decimal.Decimal
	TimeInForce      string
	ClientOrderID    string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}
