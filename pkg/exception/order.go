package exception

import "errors"

// Validation errors. These reject an order request before any order
// state is created.
var (
	ErrOrderUnknownSymbol     = errors.New("order: no price available for symbol")
	ErrOrderInvalidQuantity   = errors.New("order: quantity must be positive")
	ErrOrderPriceRequired     = errors.New("order: limit order requires price")
	ErrOrderStopPriceRequired = errors.New("order: stop order requires stop price")
	ErrOrderInvalidSide       = errors.New("order: side is unknown")
	ErrOrderInvalidType       = errors.New("order: type is unknown")
)

// Execution errors.
var (
	ErrOrderExecutionFailed  = errors.New("order: execution failed")
	ErrOrderPriceUnavailable = errors.New("order: unable to get current price")
)
