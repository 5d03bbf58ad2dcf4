// Package engine drives orders through their lifecycle: validation,
// risk admission, broker placement behind a circuit breaker, fills,
// cancellation, and expiry. The engine owns every order it creates; the
// book only references orders waiting on a price trigger.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/book"
	"main/internal/breaker"
	"main/internal/events"
	"main/internal/gateway"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/exception"
)

// RiskManager is the admission-control collaborator.
type RiskManager interface {
	CheckOrderRisk(symbol string, side schema.OrderSide, quantity, price decimal.Decimal) bool
	UpdatePosition(symbol string, quantity, price decimal.Decimal, side schema.OrderSide)
}

// Callback observes one order's status transitions. It receives a copy;
// mutating it has no effect on the engine's record.
type Callback func(order schema.Order)

// Options wires the engine's collaborators. Source, Gateway, and Risk
// are required; everything else has a working default.
type Options struct {
	Source   market.Source
	Gateway  gateway.Gateway
	Breaker  *breaker.Breaker
	Risk     RiskManager
	Store    store.ExecutionStore
	Sink     events.Sink
	Errors   events.ErrorSink
	Metrics  *obs.Metrics
	Clock    schema.Clock
	Slippage SlippageModel
}

// Engine is the order-execution core.
type Engine struct {
	source  market.Source
	gw      gateway.Gateway
	brk     *breaker.Breaker
	risk    RiskManager
	store   store.ExecutionStore
	sink    events.Sink
	errs    events.ErrorSink
	metrics *obs.Metrics
	clock   schema.Clock
	slip    SlippageModel

	mu        sync.Mutex
	orders    map[string]*schema.Order
	book      *book.Book
	callbacks map[string][]Callback
}

// New creates an engine from its collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil || opts.Gateway == nil || opts.Risk == nil {
		return nil, exception.ErrNilInstance
	}
	if opts.Clock == nil {
		opts.Clock = schema.UTCNow
	}
	if opts.Sink == nil {
		opts.Sink = events.Discard
	}
	if opts.Slippage == nil {
		opts.Slippage = BasisPointSlippage(5)
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New("gateway", breaker.Config{}, opts.Clock, opts.Sink)
	}
	return &Engine{
		source:    opts.Source,
		gw:        opts.Gateway,
		brk:       opts.Breaker,
		risk:      opts.Risk,
		store:     opts.Store,
		sink:      opts.Sink,
		errs:      opts.Errors,
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		slip:      opts.Slippage,
		orders:    make(map[string]*schema.Order),
		book:      book.New(),
		callbacks: make(map[string][]Callback),
	}, nil
}

// SubmitOrder validates and admits the request, then drives the new
// order as far as the current market allows. The returned order is a
// copy of the engine's record at the time of return; an execution
// failure surfaces as status Rejected on the order, not as an error.
func (e *Engine) SubmitOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSubmit(time.Since(start)) }()

	marketPrice, err := e.validate(req)
	if err != nil {
		return schema.Order{}, err
	}

	riskPrice := req.Price
	if riskPrice.IsZero() {
		riskPrice = marketPrice
	}
	if !e.risk.CheckOrderRisk(req.Symbol, req.Side, req.Quantity, riskPrice) {
		return schema.Order{}, errors.Wrap(exception.ErrRiskRejected, req.Symbol)
	}

	now := e.clock()
	order := &schema.Order{
		ID:            uuid.NewString(),
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Status:        schema.OrderStatusPending,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(schema.OrderStatusPending)
	e.sink.Emit(events.Event{
		Type:    events.TypeOrderCreated,
		Message: "order created: " + order.Side.String() + " " + order.Quantity.String() + " " + order.Symbol,
		Level:   events.LevelInfo,
		Extra: map[string]any{
			"order_id": order.ID,
			"symbol":   order.Symbol,
			"side":     order.Side.String(),
			"type":     order.Type.String(),
			"quantity": order.Quantity.String(),
		},
	})

	e.dispatch(ctx, order, marketPrice)
	out, _ := e.Order(order.ID)
	return out, nil
}

// CancelOrder transitions a live order to Cancelled. It returns false
// for unknown ids and for orders already in a terminal state.
func (e *Engine) CancelOrder(id string) bool {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.Terminal() {
		e.mu.Unlock()
		return false
	}
	order.Status = schema.OrderStatusCancelled
	order.UpdatedAt = e.clock()
	e.book.Remove(order)
	snapshot := *order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(schema.OrderStatusCancelled)
	e.emitStatus(snapshot, events.LevelInfo)
	e.notify(snapshot)
	return true
}

// RegisterCallback subscribes fn to every subsequent status transition
// of the order.
func (e *Engine) RegisterCallback(orderID string, fn Callback) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.callbacks[orderID] = append(e.callbacks[orderID], fn)
	e.mu.Unlock()
}

// Order returns a copy of the order's current record.
func (e *Engine) Order(id string) (schema.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return schema.Order{}, false
	}
	return *order, true
}

// PendingCount reports how many orders sit in the book.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Len()
}

// validate rejects malformed requests before any order state exists.
// It returns the symbol's current price, which every dispatch needs.
func (e *Engine) validate(req schema.OrderRequest) (decimal.Decimal, error) {
	if req.Side != schema.OrderSideBuy && req.Side != schema.OrderSideSell {
		return decimal.Zero, exception.ErrOrderInvalidSide
	}
	switch req.Type {
	case schema.OrderTypeMarket, schema.OrderTypeLimit, schema.OrderTypeStop, schema.OrderTypeStopLimit:
	default:
		return decimal.Zero, exception.ErrOrderInvalidType
	}
	if !req.Quantity.IsPositive() {
		return decimal.Zero, exception.ErrOrderInvalidQuantity
	}
	if (req.Type == schema.OrderTypeLimit || req.Type == schema.OrderTypeStopLimit) && !req.Price.IsPositive() {
		return decimal.Zero, exception.ErrOrderPriceRequired
	}
	if (req.Type == schema.OrderTypeStop || req.Type == schema.OrderTypeStopLimit) && !req.StopPrice.IsPositive() {
		return decimal.Zero, exception.ErrOrderStopPriceRequired
	}
	price, ok := e.source.LatestPrice(req.Symbol)
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrOrderUnknownSymbol, req.Symbol)
	}
	return price, nil
}

// dispatch routes a fresh Pending order by type against the current
// market price.
func (e *Engine) dispatch(ctx context.Context, order *schema.Order, marketPrice decimal.Decimal) {
	switch order.Type {
	case schema.OrderTypeMarket:
		e.execute(ctx, order, e.slip(order.Side, marketPrice))
	case schema.OrderTypeLimit:
		if limitMarketable(order.Side, marketPrice, order.Price) {
			e.execute(ctx, order, order.Price)
		} else {
			e.park(order)
		}
	case schema.OrderTypeStop, schema.OrderTypeStopLimit:
		if stopTriggered(order.Side, marketPrice, order.StopPrice) {
			e.convert(order)
			e.dispatch(ctx, order, marketPrice)
		} else {
			e.park(order)
		}
	}
}

// convert rewrites a triggered stop order into its execution form:
// Stop becomes Market, StopLimit becomes Limit.
func (e *Engine) convert(order *schema.Order) {
	e.mu.Lock()
	if order.Type == schema.OrderTypeStop {
		order.Type = schema.OrderTypeMarket
	} else {
		order.Type = schema.OrderTypeLimit
	}
	order.UpdatedAt = e.clock()
	e.mu.Unlock()
}

// park transitions the order to Submitted and inserts it into the book
// to wait for a price trigger.
func (e *Engine) park(order *schema.Order) {
	e.mu.Lock()
	order.Status = schema.OrderStatusSubmitted
	order.UpdatedAt = e.clock()
	e.book.Add(order)
	snapshot := *order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(schema.OrderStatusSubmitted)
	e.emitStatus(snapshot, events.LevelInfo)
	e.notify(snapshot)
}

// execute places the order with the broker through the circuit breaker
// and, on success, fills the remaining quantity at price. A breaker
// rejection or broker failure rejects the order instead of crashing.
func (e *Engine) execute(ctx context.Context, order *schema.Order, price decimal.Decimal) {
	e.mu.Lock()
	req := gateway.PlaceRequest{
		OrderID:  order.ID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Type:     order.Type,
		Quantity: order.Remaining(),
		Price:    price,
	}
	e.mu.Unlock()

	err := e.brk.ExecuteCtx(ctx, func(ctx context.Context) error {
		return e.gw.PlaceOrder(ctx, req)
	})
	if err != nil {
		if _, open := err.(*breaker.OpenError); open {
			e.metrics.IncBreakerRejection()
		} else if e.errs != nil {
			e.errs.Report(err, events.SeverityMedium, "ExecutionEngine")
		}
		e.reject(order, err)
		return
	}

	e.fill(ctx, order, req.Quantity, price)
}

// fill applies one execution to the order, records it, updates risk
// state, and only then notifies callbacks. The broker call runs outside
// the engine mutex, so the order may have been cancelled while the
// placement was in flight; a fill for a terminal order is dropped, never
// applied over the terminal state.
func (e *Engine) fill(ctx context.Context, order *schema.Order, quantity, price decimal.Decimal) {
	e.mu.Lock()
	if order.Status.Terminal() {
		id, status := order.ID, order.Status
		e.mu.Unlock()
		if e.errs != nil {
			e.errs.Report(fmt.Errorf("fill dropped: order %s is already %s", id, status), events.SeverityMedium, "ExecutionEngine")
		}
		return
	}
	remaining := order.Remaining()
	if quantity.GreaterThan(remaining) {
		quantity = remaining
	}
	filledBefore := order.FilledQuantity
	order.FilledQuantity = filledBefore.Add(quantity)
	notional := order.AverageFillPrice.Mul(filledBefore).Add(price.Mul(quantity))
	order.AverageFillPrice = notional.Div(order.FilledQuantity)
	if order.FilledQuantity.Equal(order.Quantity) {
		order.Status = schema.OrderStatusFilled
		e.book.Remove(order)
	} else {
		order.Status = schema.OrderStatusPartiallyFilled
	}
	order.UpdatedAt = e.clock()
	snapshot := *order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(snapshot.Status)

	if e.store != nil {
		exec := store.Execution{
			OrderID:       snapshot.ID,
			Symbol:        snapshot.Symbol,
			Side:          snapshot.Side.String(),
			Quantity:      quantity,
			Price:         price,
			ClientOrderID: snapshot.ClientOrderID,
			ExecutedAt:    snapshot.UpdatedAt,
		}
		if err := e.store.RecordExecution(ctx, exec); err != nil && e.errs != nil {
			// The fill stands; persistence is append-only best effort.
			e.errs.Report(err, events.SeverityLow, "ExecutionStore")
		}
	}

	e.risk.UpdatePosition(snapshot.Symbol, quantity, price, snapshot.Side)

	e.emitStatus(snapshot, events.LevelInfo)
	e.notify(snapshot)
}

// reject marks the order Rejected with the failure recorded on it. An
// order that reached a terminal state while the broker call was in
// flight keeps that state.
func (e *Engine) reject(order *schema.Order, cause error) {
	e.mu.Lock()
	if order.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	order.Status = schema.OrderStatusRejected
	order.ErrorMessage = cause.Error()
	order.UpdatedAt = e.clock()
	e.book.Remove(order)
	snapshot := *order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(schema.OrderStatusRejected)
	e.emitStatus(snapshot, events.LevelWarning)
	e.notify(snapshot)
}

// expire marks a DAY order Expired and drops it from the book.
func (e *Engine) expire(order *schema.Order) {
	e.mu.Lock()
	order.Status = schema.OrderStatusExpired
	order.UpdatedAt = e.clock()
	e.book.Remove(order)
	snapshot := *order
	e.mu.Unlock()

	e.metrics.IncOrderStatus(schema.OrderStatusExpired)
	e.sink.Emit(events.Event{
		Type:    events.TypeOrderExpired,
		Message: "order expired: " + snapshot.ID,
		Level:   events.LevelInfo,
		Extra: map[string]any{
			"order_id": snapshot.ID,
			"symbol":   snapshot.Symbol,
		},
	})
	e.notify(snapshot)
}

func (e *Engine) emitStatus(order schema.Order, level events.Level) {
	e.sink.Emit(events.Event{
		Type:    events.TypeOrderStatusUpdate,
		Message: "order " + order.ID + " is " + order.Status.String(),
		Level:   level,
		Extra: map[string]any{
			"order_id":        order.ID,
			"symbol":          order.Symbol,
			"status":          order.Status.String(),
			"filled_quantity": order.FilledQuantity.String(),
		},
	})
}

// notify invokes every callback registered for the order. A panicking
// callback is reported and skipped; it never affects the state machine
// or other callbacks.
func (e *Engine) notify(order schema.Order) {
	e.mu.Lock()
	fns := make([]Callback, len(e.callbacks[order.ID]))
	copy(fns, e.callbacks[order.ID])
	e.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil && e.errs != nil {
					e.errs.Report(fmt.Errorf("order callback panic: %v", r), events.SeverityLow, "OrderCallback")
				}
			}()
			fn(order)
		}()
	}
}

func limitMarketable(side schema.OrderSide, marketPrice, limit decimal.Decimal) bool {
	if side == schema.OrderSideBuy {
		return marketPrice.LessThanOrEqual(limit)
	}
	return marketPrice.GreaterThanOrEqual(limit)
}

func stopTriggered(side schema.OrderSide, marketPrice, stop decimal.Decimal) bool {
	if side == schema.OrderSideBuy {
		return marketPrice.GreaterThanOrEqual(stop)
	}
	return marketPrice.LessThanOrEqual(stop)
}
