package engine

import (
	"context"
	"fmt"
	"time"

	"main/internal/events"
	"main/internal/schema"
)

// Sweep re-evaluates every live order against the latest prices: limit
// orders whose trigger now holds fill at their limit price, stop orders
// convert and re-dispatch, and DAY orders past their creation date
// expire. A failure on one order is reported and never stalls the rest.
func (e *Engine) Sweep(ctx context.Context) {
	start := time.Now()

	e.mu.Lock()
	live := make([]*schema.Order, 0, len(e.orders))
	for _, order := range e.orders {
		if order.Status == schema.OrderStatusSubmitted || order.Status == schema.OrderStatusPartiallyFilled {
			live = append(live, order)
		}
	}
	e.mu.Unlock()

	today := e.clock().Truncate(24 * time.Hour)
	for _, order := range live {
		e.sweepOne(ctx, order, today)
	}

	e.metrics.ObserveOrderSweep(time.Since(start))
}

// Run drives Sweep on a fixed interval until the context is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

func (e *Engine) sweepOne(ctx context.Context, order *schema.Order, today time.Time) {
	defer func() {
		if r := recover(); r != nil && e.errs != nil {
			e.errs.Report(fmt.Errorf("order sweep panic: %v", r), events.SeverityMedium, "ExecutionEngine")
		}
	}()

	e.mu.Lock()
	status := order.Status
	orderType := order.Type
	side := order.Side
	symbol := order.Symbol
	limit := order.Price
	stop := order.StopPrice
	tif := order.TimeInForce
	created := order.CreatedAt
	e.mu.Unlock()

	if status.Terminal() {
		return
	}

	if tif == schema.TimeInForceDay && today.After(created.Truncate(24*time.Hour)) {
		e.expire(order)
		return
	}

	marketPrice, ok := e.source.LatestPrice(symbol)
	if !ok {
		return
	}

	switch orderType {
	case schema.OrderTypeLimit:
		if limitMarketable(side, marketPrice, limit) {
			e.execute(ctx, order, limit)
		}
	case schema.OrderTypeStop:
		if stopTriggered(side, marketPrice, stop) {
			e.convert(order)
			e.execute(ctx, order, e.slip(side, marketPrice))
		}
	case schema.OrderTypeStopLimit:
		if stopTriggered(side, marketPrice, stop) {
			// Converts in place; the order stays in the book as a
			// limit order until its limit price is marketable.
			e.convert(order)
			if limitMarketable(side, marketPrice, limit) {
				e.execute(ctx, order, limit)
			}
		}
	}
}
