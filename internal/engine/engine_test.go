package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/breaker"
	"main/internal/events"
	"main/internal/gateway"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/exception"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) byType(eventType string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	engine *Engine
	source *market.StaticSource
	gw     *gateway.Sim
	store  *store.Memory
	sink   *captureSink
	clock  *fakeClock
	risk   *risk.Manager
}

func newHarness(t *testing.T, opts func(*Options)) *harness {
	t.Helper()

	source := market.NewStaticSource()
	gw := gateway.NewSim()
	mem := store.NewMemory()
	sink := &captureSink{}
	clock := newFakeClock()

	riskMgr := risk.NewManager(risk.Config{
		DefaultLimit: schema.PositionLimit{
			MaxPositionSize:  decimal.NewFromInt(100_000),
			MaxNotionalValue: decimal.NewFromInt(100_000_000),
			MaxDailyTrades:   1000,
			MaxDailyVolume:   decimal.NewFromInt(1_000_000),
			MaxConcentration: decimal.NewFromInt(1),
		},
	}, source, events.Discard, nil, nil, clock.Now)

	o := Options{
		Source:   source,
		Gateway:  gw,
		Risk:     riskMgr,
		Store:    mem,
		Sink:     sink,
		Metrics:  obs.NewMetrics(),
		Clock:    clock.Now,
		Slippage: BasisPointSlippage(5),
	}
	if opts != nil {
		opts(&o)
	}

	eng, err := New(o)
	require.NoError(t, err)
	return &harness{engine: eng, source: source, gw: gw, store: mem, sink: sink, clock: clock, risk: riskMgr}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSubmitMarketOrderFills(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.OrderStatusFilled, order.Status)
	assert.True(t, order.FilledQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, order.FilledQuantity.LessThanOrEqual(order.Quantity))

	// Slippage worsens the taker's price: buys fill at or above reference.
	assert.True(t, order.AverageFillPrice.GreaterThanOrEqual(d("150")),
		"fill=%s", order.AverageFillPrice)
	assert.True(t, order.AverageFillPrice.Equal(d("150.075")))

	// Fill updated the position before anyone was notified.
	pos, ok := h.risk.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(100)))

	// Execution persisted.
	execs := h.store.Executions()
	require.Len(t, execs, 1)
	assert.Equal(t, order.ID, execs[0].OrderID)

	requests := h.gw.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, order.ID, requests[0].OrderID)
}

func TestSubmitMarketSellSlippageWorsens(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideSell,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.True(t, order.AverageFillPrice.LessThanOrEqual(d("150")))
}

func TestSubmitLimitOrderNotMarketable(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("151"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(100),
		Price:    d("150"),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.OrderStatusSubmitted, order.Status)
	assert.Equal(t, 1, h.engine.PendingCount())
	assert.Empty(t, h.gw.Requests())

	// Price drops to the limit: the sweep fills at the limit price.
	h.source.SetPrice("AAPL", d("150"))
	h.engine.Sweep(context.Background())

	filled, ok := h.engine.Order(order.ID)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AverageFillPrice.Equal(d("150")))
	assert.Zero(t, h.engine.PendingCount())
}

func TestSubmitLimitOrderMarketableFillsImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("149"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(100),
		Price:    d("150"),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.OrderStatusFilled, order.Status)
	assert.True(t, order.AverageFillPrice.Equal(d("150")))
}

func TestStopOrderConvertsOnTrigger(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:    "AAPL",
		Side:      schema.OrderSideSell,
		Type:      schema.OrderTypeStop,
		Quantity:  decimal.NewFromInt(100),
		StopPrice: d("145"),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, order.Status)

	// Above the stop: nothing happens.
	h.source.SetPrice("AAPL", d("146"))
	h.engine.Sweep(context.Background())
	current, _ := h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusSubmitted, current.Status)

	// At the stop: converts to market and fills with slippage against
	// the seller.
	h.source.SetPrice("AAPL", d("145"))
	h.engine.Sweep(context.Background())

	current, _ = h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusFilled, current.Status)
	assert.Equal(t, schema.OrderTypeMarket, current.Type)
	assert.True(t, current.AverageFillPrice.LessThanOrEqual(d("145")))
	assert.Zero(t, h.engine.PendingCount())
}

func TestStopLimitConvertsToLimitAndWaits(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:    "AAPL",
		Side:      schema.OrderSideSell,
		Type:      schema.OrderTypeStopLimit,
		Quantity:  decimal.NewFromInt(100),
		Price:     d("146"),
		StopPrice: d("145"),
	})
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusSubmitted, order.Status)

	// Stop triggers but the limit is not marketable: sell at 146 with
	// the market at 145.
	h.source.SetPrice("AAPL", d("145"))
	h.engine.Sweep(context.Background())

	current, _ := h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusSubmitted, current.Status)
	assert.Equal(t, schema.OrderTypeLimit, current.Type)
	assert.Equal(t, 1, h.engine.PendingCount())

	// Market recovers to the limit: fills at the limit price.
	h.source.SetPrice("AAPL", d("146"))
	h.engine.Sweep(context.Background())

	current, _ = h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusFilled, current.Status)
	assert.True(t, current.AverageFillPrice.Equal(d("146")))
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))
	ctx := context.Background()

	_, err := h.engine.SubmitOrder(ctx, schema.OrderRequest{
		Symbol: "AAPL", Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket,
		Quantity: decimal.Zero,
	})
	assert.ErrorIs(t, err, exception.ErrOrderInvalidQuantity)

	_, err = h.engine.SubmitOrder(ctx, schema.OrderRequest{
		Symbol: "AAPL", Side: schema.OrderSideBuy, Type: schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrOrderPriceRequired)

	_, err = h.engine.SubmitOrder(ctx, schema.OrderRequest{
		Symbol: "AAPL", Side: schema.OrderSideBuy, Type: schema.OrderTypeStop,
		Quantity: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrOrderStopPriceRequired)

	_, err = h.engine.SubmitOrder(ctx, schema.OrderRequest{
		Symbol: "UNPRICED", Side: schema.OrderSideBuy, Type: schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrOrderUnknownSymbol)

	_, err = h.engine.SubmitOrder(ctx, schema.OrderRequest{
		Symbol: "AAPL", Type: schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
	})
	assert.ErrorIs(t, err, exception.ErrOrderInvalidSide)

	// Nothing survived validation.
	assert.Empty(t, h.sink.byType(events.TypeOrderCreated))
}

func TestSubmitRiskRejected(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Risk = risk.NewManager(risk.Config{}, market.NewStaticSource(), events.Discard, nil, nil, nil)
	})
	h.source.SetPrice("AAPL", d("150"))

	// Default per-symbol limit caps position size at 1000.
	_, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(1001),
	})
	assert.ErrorIs(t, err, exception.ErrRiskRejected)
	assert.Empty(t, h.sink.byType(events.TypeOrderCreated))
	assert.Empty(t, h.gw.Requests())
}

func TestSubmitBrokerFailureRejectsOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))
	h.gw.FailWith(func(gateway.PlaceRequest) error {
		return errors.New("venue unavailable")
	})

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.Equal(t, schema.OrderStatusRejected, order.Status)
	assert.Contains(t, order.ErrorMessage, "venue unavailable")
	assert.True(t, order.FilledQuantity.IsZero())

	_, ok := h.risk.Position("AAPL")
	assert.False(t, ok)
}

func TestSubmitBreakerOpenRejectsFast(t *testing.T) {
	clock := newFakeClock()
	var brk *breaker.Breaker
	h := newHarness(t, func(o *Options) {
		o.Clock = clock.Now
		brk = breaker.New("gateway", breaker.Config{FailureThreshold: 1}, clock.Now, events.Discard)
		o.Breaker = brk
	})
	h.source.SetPrice("AAPL", d("150"))
	h.gw.FailWith(func(gateway.PlaceRequest) error {
		return errors.New("venue unavailable")
	})

	ctx := context.Background()
	req := schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	}

	// First failure trips the breaker.
	order, err := h.engine.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusRejected, order.Status)
	assert.Equal(t, breaker.StateOpen, brk.Status().State)

	// The gateway recovers, but the open breaker still fast-fails.
	h.gw.FailWith(nil)
	order, err = h.engine.SubmitOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusRejected, order.Status)
	assert.Contains(t, order.ErrorMessage, "open")
	assert.Empty(t, h.gw.Requests())
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("151"))

	parked, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(100),
		Price:    d("150"),
	})
	require.NoError(t, err)
	require.Equal(t, schema.OrderStatusSubmitted, parked.Status)

	assert.True(t, h.engine.CancelOrder(parked.ID))
	assert.Zero(t, h.engine.PendingCount())

	cancelled, _ := h.engine.Order(parked.ID)
	assert.Equal(t, schema.OrderStatusCancelled, cancelled.Status)

	// A second cancel is a no-op, as is cancelling a filled order.
	assert.False(t, h.engine.CancelOrder(parked.ID))
	assert.False(t, h.engine.CancelOrder("no-such-order"))

	filled, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	require.Equal(t, schema.OrderStatusFilled, filled.Status)

	assert.False(t, h.engine.CancelOrder(filled.ID))
	unchanged, _ := h.engine.Order(filled.ID)
	assert.Equal(t, schema.OrderStatusFilled, unchanged.Status)
}

func TestCancelDuringPlacementStaysCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	// The broker call runs outside the engine mutex, so a cancel can
	// land while the placement is in flight. Once the caller has been
	// told the cancel succeeded, the returning fill must be dropped.
	var cancelled bool
	h.gw.FailWith(func(req gateway.PlaceRequest) error {
		cancelled = h.engine.CancelOrder(req.OrderID)
		return nil
	})

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	assert.True(t, cancelled)
	assert.Equal(t, schema.OrderStatusCancelled, order.Status)
	assert.True(t, order.FilledQuantity.IsZero())

	// No risk update and no execution for the dropped fill.
	_, ok := h.risk.Position("AAPL")
	assert.False(t, ok)
	assert.Empty(t, h.store.Executions())
}

func TestCancelDuringFailedPlacementStaysCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	h.gw.FailWith(func(req gateway.PlaceRequest) error {
		h.engine.CancelOrder(req.OrderID)
		return errors.New("venue unavailable")
	})

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeMarket,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	// Cancelled is terminal; the late broker failure must not overwrite
	// it with Rejected.
	assert.Equal(t, schema.OrderStatusCancelled, order.Status)
	assert.Empty(t, order.ErrorMessage)
}

func TestDayOrderExpiresOnDateRollover(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("151"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:      "AAPL",
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		Quantity:    decimal.NewFromInt(100),
		Price:       d("150"),
		TimeInForce: schema.TimeInForceDay,
	})
	require.NoError(t, err)

	// Later the same day: still live.
	h.clock.Advance(6 * time.Hour)
	h.engine.Sweep(context.Background())
	current, _ := h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusSubmitted, current.Status)

	// Next calendar day: expired and out of the book.
	h.clock.Advance(24 * time.Hour)
	h.engine.Sweep(context.Background())

	current, _ = h.engine.Order(order.ID)
	assert.Equal(t, schema.OrderStatusExpired, current.Status)
	assert.Zero(t, h.engine.PendingCount())
	assert.Len(t, h.sink.byType(events.TypeOrderExpired), 1)
}

func TestCallbacksObserveTransitions(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("151"))

	order, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
		Symbol:   "AAPL",
		Side:     schema.OrderSideBuy,
		Type:     schema.OrderTypeLimit,
		Quantity: decimal.NewFromInt(100),
		Price:    d("150"),
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []schema.OrderStatus
	h.engine.RegisterCallback(order.ID, func(o schema.Order) {
		mu.Lock()
		seen = append(seen, o.Status)
		mu.Unlock()
	})
	// A panicking callback must not disturb the one above.
	h.engine.RegisterCallback(order.ID, func(schema.Order) {
		panic("observer bug")
	})

	h.source.SetPrice("AAPL", d("150"))
	h.engine.Sweep(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	assert.Equal(t, schema.OrderStatusFilled, seen[0])
}

func TestConcurrentSubmits(t *testing.T) {
	h := newHarness(t, nil)
	h.source.SetPrice("AAPL", d("150"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.SubmitOrder(context.Background(), schema.OrderRequest{
				Symbol:   "AAPL",
				Side:     schema.OrderSideBuy,
				Type:     schema.OrderTypeMarket,
				Quantity: decimal.NewFromInt(10),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, ok := h.risk.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(decimal.NewFromInt(320)))
	assert.Len(t, h.store.Executions(), 32)
}
