// Package risk tracks positions and enforces pre-trade and continuous
// limits. One mutex guards positions, limits, and daily counters so an
// admission check always observes a consistent snapshot.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/events"
	"main/internal/market"
	"main/internal/obs"
	"main/internal/schema"
)

// Config defines the manager's global limits and the default per-symbol
// limit applied when none is set.
type Config struct {
	DefaultLimit     schema.PositionLimit
	MaxTotalExposure decimal.Decimal
	MaxDrawdown      decimal.Decimal

	// VaRFraction is the proxy model's flat fraction of total exposure.
	// It is a placeholder, not a statistical estimator.
	VaRFraction decimal.Decimal
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit.MaxPositionSize.IsZero() {
		c.DefaultLimit = DefaultLimit()
	}
	if c.MaxTotalExposure.IsZero() {
		c.MaxTotalExposure = decimal.NewFromInt(1_000_000)
	}
	if c.MaxDrawdown.IsZero() {
		c.MaxDrawdown = decimal.RequireFromString("0.1")
	}
	if c.VaRFraction.IsZero() {
		c.VaRFraction = decimal.RequireFromString("0.02")
	}
	return c
}

// DefaultLimit is the per-symbol limit applied when none is configured.
func DefaultLimit() schema.PositionLimit {
	return schema.PositionLimit{
		MaxPositionSize:  decimal.NewFromInt(1000),
		MaxNotionalValue: decimal.NewFromInt(100_000),
		MaxDailyTrades:   100,
		MaxDailyVolume:   decimal.NewFromInt(10_000),
		MaxConcentration: decimal.RequireFromString("0.2"),
	}
}

// Manager answers admission checks and applies fills to positions.
type Manager struct {
	cfg     Config
	source  market.Source
	sink    events.Sink
	errs    events.ErrorSink
	metrics *obs.Metrics
	clock   schema.Clock

	mu          sync.Mutex
	positions   map[string]*schema.Position
	limits      map[string]schema.PositionLimit
	stops       map[string]decimal.Decimal
	dailyTrades map[string]int
	dailyVolume map[string]decimal.Decimal
	day         time.Time
}

// NewManager wires a manager with its collaborators.
func NewManager(cfg Config, source market.Source, sink events.Sink, errs events.ErrorSink, metrics *obs.Metrics, clock schema.Clock) *Manager {
	if clock == nil {
		clock = schema.UTCNow
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Manager{
		cfg:         cfg.withDefaults(),
		source:      source,
		sink:        sink,
		errs:        errs,
		metrics:     metrics,
		clock:       clock,
		positions:   make(map[string]*schema.Position),
		limits:      make(map[string]schema.PositionLimit),
		stops:       make(map[string]decimal.Decimal),
		dailyTrades: make(map[string]int),
		dailyVolume: make(map[string]decimal.Decimal),
		day:         clock().Truncate(24 * time.Hour),
	}
}

// CheckOrderRisk reports whether the order is acceptable. It never
// returns an error: any rule violation or internal failure yields false,
// with the specific reason logged.
func (m *Manager) CheckOrderRisk(symbol string, side schema.OrderSide, quantity, price decimal.Decimal) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if m.errs != nil {
				m.errs.Report(fmt.Errorf("risk check panic: %v", r), events.SeverityHigh, "RiskManager")
			}
			m.metrics.IncRiskReason(schema.RiskReasonInternal)
			ok = false
		}
	}()

	m.mu.Lock()
	reason := m.evaluate(symbol, side, quantity, price)
	m.mu.Unlock()

	if reason == schema.RiskReasonNone {
		return true
	}

	m.metrics.IncRiskReason(reason)
	m.sink.Emit(events.Event{
		Type:    events.TypeRiskLimitExceeded,
		Message: reason.String() + " limit exceeded for " + symbol,
		Level:   events.LevelWarning,
		Extra: map[string]any{
			"symbol":   symbol,
			"side":     side.String(),
			"quantity": quantity.String(),
			"reason":   reason.String(),
		},
	})
	return false
}

// evaluate runs every rule under the mutex so position, limit, and daily
// counters are read as one consistent snapshot.
func (m *Manager) evaluate(symbol string, side schema.OrderSide, quantity, price decimal.Decimal) schema.RiskReason {
	limit := m.limitFor(symbol)

	current := decimal.Zero
	if pos, ok := m.positions[symbol]; ok {
		current = pos.Quantity
	}
	postTrade := current.Add(quantity)
	if side == schema.OrderSideSell {
		postTrade = current.Sub(quantity)
	}

	if postTrade.Abs().GreaterThan(limit.MaxPositionSize) {
		return schema.RiskReasonPositionSize
	}

	if postTrade.Mul(price).Abs().GreaterThan(limit.MaxNotionalValue) {
		return schema.RiskReasonNotionalValue
	}

	if m.dailyTrades[symbol] >= limit.MaxDailyTrades {
		return schema.RiskReasonDailyTrades
	}

	volume, ok := m.dailyVolume[symbol]
	if !ok {
		volume = decimal.Zero
	}
	if volume.Add(quantity).GreaterThan(limit.MaxDailyVolume) {
		return schema.RiskReasonDailyVolume
	}

	// Zero total exposure means the portfolio is unconstrained by
	// concentration; dividing would be undefined.
	exposure := m.totalExposure()
	if exposure.IsPositive() {
		orderNotional := quantity.Mul(price).Abs()
		if orderNotional.Div(exposure).GreaterThan(limit.MaxConcentration) {
			return schema.RiskReasonConcentration
		}
	}

	return schema.RiskReasonNone
}

// UpdatePosition applies one fill to position, cost basis, and daily
// counters, then emits a position-update event.
func (m *Manager) UpdatePosition(symbol string, quantity, price decimal.Decimal, side schema.OrderSide) {
	m.mu.Lock()

	pos, ok := m.positions[symbol]
	if !ok {
		pos = &schema.Position{Symbol: symbol}
		m.positions[symbol] = pos
	}

	tradeCost := quantity.Mul(price)
	if side == schema.OrderSideBuy {
		pos.Quantity = pos.Quantity.Add(quantity)
		pos.CostBasis = pos.CostBasis.Add(tradeCost)
	} else {
		pos.Quantity = pos.Quantity.Sub(quantity)
		pos.CostBasis = pos.CostBasis.Sub(tradeCost)
	}
	pos.MarketPrice = price

	m.dailyTrades[symbol]++
	volume, ok := m.dailyVolume[symbol]
	if !ok {
		volume = decimal.Zero
	}
	m.dailyVolume[symbol] = volume.Add(quantity)

	newPosition := pos.Quantity
	averageCost := pos.AverageCost()
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:    events.TypePositionUpdate,
		Message: "position updated for " + symbol,
		Level:   events.LevelInfo,
		Extra: map[string]any{
			"symbol":       symbol,
			"new_position": newPosition.String(),
			"average_cost": averageCost.String(),
		},
	})
}

// Position returns a copy of the symbol's position, marked to the
// latest known price so its UnrealizedPnL is current.
func (m *Manager) Position(symbol string) (schema.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return schema.Position{}, false
	}
	if price, known := m.source.LatestPrice(symbol); known {
		pos.MarketPrice = price
	}
	return *pos, true
}

// SetPositionLimit replaces the symbol's limit wholesale.
func (m *Manager) SetPositionLimit(symbol string, limit schema.PositionLimit) {
	m.mu.Lock()
	m.limits[symbol] = limit
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:    events.TypeLimitUpdate,
		Message: "position limit updated for " + symbol,
		Level:   events.LevelInfo,
		Extra: map[string]any{
			"symbol":       symbol,
			"max_position": limit.MaxPositionSize.String(),
			"max_notional": limit.MaxNotionalValue.String(),
		},
	})
}

// SetStopLoss replaces the symbol's stop level.
func (m *Manager) SetStopLoss(symbol string, stopLevel decimal.Decimal) {
	m.mu.Lock()
	m.stops[symbol] = stopLevel
	m.mu.Unlock()

	m.sink.Emit(events.Event{
		Type:    events.TypeStopLossSet,
		Message: "stop loss set for " + symbol,
		Level:   events.LevelInfo,
		Extra: map[string]any{
			"symbol":     symbol,
			"stop_level": stopLevel.String(),
		},
	})
}

// Metrics computes a fresh snapshot from current positions and latest
// prices.
func (m *Manager) Metrics() schema.RiskMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metricsLocked()
}

func (m *Manager) metricsLocked() schema.RiskMetrics {
	exposure := m.totalExposure()
	dailyPnL := m.dailyPnL()

	largest := decimal.Zero
	for _, pos := range m.positions {
		if abs := pos.Quantity.Abs(); abs.GreaterThan(largest) {
			largest = abs
		}
	}

	trades := 0
	for _, n := range m.dailyTrades {
		trades += n
	}
	volume := decimal.Zero
	for _, v := range m.dailyVolume {
		volume = volume.Add(v)
	}

	drawdown := decimal.Zero
	if exposure.IsPositive() && dailyPnL.IsNegative() {
		drawdown = dailyPnL.Div(exposure).Neg()
	}

	return schema.RiskMetrics{
		TotalExposure:   exposure,
		LargestPosition: largest,
		PositionCount:   len(m.positions),
		DailyPnL:        dailyPnL,
		DailyTrades:     trades,
		DailyVolume:     volume,
		VaR95:           exposure.Mul(m.cfg.VaRFraction),
		CurrentDrawdown: drawdown,
	}
}

// totalExposure sums |position * price| over symbols with a known price,
// refreshing each position's mark along the way. Callers hold the mutex.
func (m *Manager) totalExposure() decimal.Decimal {
	total := decimal.Zero
	for symbol, pos := range m.positions {
		price, ok := m.source.LatestPrice(symbol)
		if !ok {
			continue
		}
		pos.MarketPrice = price
		total = total.Add(pos.Quantity.Mul(price).Abs())
	}
	return total
}

// dailyPnL sums position*price - cost basis: unrealized P&L on open
// positions plus what flat positions realized. Callers hold the mutex.
func (m *Manager) dailyPnL() decimal.Decimal {
	total := decimal.Zero
	for symbol, pos := range m.positions {
		price, ok := m.source.LatestPrice(symbol)
		if !ok {
			continue
		}
		pos.MarketPrice = price
		total = total.Add(pos.Quantity.Mul(price).Sub(pos.CostBasis))
	}
	return total
}

// Sweep runs one risk pass: global breach checks, stop-loss checks, and
// the daily counter reset. Errors on one symbol never stall the rest.
func (m *Manager) Sweep() {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil && m.errs != nil {
			m.errs.Report(fmt.Errorf("risk sweep panic: %v", r), events.SeverityHigh, "RiskManager")
		}
	}()

	m.checkGlobalLimits()
	m.checkStopLosses()
	m.resetDailyCountersIfNeeded()

	m.metrics.ObserveRiskSweep(time.Since(start))
}

// Run drives Sweep on a fixed interval until the context is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) checkGlobalLimits() {
	metrics := m.Metrics()

	if metrics.TotalExposure.GreaterThan(m.cfg.MaxTotalExposure) {
		m.sink.Emit(events.Event{
			Type:    events.TypeRiskLimitBreach,
			Message: "total exposure " + metrics.TotalExposure.String() + " exceeds limit " + m.cfg.MaxTotalExposure.String(),
			Level:   events.LevelCritical,
			Extra: map[string]any{
				"breach":   "TOTAL_EXPOSURE",
				"exposure": metrics.TotalExposure.String(),
				"limit":    m.cfg.MaxTotalExposure.String(),
			},
		})
	}

	if metrics.CurrentDrawdown.GreaterThan(m.cfg.MaxDrawdown) {
		m.sink.Emit(events.Event{
			Type:    events.TypeRiskLimitBreach,
			Message: "drawdown " + metrics.CurrentDrawdown.String() + " exceeds limit " + m.cfg.MaxDrawdown.String(),
			Level:   events.LevelCritical,
			Extra: map[string]any{
				"breach":   "DRAWDOWN",
				"drawdown": metrics.CurrentDrawdown.String(),
				"limit":    m.cfg.MaxDrawdown.String(),
			},
		})
	}
}

func (m *Manager) checkStopLosses() {
	type triggered struct {
		symbol       string
		positionType string
		price        decimal.Decimal
		stop         decimal.Decimal
		pnl          decimal.Decimal
	}

	m.mu.Lock()
	var hits []triggered
	for symbol, stop := range m.stops {
		pos, ok := m.positions[symbol]
		if !ok || pos.Quantity.IsZero() {
			continue
		}
		price, ok := m.source.LatestPrice(symbol)
		if !ok {
			continue
		}
		pos.MarketPrice = price
		if pos.Quantity.IsPositive() && price.LessThanOrEqual(stop) {
			hits = append(hits, triggered{symbol, "LONG", price, stop, pos.UnrealizedPnL()})
		} else if pos.Quantity.IsNegative() && price.GreaterThanOrEqual(stop) {
			hits = append(hits, triggered{symbol, "SHORT", price, stop, pos.UnrealizedPnL()})
		}
	}
	m.mu.Unlock()

	for _, hit := range hits {
		m.sink.Emit(events.Event{
			Type:    events.TypeStopLossTriggered,
			Message: "stop loss triggered for " + hit.symbol + " " + hit.positionType + " position",
			Level:   events.LevelWarning,
			Extra: map[string]any{
				"symbol":         hit.symbol,
				"position_type":  hit.positionType,
				"current_price":  hit.price.String(),
				"stop_level":     hit.stop.String(),
				"unrealized_pnl": hit.pnl.String(),
			},
		})
	}
}

// resetDailyCountersIfNeeded clears daily trade and volume counters when
// the UTC calendar date has advanced.
func (m *Manager) resetDailyCountersIfNeeded() {
	today := m.clock().Truncate(24 * time.Hour)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !today.After(m.day) {
		return
	}
	m.day = today
	m.dailyTrades = make(map[string]int)
	m.dailyVolume = make(map[string]decimal.Decimal)
}

func (m *Manager) limitFor(symbol string) schema.PositionLimit {
	if limit, ok := m.limits[symbol]; ok {
		return limit
	}
	return m.cfg.DefaultLimit
}
