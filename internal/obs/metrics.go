package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const (
	maxOrderStatus = int(schema.OrderStatusExpired)
	maxRiskReason  = int(schema.RiskReasonInternal)
)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	orderStatusCounts [maxOrderStatus + 1]uint64
	riskReasonCounts  [maxRiskReason + 1]uint64
	breakerRejections uint64

	submitLatency     LatencyStats
	orderSweepLatency LatencyStats
	riskSweepLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	OrderStatusCounts map[schema.OrderStatus]uint64
	RiskReasonCounts  map[schema.RiskReason]uint64
	BreakerRejections uint64
	SubmitLatency     LatencySnapshot
	OrderSweepLatency LatencySnapshot
	RiskSweepLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncOrderStatus counts an order reaching a status.
func (m *Metrics) IncOrderStatus(status schema.OrderStatus) {
	if m == nil {
		return
	}
	idx := int(status)
	if idx >= 0 && idx < len(m.orderStatusCounts) {
		atomic.AddUint64(&m.orderStatusCounts[idx], 1)
	}
}

// IncRiskReason counts a risk rejection by rule.
func (m *Metrics) IncRiskReason(reason schema.RiskReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// IncBreakerRejection counts a fast-fail from an open circuit.
func (m *Metrics) IncBreakerRejection() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.breakerRejections, 1)
}

// ObserveSubmit measures submit-path latency.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// ObserveOrderSweep measures one engine sweep pass.
func (m *Metrics) ObserveOrderSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.orderSweepLatency.Observe(d)
}

// ObserveRiskSweep measures one risk sweep pass.
func (m *Metrics) ObserveRiskSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.riskSweepLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	statusCounts := make(map[schema.OrderStatus]uint64)
	for i := range m.orderStatusCounts {
		if v := atomic.LoadUint64(&m.orderStatusCounts[i]); v > 0 {
			statusCounts[schema.OrderStatus(i)] = v
		}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	return Snapshot{
		OrderStatusCounts: statusCounts,
		RiskReasonCounts:  riskCounts,
		BreakerRejections: atomic.LoadUint64(&m.breakerRejections),
		SubmitLatency:     m.submitLatency.Snapshot(),
		OrderSweepLatency: m.orderSweepLatency.Snapshot(),
		RiskSweepLatency:  m.riskSweepLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
