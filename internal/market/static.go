package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var _ Source = (*StaticSource)(nil)

// StaticSource is an in-memory price table. Tests and the demo binary
// drive it with SetPrice to simulate ticks.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	bars   map[string][]Bar
}

// NewStaticSource creates an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{
		prices: make(map[string]decimal.Decimal),
		bars:   make(map[string][]Bar),
	}
}

// SetPrice records the latest price for a symbol.
func (s *StaticSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// AddBar appends one historical bar for a symbol.
func (s *StaticSource) AddBar(symbol string, bar Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bars[symbol] = append(s.bars[symbol], bar)
}

// LatestPrice implements Source.
func (s *StaticSource) LatestPrice(symbol string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[symbol]
	return price, ok
}

// HistoricalData implements Source.
func (s *StaticSource) HistoricalData(symbol string, start, end time.Time) ([]Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars, ok := s.bars[symbol]
	if !ok {
		return nil, false
	}

	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if b.Timestamp.Before(start) || b.Timestamp.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, true
}
