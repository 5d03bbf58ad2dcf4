package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// PositionSnapshot captures positions at a point in time.
type PositionSnapshot struct {
	Timestamp int64           `json:"timestamp"`
	Positions []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol position entry.
type PositionEntry struct {
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	CostBasis decimal.Decimal `json:"costBasis"`
}

// Snapshot builds a snapshot from current positions.
func (m *Manager) Snapshot() PositionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]PositionEntry, 0, len(m.positions))
	for symbol, pos := range m.positions {
		entries = append(entries, PositionEntry{
			Symbol:    symbol,
			Quantity:  pos.Quantity,
			CostBasis: pos.CostBasis,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})
	return PositionSnapshot{
		Timestamp: m.clock().UnixNano(),
		Positions: entries,
	}
}

// Restore replaces current positions with the snapshot's.
func (m *Manager) Restore(snapshot PositionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions = make(map[string]*schema.Position, len(snapshot.Positions))
	for _, entry := range snapshot.Positions {
		m.positions[entry.Symbol] = &schema.Position{
			Symbol:    entry.Symbol,
			Quantity:  entry.Quantity,
			CostBasis: entry.CostBasis,
		}
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot PositionSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (PositionSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PositionSnapshot{}, err
	}
	var snap PositionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return PositionSnapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots hold the same positions.
func CompareSnapshots(expected, actual PositionSnapshot) error {
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[string]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if !want.Quantity.Equal(entry.Quantity) {
			return fmt.Errorf("snapshot quantity mismatch: symbol=%s expected=%s actual=%s", entry.Symbol, want.Quantity, entry.Quantity)
		}
	}
	return nil
}
