package store

import (
	"context"
	"sync"
)

var _ ExecutionStore = (*Memory)(nil)

// Memory keeps executions in a slice. Used by the demo binary when no
// database is configured, and by tests.
type Memory struct {
	mu    sync.Mutex
	execs []Execution
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// RecordExecution implements ExecutionStore.
func (m *Memory) RecordExecution(_ context.Context, exec Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec.ID = uint(len(m.execs) + 1)
	m.execs = append(m.execs, exec)
	return nil
}

// Executions returns a copy of everything recorded so far.
func (m *Memory) Executions() []Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Execution, len(m.execs))
	copy(out, m.execs)
	return out
}
