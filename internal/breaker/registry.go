package breaker

import (
	"sync"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// Registry keeps every named breaker reachable for status reporting.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

// Register adds a breaker. Registering a duplicate name is a contract
// violation, never a silent overwrite.
func (r *Registry) Register(b *Breaker) error {
	if b == nil {
		return exception.ErrNilInstance
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[b.Name()]; ok {
		return errors.Wrap(exception.ErrBreakerDuplicate, b.Name())
	}
	r.breakers[b.Name()] = b
	return nil
}

// Get returns a breaker by name.
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	return b, ok
}

// Statuses snapshots every registered breaker.
func (r *Registry) Statuses() map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Status, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Status()
	}
	return out
}
