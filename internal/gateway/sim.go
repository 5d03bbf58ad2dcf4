package gateway

import (
	"context"
	"sync"
)

var _ Gateway = (*Sim)(nil)

// Sim accepts every placement unless a failure function is installed.
// It records requests so tests can assert on what reached the venue.
type Sim struct {
	mu       sync.Mutex
	fail     func(req PlaceRequest) error
	requests []PlaceRequest
}

// NewSim creates a gateway that accepts everything.
func NewSim() *Sim {
	return &Sim{}
}

// FailWith installs a failure function. A nil function restores normal
// acceptance.
func (s *Sim) FailWith(fn func(req PlaceRequest) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// PlaceOrder implements Gateway.
func (s *Sim) PlaceOrder(_ context.Context, req PlaceRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail != nil {
		if err := s.fail(req); err != nil {
			return err
		}
	}
	s.requests = append(s.requests, req)
	return nil
}

// Requests returns a copy of every accepted placement.
func (s *Sim) Requests() []PlaceRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlaceRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
