// Package breaker isolates failures of external collaborators behind a
// three-state circuit breaker. Calls flow normally while Closed, are
// rejected fast while Open, and probe the collaborator while Half-Open.
package breaker

import (
	"context"
	"sync"
	"time"

	"main/internal/events"
	"main/internal/schema"
)

// State is the breaker's admission mode.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config defines the transition thresholds.
type Config struct {
	FailureThreshold  int
	ResetTimeout      time.Duration
	TestCallsRequired int
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.TestCallsRequired <= 0 {
		c.TestCallsRequired = 3
	}
	return c
}

// Status is a snapshot of the breaker's internal state.
type Status struct {
	Name              string
	State             State
	LastTransition    time.Time
	FailureCount      int
	LastFailure       time.Time
	HalfOpenSuccesses int
}

// OpenError is returned when a call is rejected without being invoked.
// It is distinct from collaborator failures so callers can apply a
// different backoff.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return "breaker: circuit " + e.Name + " is open"
}

// Breaker wraps an arbitrary operation with failure isolation. All state
// is guarded by one mutex; the wrapped operation itself runs outside the
// lock so slow collaborators never block unrelated callers.
type Breaker struct {
	name  string
	cfg   Config
	clock schema.Clock
	sink  events.Sink

	mu     sync.Mutex
	status Status
}

// New creates a breaker in the Closed state.
func New(name string, cfg Config, clock schema.Clock, sink events.Sink) *Breaker {
	if clock == nil {
		clock = schema.UTCNow
	}
	if sink == nil {
		sink = events.Discard
	}
	return &Breaker{
		name:  name,
		cfg:   cfg.withDefaults(),
		clock: clock,
		sink:  sink,
		status: Status{
			Name:           name,
			State:          StateClosed,
			LastTransition: clock(),
		},
	}
}

// Name returns the breaker's registry name.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op under breaker protection. A rejected call returns
// *OpenError without invoking op; op's own error propagates after being
// recorded as a failure.
func (b *Breaker) Execute(op func() error) error {
	if !b.admit() {
		return &OpenError{Name: b.name}
	}
	if err := op(); err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// ExecuteCtx is Execute with an upfront context check.
func (b *Breaker) ExecuteCtx(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Execute(func() error { return op(ctx) })
}

// Status returns a copy of the current status.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// admit decides whether a call may proceed. The Open -> HalfOpen
// check-and-transition happens here, atomically: the first caller past
// the reset timeout performs the transition, everyone else observes it.
func (b *Breaker) admit() bool {
	b.mu.Lock()
	var evt *events.Event
	admitted := false

	switch b.status.State {
	case StateClosed, StateHalfOpen:
		admitted = true
	case StateOpen:
		if b.clock().Sub(b.status.LastTransition) >= b.cfg.ResetTimeout {
			evt = b.transition(StateHalfOpen)
			admitted = true
		}
	}
	b.mu.Unlock()

	b.emit(evt)
	return admitted
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	var evt *events.Event

	switch b.status.State {
	case StateHalfOpen:
		b.status.HalfOpenSuccesses++
		if b.status.HalfOpenSuccesses >= b.cfg.TestCallsRequired {
			evt = b.transition(StateClosed)
		}
	case StateClosed:
		b.status.FailureCount = 0
	}
	b.mu.Unlock()

	b.emit(evt)
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	var evt *events.Event

	b.status.LastFailure = b.clock()

	switch b.status.State {
	case StateHalfOpen:
		evt = b.transition(StateOpen)
	case StateClosed:
		b.status.FailureCount++
		if b.status.FailureCount >= b.cfg.FailureThreshold {
			evt = b.transition(StateOpen)
		}
	}
	b.mu.Unlock()

	b.emit(evt)
}

// transition must be called with the mutex held. The returned event is
// emitted by the caller after releasing the lock, so a slow sink never
// stalls admission checks.
func (b *Breaker) transition(next State) *events.Event {
	prev := b.status.State
	b.status.State = next
	b.status.LastTransition = b.clock()

	switch next {
	case StateClosed:
		b.status.FailureCount = 0
		b.status.HalfOpenSuccesses = 0
	case StateHalfOpen:
		b.status.HalfOpenSuccesses = 0
	}

	level := events.LevelInfo
	if next == StateOpen {
		level = events.LevelWarning
	}
	return &events.Event{
		Type:    events.TypeBreakerTransition,
		Message: "circuit " + b.name + " transitioned from " + prev.String() + " to " + next.String(),
		Level:   level,
		Extra: map[string]any{
			"breaker": b.name,
			"from":    prev.String(),
			"to":      next.String(),
		},
	}
}

func (b *Breaker) emit(evt *events.Event) {
	if evt != nil {
		b.sink.Emit(*evt)
	}
}
