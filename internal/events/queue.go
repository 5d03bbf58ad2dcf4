package events

import (
	"context"
	"sync/atomic"
)

// AsyncSink decouples event producers from a slow downstream sink with a
// bounded queue. Emit never blocks: when the queue is full the event is
// dropped and counted.
type AsyncSink struct {
	ch      chan Event
	closed  uint32
	dropped uint64
}

// NewAsyncSink allocates a sink with the given queue capacity.
func NewAsyncSink(capacity int) *AsyncSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &AsyncSink{ch: make(chan Event, capacity)}
}

// Emit enqueues an event without blocking.
func (s *AsyncSink) Emit(e Event) {
	if atomic.LoadUint32(&s.closed) != 0 {
		atomic.AddUint64(&s.dropped, 1)
		return
	}
	select {
	case s.ch <- e:
	default:
		atomic.AddUint64(&s.dropped, 1)
	}
}

// Dropped returns the number of events discarded so far.
func (s *AsyncSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropped)
}

// Close stops the sink from accepting new events.
func (s *AsyncSink) Close() {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.ch)
	}
}

// Run forwards queued events to downstream until the context is done or
// the sink is closed and drained.
func (s *AsyncSink) Run(ctx context.Context, downstream Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.ch:
			if !ok {
				return
			}
			downstream.Emit(e)
		}
	}
}
