package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestHandlerThreshold(t *testing.T) {
	sink := &captureSink{}
	h := NewHandler(nil, sink, map[Severity]int{SeverityHigh: 3})

	errBroker := errors.New("broker down")
	h.Report(errBroker, SeverityHigh, "execution")
	h.Report(errBroker, SeverityHigh, "execution")
	assert.Empty(t, sink.all())

	h.Report(errBroker, SeverityHigh, "execution")
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, TypeErrorThreshold, got[0].Type)
	assert.Equal(t, LevelCritical, got[0].Level)
	assert.Equal(t, 3, h.Count("execution"))
}

func TestHandlerCriticalFiresImmediately(t *testing.T) {
	sink := &captureSink{}
	h := NewHandler(nil, sink, nil)

	h.Report(errors.New("boom"), SeverityCritical, "risk")
	require.Len(t, sink.all(), 1)
}

func TestHandlerIgnoresNil(t *testing.T) {
	sink := &captureSink{}
	h := NewHandler(nil, sink, nil)

	h.Report(nil, SeverityCritical, "risk")
	assert.Empty(t, sink.all())
	assert.Zero(t, h.Count("risk"))
}

func TestAsyncSinkDropsWhenFull(t *testing.T) {
	s := NewAsyncSink(2)
	s.Emit(Event{Type: "A"})
	s.Emit(Event{Type: "B"})
	s.Emit(Event{Type: "C"})
	assert.EqualValues(t, 1, s.Dropped())

	sink := &captureSink{}
	s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx, sink)
		close(done)
	}()
	<-done

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Type)
	assert.Equal(t, "B", got[1].Type)
}

func TestAsyncSinkEmitAfterClose(t *testing.T) {
	s := NewAsyncSink(1)
	s.Close()
	s.Emit(Event{Type: "A"})
	assert.EqualValues(t, 1, s.Dropped())
}
