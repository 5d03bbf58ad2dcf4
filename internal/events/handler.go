package events

import "sync"

// defaultThresholds is the count of reported errors per severity class
// that triggers a threshold event.
var defaultThresholds = map[Severity]int{
	SeverityLow:      100,
	SeverityMedium:   50,
	SeverityHigh:     10,
	SeverityCritical: 1,
}

// Handler is an ErrorSink that forwards every error to an inner sink and
// counts occurrences per context. When a context's count reaches the
// threshold for the error's severity, it emits one Critical
// ERROR_THRESHOLD_EXCEEDED event to the event sink.
type Handler struct {
	mu         sync.Mutex
	counts     map[string]int
	thresholds map[Severity]int
	inner      ErrorSink
	sink       Sink
}

// NewHandler wraps inner with threshold tracking. A nil thresholds map
// uses the defaults.
func NewHandler(inner ErrorSink, sink Sink, thresholds map[Severity]int) *Handler {
	if thresholds == nil {
		thresholds = defaultThresholds
	}
	return &Handler{
		counts:     make(map[string]int),
		thresholds: thresholds,
		inner:      inner,
		sink:       sink,
	}
}

// Report counts the error and forwards it.
func (h *Handler) Report(err error, severity Severity, context string) {
	if err == nil {
		return
	}
	if h.inner != nil {
		h.inner.Report(err, severity, context)
	}

	h.mu.Lock()
	h.counts[context]++
	count := h.counts[context]
	threshold, ok := h.thresholds[severity]
	h.mu.Unlock()

	if ok && count >= threshold {
		h.sink.Emit(Event{
			Type:    TypeErrorThreshold,
			Message: "error threshold exceeded for " + context,
			Level:   LevelCritical,
			Extra: map[string]any{
				"context":  context,
				"severity": severity.String(),
				"count":    count,
			},
		})
	}
}

// Count returns the number of errors reported for a context.
func (h *Handler) Count(context string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[context]
}
