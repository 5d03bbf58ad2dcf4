// Package events defines the structured event and error sinks the core
// emits through. Implementations render to the logger, fan out to alert
// systems, or count for tests.
package events

// Level is the severity of a structured event.
type Level uint8

const (
	LevelInfo Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// Severity classifies reported errors for downstream thresholding.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Event types emitted by the core.
const (
	TypeOrderCreated      = "ORDER_CREATED"
	TypeOrderStatusUpdate = "ORDER_STATUS_UPDATE"
	TypeOrderExpired      = "ORDER_EXPIRED"
	TypePositionUpdate    = "POSITION_UPDATE"
	TypeRiskLimitExceeded = "RISK_LIMIT_EXCEEDED"
	TypeRiskLimitBreach   = "RISK_LIMIT_BREACH"
	TypeStopLossTriggered = "STOP_LOSS_TRIGGERED"
	TypeLimitUpdate       = "LIMIT_UPDATE"
	TypeStopLossSet       = "STOP_LOSS_SET"
	TypeBreakerTransition = "CIRCUIT_BREAKER_TRANSITION"
	TypeErrorThreshold    = "ERROR_THRESHOLD_EXCEEDED"
)

// Event is one structured event.
type Event struct {
	Type    string
	Message string
	Level   Level
	Extra   map[string]any
}

// Sink receives structured events. Implementations must be safe for
// concurrent use and must not block the caller on slow I/O.
type Sink interface {
	Emit(e Event)
}

// ErrorSink receives classified errors for downstream alerting.
type ErrorSink interface {
	Report(err error, severity Severity, context string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event. Useful as a test default.
var Discard Sink = SinkFunc(func(Event) {})
