package events

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yanun0323/logs"
)

// LogSink renders events through the process logger.
type LogSink struct{}

// NewLogSink creates a sink backed by the default logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit writes one event as a single log line.
func (s *LogSink) Emit(e Event) {
	line := e.Type + ": " + e.Message
	if len(e.Extra) != 0 {
		line += " " + formatExtra(e.Extra)
	}

	switch e.Level {
	case LevelCritical:
		logs.Errorf("%s", line)
	case LevelWarning:
		logs.Warnf("%s", line)
	default:
		logs.Infof("%s", line)
	}
}

// Report logs a classified error.
func (s *LogSink) Report(err error, severity Severity, context string) {
	if err == nil {
		return
	}
	if severity >= SeverityHigh {
		logs.Errorf("[%s] %s: %+v", severity, context, err)
		return
	}
	logs.Warnf("[%s] %s: %+v", severity, context, err)
}

func formatExtra(extra map[string]any) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, extra[k]))
	}
	return strings.Join(parts, " ")
}
