package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// SecurityLogger writes security events as structured records
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security event logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// LogEvent writes one security_event record. Alerting events are logged at
// warn level, everything else at info. Subject keys are masked.
func (sl *SecurityLogger) LogEvent(ctx context.Context, eventType, subject string, at time.Time, details map[string]interface{}, alerting bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", eventType),
		slog.String("subject", SanitizedKey(subject)),
		slog.String("timestamp", at.UTC().Format(time.RFC3339)),
	}

	if len(details) > 0 {
		keys := make([]string, 0, len(details))
		for k := range details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		detailAttrs := make([]any, 0, len(keys))
		for _, k := range keys {
			detailAttrs = append(detailAttrs, slog.Any(k, details[k]))
		}
		attrs = append(attrs, slog.Group("details", detailAttrs...))
	}

	level := slog.LevelInfo
	if alerting {
		level = slog.LevelWarn
	}
	sl.logger.LogAttrs(ctx, level, "security_event", attrs...)
}
