// Package sinks forwards exported security events to the places that
// consume them: the structured log, in-process hooks, a Redis mirror of the
// protective state and a NATS stream.
package sinks

import (
	"context"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

// LogSink writes every event to the security log
type LogSink struct {
	logger *logger.SecurityLogger
}

// NewLogSink creates a LogSink
func NewLogSink(l *logger.SecurityLogger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	for _, ev := range events {
		s.logger.LogEvent(ctx, ev.Type, ev.SubjectKey, ev.Timestamp, ev.Details, models.IsAlertingEvent(ev.Type))
	}
	return nil
}

// HookSink hands every event to a caller-supplied function
type HookSink struct {
	hook security.EventHookFunc
}

// NewHookSink creates a HookSink. A nil hook makes Write a no-op.
func NewHookSink(hook security.EventHookFunc) *HookSink {
	return &HookSink{hook: hook}
}

func (s *HookSink) Name() string { return "hook" }

func (s *HookSink) Write(ctx context.Context, events []models.SecurityEvent) error {
	if s.hook == nil {
		return nil
	}
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.hook(ev.Type, ev.SubjectKey, ev.Details)
	}
	return nil
}
