package security

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/BradenHooton/sentinel/internal/security"

type instruments struct {
	rateLimitChecks metric.Int64Counter
	suspicionScores metric.Int64Histogram
	events          metric.Int64Counter
	droppedEvents   metric.Int64Counter
}

func newInstruments(meter metric.Meter, s *Service) (*instruments, error) {
	rateLimitChecks, err := meter.Int64Counter("sentinel_rate_limit_checks_total",
		metric.WithDescription("Rate limit checks by action type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit counter: %w", err)
	}

	suspicionScores, err := meter.Int64Histogram("sentinel_suspicion_score",
		metric.WithDescription("Suspicion scores assigned to requests"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5, 6, 8, 11))
	if err != nil {
		return nil, fmt.Errorf("failed to create suspicion histogram: %w", err)
	}

	events, err := meter.Int64Counter("sentinel_security_events_total",
		metric.WithDescription("Security events emitted by type"))
	if err != nil {
		return nil, fmt.Errorf("failed to create event counter: %w", err)
	}

	dropped, err := meter.Int64Counter("sentinel_security_events_dropped_total",
		metric.WithDescription("Security events that did not fit the export queue"))
	if err != nil {
		return nil, fmt.Errorf("failed to create dropped event counter: %w", err)
	}

	blocked, err := meter.Int64ObservableGauge("sentinel_blocked_ips",
		metric.WithDescription("Addresses currently on the block list"))
	if err != nil {
		return nil, fmt.Errorf("failed to create blocked ip gauge: %w", err)
	}

	lockouts, err := meter.Int64ObservableGauge("sentinel_active_lockouts",
		metric.WithDescription("Keys currently locked out"))
	if err != nil {
		return nil, fmt.Errorf("failed to create lockout gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		now := s.clock.Now()
		o.ObserveInt64(blocked, int64(s.blocklist.Len(now)))
		o.ObserveInt64(lockouts, int64(s.lockouts.activeCount(now)))
		return nil
	}, blocked, lockouts)
	if err != nil {
		return nil, fmt.Errorf("failed to register gauge callback: %w", err)
	}

	return &instruments{
		rateLimitChecks: rateLimitChecks,
		suspicionScores: suspicionScores,
		events:          events,
		droppedEvents:   dropped,
	}, nil
}

func (i *instruments) rateLimitCheck(action string, allowed bool) {
	i.rateLimitChecks.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("action_type", action),
		attribute.Bool("allowed", allowed),
	))
}

func (i *instruments) suspicionScore(score int, action string) {
	i.suspicionScores.Record(context.Background(), int64(score), metric.WithAttributes(
		attribute.String("action", action),
	))
}

func (i *instruments) event(eventType string, queued bool) {
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	i.events.Add(context.Background(), 1, attrs)
	if !queued {
		i.droppedEvents.Add(context.Background(), 1, attrs)
	}
}
