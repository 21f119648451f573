package background

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// EventSink receives batches of exported security events
type EventSink interface {
	Name() string
	Write(ctx context.Context, events []models.SecurityEvent) error
}

// ExporterConfig controls batching
type ExporterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	// Timeout bounds each sink write
	Timeout time.Duration
}

func (c ExporterConfig) withDefaults() ExporterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = 2 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// EventExporter drains the engine's event queue and fans batches out to the
// configured sinks. A failing sink is logged and does not hold up the others.
type EventExporter struct {
	source <-chan models.SecurityEvent
	sinks  []EventSink
	cfg    ExporterConfig
	logger *slog.Logger

	stopCh   chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	exported atomic.Int64
	failed   atomic.Int64
}

// NewEventExporter creates a new event exporter
func NewEventExporter(source <-chan models.SecurityEvent, sinks []EventSink, cfg ExporterConfig, logger *slog.Logger) *EventExporter {
	return &EventExporter{
		source: source,
		sinks:  sinks,
		cfg:    cfg.withDefaults(),
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the export loop until Stop is called or ctx is cancelled.
// Whatever is still queued at that point is flushed before returning.
func (e *EventExporter) Start(ctx context.Context) {
	e.started.Store(true)
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.FlushPeriod)
	defer ticker.Stop()

	batch := make([]models.SecurityEvent, 0, e.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-e.source:
			batch = append(batch, ev)
			if len(batch) >= e.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-e.stopCh:
			e.drain(ctx, batch)
			e.logger.Info("event exporter stopped", slog.Int64("exported", e.exported.Load()))
			return
		case <-ctx.Done():
			e.drain(ctx, batch)
			e.logger.Info("event exporter context cancelled", slog.Int64("exported", e.exported.Load()))
			return
		}
	}
}

// drain flushes the pending batch plus anything still buffered in the queue
func (e *EventExporter) drain(ctx context.Context, batch []models.SecurityEvent) {
	for {
		select {
		case ev := <-e.source:
			batch = append(batch, ev)
			if len(batch) >= e.cfg.BatchSize {
				e.flush(ctx, batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				e.flush(ctx, batch)
			}
			return
		}
	}
}

func (e *EventExporter) flush(ctx context.Context, batch []models.SecurityEvent) {
	// shutdown flushes must still reach the sinks
	base := context.WithoutCancel(ctx)

	for _, sink := range e.sinks {
		writeCtx, cancel := context.WithTimeout(base, e.cfg.Timeout)
		err := sink.Write(writeCtx, batch)
		cancel()

		if err != nil {
			e.failed.Add(int64(len(batch)))
			e.logger.Error("failed to export security events",
				slog.String("sink", sink.Name()),
				slog.Int("events", len(batch)),
				slog.Any("error", err),
			)
		}
	}
	e.exported.Add(int64(len(batch)))
}

// Stop signals the exporter and waits for the final flush
func (e *EventExporter) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.started.Load() {
		<-e.done
	}
}

// Exported returns how many events have been handed to the sinks
func (e *EventExporter) Exported() int64 {
	return e.exported.Load()
}

// Failed returns how many event deliveries failed, counted per sink
func (e *EventExporter) Failed() int64 {
	return e.failed.Load()
}
