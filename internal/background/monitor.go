package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/BradenHooton/sentinel/internal/security"
)

// Engine is the part of the security service the monitor drives
type Engine interface {
	AnalyzeTrends() int
	Cleanup() security.CleanupReport
}

// RetentionPurger removes persisted events older than a cutoff
type RetentionPurger interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MonitorConfig controls the periodic jobs
type MonitorConfig struct {
	TrendInterval   time.Duration
	CleanupInterval time.Duration
	// Retention applies to the purger; zero disables purging
	Retention time.Duration
	Purger    RetentionPurger
}

// SecurityMonitor runs trend analysis and cleanup on a schedule
type SecurityMonitor struct {
	engine Engine
	cfg    MonitorConfig
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time
}

// NewSecurityMonitor creates a new security monitor
func NewSecurityMonitor(engine Engine, cfg MonitorConfig, logger *slog.Logger) *SecurityMonitor {
	if cfg.TrendInterval <= 0 {
		cfg.TrendInterval = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	return &SecurityMonitor{
		engine: engine,
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules both jobs and starts the scheduler
func (m *SecurityMonitor) Start() error {
	if _, err := m.cron.AddFunc(every(m.cfg.TrendInterval), m.RunTrendAnalysis); err != nil {
		return fmt.Errorf("add trend analysis schedule: %w", err)
	}
	if _, err := m.cron.AddFunc(every(m.cfg.CleanupInterval), func() {
		m.RunCleanup(context.Background())
	}); err != nil {
		return fmt.Errorf("add cleanup schedule: %w", err)
	}

	m.cron.Start()
	m.logger.Info("security monitor started",
		slog.Duration("trend_interval", m.cfg.TrendInterval),
		slog.Duration("cleanup_interval", m.cfg.CleanupInterval),
	)
	return nil
}

// Stop waits for running jobs to finish or for ctx to expire
func (m *SecurityMonitor) Stop(ctx context.Context) error {
	stopCtx := m.cron.Stop()

	select {
	case <-stopCtx.Done():
		m.logger.Info("security monitor stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("security monitor stop timeout")
		return ctx.Err()
	}
}

// RunTrendAnalysis runs one trend analysis pass
func (m *SecurityMonitor) RunTrendAnalysis() {
	if alerts := m.engine.AnalyzeTrends(); alerts > 0 {
		m.logger.Warn("trend analysis raised alerts", slog.Int("alerts", alerts))
	}
}

// RunCleanup prunes engine state and purges persisted events past retention
func (m *SecurityMonitor) RunCleanup(ctx context.Context) {
	report := m.engine.Cleanup()
	m.logger.Info("security state cleanup completed",
		slog.Int("failed_attempt_keys", report.FailedAttemptKeys),
		slog.Int("suspicious_ips", report.SuspiciousIPs),
		slog.Int("rate_counters", report.RateCounters),
		slog.Int("velocity_counters", report.VelocityCounters),
		slog.Int("expired_lockouts", report.ExpiredLockouts),
		slog.Int("expired_blocks", report.ExpiredBlocks),
		slog.Int("events", report.Events),
	)

	if m.cfg.Purger == nil || m.cfg.Retention <= 0 {
		return
	}

	purgeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	rowsDeleted, err := m.cfg.Purger.DeleteBefore(purgeCtx, m.now().Add(-m.cfg.Retention))
	if err != nil {
		m.logger.Error("failed to purge persisted security events", slog.Any("error", err))
		return
	}
	if rowsDeleted > 0 {
		m.logger.Info("persisted security events purged", slog.Int64("rows_deleted", rowsDeleted))
	}
}

func every(d time.Duration) string {
	return "@every " + d.String()
}
