package security

import (
	"sort"

	"github.com/BradenHooton/sentinel/internal/models"
)

// CleanupReport counts what a cleanup pass removed
type CleanupReport struct {
	FailedAttemptKeys int `json:"failed_attempt_keys"`
	SuspiciousIPs     int `json:"suspicious_ips"`
	RateCounters      int `json:"rate_counters"`
	VelocityCounters  int `json:"velocity_counters"`
	ExpiredLockouts   int `json:"expired_lockouts"`
	ExpiredBlocks     int `json:"expired_blocks"`
	Events            int `json:"events"`
}

type trendAlert struct {
	eventType string
	subject   string
	details   map[string]interface{}
}

// AnalyzeTrends scans the last trend window of failure and suspicion
// history and emits an alert event for every key over its threshold.
// It returns the number of alerts emitted.
func (s *Service) AnalyzeTrends() int {
	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.TrendWindow)

	var alerts []trendAlert

	s.lockouts.failures.each(func(key string, history []models.FailedAttempt) {
		recent := countAfter(history, cutoff, attemptTime)
		if recent > s.cfg.FailedLoginAlertThreshold {
			alerts = append(alerts, trendAlert{
				eventType: models.EventSuspiciousLoginPattern,
				subject:   key,
				details: map[string]interface{}{
					"attempts":   recent,
					"timeWindow": "1_hour",
				},
			})
		}
	})

	s.scorer.activity.each(func(ip string, history []models.SuspiciousActivity) {
		recent := 0
		seen := make(map[string]struct{})
		for _, a := range history {
			if !a.Timestamp.After(cutoff) {
				continue
			}
			recent++
			for _, issue := range a.Issues {
				seen[issue] = struct{}{}
			}
		}
		if recent > s.cfg.SuspiciousAlertThreshold {
			types := make([]string, 0, len(seen))
			for issue := range seen {
				types = append(types, issue)
			}
			sort.Strings(types)
			alerts = append(alerts, trendAlert{
				eventType: models.EventHighSuspiciousActivity,
				subject:   ip,
				details: map[string]interface{}{
					"activities": recent,
					"types":      types,
				},
			})
		}
	})

	// Emitting happens after iteration so no shard lock is held
	for _, a := range alerts {
		s.emit(a.eventType, a.subject, a.details)
	}

	if len(alerts) > 0 {
		s.logger.Info("security trend analysis raised alerts", "count", len(alerts))
	}
	return len(alerts)
}

// Cleanup prunes histories to the retention window and drops state that
// can no longer affect any decision. Active lockouts and in-window counter
// entries always survive, so running it twice in a row is a no-op.
func (s *Service) Cleanup() CleanupReport {
	now := s.clock.Now()
	historyCutoff := now.Add(-s.cfg.HistoryRetention)

	var report CleanupReport

	s.lockouts.failures.sweep(func(_ string, history []models.FailedAttempt) ([]models.FailedAttempt, bool) {
		history = retainAfter(history, historyCutoff, attemptTime)
		if len(history) == 0 {
			report.FailedAttemptKeys++
			return nil, false
		}
		return history, true
	})

	s.scorer.activity.sweep(func(_ string, history []models.SuspiciousActivity) ([]models.SuspiciousActivity, bool) {
		history = retainAfter(history, historyCutoff, activityTime)
		if len(history) == 0 {
			report.SuspiciousIPs++
			return nil, false
		}
		return history, true
	})

	s.lockouts.lockouts.sweep(func(_ string, l models.Lockout) (models.Lockout, bool) {
		if l.ActiveAt(now) {
			return l, true
		}
		report.ExpiredLockouts++
		return l, false
	})

	report.RateCounters = s.limiter.window.Sweep(now)
	report.VelocityCounters = s.scorer.requests.Sweep(now)
	report.ExpiredBlocks = s.blocklist.Sweep(now)
	report.Events = s.events.Prune(now.Add(-s.cfg.EventRetention))

	s.logger.Info("security state cleanup completed",
		"failed_attempt_keys", report.FailedAttemptKeys,
		"suspicious_ips", report.SuspiciousIPs,
		"rate_counters", report.RateCounters,
		"velocity_counters", report.VelocityCounters,
		"expired_lockouts", report.ExpiredLockouts,
		"expired_blocks", report.ExpiredBlocks,
		"events", report.Events,
	)

	return report
}

