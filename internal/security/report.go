package security

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// DefaultStatsWindow is used when GetSecurityStats gets a non-positive window
const DefaultStatsWindow = time.Hour

// Export formats accepted by ExportSecurityLogs
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{"id", "type", "subject_key", "timestamp", "details"}

// GetSecurityStats aggregates the state observed over the trailing window
func (s *Service) GetSecurityStats(window time.Duration) models.SecurityStats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	now := s.clock.Now()
	cutoff := now.Add(-window)

	stats := models.SecurityStats{
		Window:         window,
		BlockedIPs:     s.blocklist.Len(now),
		ActiveLockouts: s.lockouts.activeCount(now),
		EventsByType:   make(map[string]int),
	}

	s.lockouts.failures.each(func(_ string, history []models.FailedAttempt) {
		stats.FailedLogins += countAfter(history, cutoff, attemptTime)
	})
	s.scorer.activity.each(func(_ string, history []models.SuspiciousActivity) {
		stats.SuspiciousActivities += countAfter(history, cutoff, activityTime)
	})

	for _, ev := range s.events.Since(cutoff) {
		stats.EventsByType[ev.Type]++
		if ev.Type == models.EventRateLimitExceeded {
			stats.RateLimitHits++
		}
	}

	return stats
}

// ExportSecurityLogs serializes the event log and the protective state.
// "json" produces an indented document and "csv" one row per event.
func (s *Service) ExportSecurityLogs(format string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return s.exportJSON()
	case FormatCSV:
		return s.exportCSV()
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedFormat, format)
	}
}

func (s *Service) exportJSON() ([]byte, error) {
	now := s.clock.Now()

	doc := models.SecurityLogExport{
		SecurityEvents:     s.events.Since(time.Time{}),
		BlockedIPs:         s.blocklist.List(now),
		FailedAttempts:     make(map[string][]models.FailedAttempt),
		SuspiciousActivity: make(map[string][]models.SuspiciousActivity),
		ExportedAt:         now.UTC(),
	}
	s.lockouts.failures.each(func(key string, history []models.FailedAttempt) {
		doc.FailedAttempts[key] = slices.Clone(history)
	})
	s.scorer.activity.each(func(ip string, history []models.SuspiciousActivity) {
		doc.SuspiciousActivity[ip] = slices.Clone(history)
	})

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode security log export: %w", err)
	}
	return out, nil
}

func (s *Service) exportCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, ev := range s.events.Since(time.Time{}) {
		details, err := json.Marshal(ev.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to encode details of event %s: %w", ev.ID, err)
		}
		record := []string{
			ev.ID.String(),
			ev.Type,
			ev.SubjectKey,
			ev.Timestamp.UTC().Format(time.RFC3339Nano),
			string(details),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv export: %w", err)
	}
	return buf.Bytes(), nil
}
