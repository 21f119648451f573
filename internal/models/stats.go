package models

import "time"

// SecurityStats aggregates protective state over a trailing window
type SecurityStats struct {
	Window               time.Duration  `json:"window"`
	BlockedIPs           int            `json:"blocked_ips"`
	FailedLogins         int            `json:"failed_logins"`
	SuspiciousActivities int            `json:"suspicious_activities"`
	RateLimitHits        int            `json:"rate_limit_hits"`
	ActiveLockouts       int            `json:"active_lockouts"`
	EventsByType         map[string]int `json:"events_by_type"`
}

// SecurityLogExport is the document produced by a JSON log export
type SecurityLogExport struct {
	SecurityEvents     []SecurityEvent                 `json:"securityEvents"`
	BlockedIPs         []BlockedIP                     `json:"blockedIPs"`
	FailedAttempts     map[string][]FailedAttempt      `json:"failedAttempts"`
	SuspiciousActivity map[string][]SuspiciousActivity `json:"suspiciousActivity"`
	ExportedAt         time.Time                       `json:"exportedAt"`
}
