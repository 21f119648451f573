package models

import "time"

// SuspicionAction is the tiered response recommended for a request
type SuspicionAction string

const (
	ActionMonitor   SuspicionAction = "monitor"
	ActionChallenge SuspicionAction = "challenge"
	ActionBlock     SuspicionAction = "block"
)

// RequestSignals are the behavioral inputs scored for one request
type RequestSignals struct {
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// SuspicionResult is the scorer's verdict for a request
type SuspicionResult struct {
	Suspicious bool            `json:"suspicious"`
	Score      int             `json:"score"`
	Issues     []string        `json:"issues"`
	Action     SuspicionAction `json:"action"`
}

// TrustLevel maps the verdict to a short label for downstream layers
func (r SuspicionResult) TrustLevel() string {
	if r.Score == 0 {
		return "trusted"
	}
	return string(r.Action)
}

// SuspiciousActivity is a recorded non-zero suspicion verdict for an IP
type SuspiciousActivity struct {
	IP        string    `json:"ip"`
	Score     int       `json:"score"`
	Issues    []string  `json:"issues"`
	UserAgent string    `json:"user_agent"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockedIP describes one entry of the block list
type BlockedIP struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	Manual    bool       `json:"manual"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
