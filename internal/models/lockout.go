package models

import "time"

// DefaultLockoutDuration is applied when a lockout does not specify one
const DefaultLockoutDuration = 5 * time.Minute

// FailedAttempt is a single failed login recorded against an identity key
type FailedAttempt struct {
	IdentityKey string                 `json:"identity_key"`
	Timestamp   time.Time              `json:"timestamp"`
	IP          string                 `json:"ip"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Lockout is the single active deny-state for a key
type Lockout struct {
	Key          string        `json:"key"`
	LockedAt     time.Time     `json:"locked_at"`
	Reason       string        `json:"reason"`
	AttemptCount int           `json:"attempt_count"`
	Duration     time.Duration `json:"duration"`
}

// ExpiresAt returns the instant the lockout stops applying
func (l Lockout) ExpiresAt() time.Time {
	return l.LockedAt.Add(l.Duration)
}

// ActiveAt reports whether the lockout still applies at now
func (l Lockout) ActiveAt(now time.Time) bool {
	return now.Before(l.ExpiresAt())
}

// LockOptions configures a lockout
type LockOptions struct {
	Reason       string
	AttemptCount int
	Duration     time.Duration
}

// LockoutStatus is the answer to "is this key locked right now?"
type LockoutStatus struct {
	Locked    bool          `json:"locked"`
	Reason    string        `json:"reason,omitempty"`
	Remaining time.Duration `json:"remaining,omitempty"`
}
