package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the security engine
const (
	EventRateLimitExceeded      = "rate_limit_exceeded"
	EventSuspiciousActivity     = "suspicious_activity_detected"
	EventAccountLocked          = "account_locked"
	EventAccountLockout         = "account_lockout"
	EventAccountUnlocked        = "account_unlocked"
	EventIPBlocked              = "ip_blocked"
	EventIPUnblocked            = "ip_unblocked"
	EventSuspiciousLoginPattern = "suspicious_login_pattern"
	EventHighSuspiciousActivity = "high_suspicious_activity"
)

// alertingEvents are the event types that warrant operator attention
var alertingEvents = map[string]bool{
	EventAccountLocked:          true,
	EventIPBlocked:              true,
	EventSuspiciousLoginPattern: true,
	EventHighSuspiciousActivity: true,
}

// IsAlertingEvent reports whether events of this type should page someone
func IsAlertingEvent(eventType string) bool {
	return alertingEvents[eventType]
}

// SecurityEvent is one entry in the append-only security event log
type SecurityEvent struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	Type       string       `json:"type" db:"event_type"`
	SubjectKey string       `json:"subject_key" db:"subject_key"`
	Timestamp  time.Time    `json:"timestamp" db:"occurred_at"`
	Details    EventDetails `json:"details" db:"details"`
}

// NewSecurityEvent creates an event with a fresh ID
func NewSecurityEvent(eventType, subject string, at time.Time, details map[string]interface{}) SecurityEvent {
	if details == nil {
		details = make(map[string]interface{})
	}
	return SecurityEvent{
		ID:         uuid.New(),
		Type:       eventType,
		SubjectKey: subject,
		Timestamp:  at,
		Details:    EventDetails(details),
	}
}

// EventDetails holds additional context for security events
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}
