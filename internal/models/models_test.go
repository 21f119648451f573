package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockout_ActiveAt(t *testing.T) {
	lockedAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	l := Lockout{LockedAt: lockedAt, Duration: 5 * time.Minute}

	assert.Equal(t, lockedAt.Add(5*time.Minute), l.ExpiresAt())
	assert.True(t, l.ActiveAt(lockedAt.Add(4*time.Minute)))
	assert.False(t, l.ActiveAt(lockedAt.Add(5*time.Minute)), "a lockout ends exactly at its expiry")
}

func TestRateLimitResult_RetryAfter(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		result RateLimitResult
		want   time.Duration
	}{
		{"allowed", RateLimitResult{Allowed: true, ResetTime: now.Add(time.Minute)}, 0},
		{"no reset time", RateLimitResult{}, 0},
		{"reset in the past", RateLimitResult{ResetTime: now.Add(-time.Second)}, 0},
		{"rejected", RateLimitResult{ResetTime: now.Add(90 * time.Second)}, 90 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.RetryAfter(now))
		})
	}
}

func TestSuspicionResult_TrustLevel(t *testing.T) {
	assert.Equal(t, "trusted", SuspicionResult{Action: ActionMonitor}.TrustLevel())
	assert.Equal(t, "monitor", SuspicionResult{Score: 1, Action: ActionMonitor}.TrustLevel())
	assert.Equal(t, "challenge", SuspicionResult{Score: 4, Action: ActionChallenge}.TrustLevel())
}

func TestIsAlertingEvent(t *testing.T) {
	assert.True(t, IsAlertingEvent(EventIPBlocked))
	assert.True(t, IsAlertingEvent(EventSuspiciousLoginPattern))
	assert.False(t, IsAlertingEvent(EventRateLimitExceeded))
	assert.False(t, IsAlertingEvent("unknown"))
}

func TestNewSecurityEvent(t *testing.T) {
	at := time.Now()
	a := NewSecurityEvent(EventIPUnblocked, "10.0.0.1", at, nil)
	b := NewSecurityEvent(EventIPUnblocked, "10.0.0.1", at, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotNil(t, a.Details)
	assert.Equal(t, at, a.Timestamp)
}

func TestEventDetails_ScanAndValue(t *testing.T) {
	var d EventDetails
	require.NoError(t, d.Scan([]byte(`{"attempts":5,"reason":"too many"}`)))
	assert.Equal(t, float64(5), d["attempts"])
	assert.Equal(t, "too many", d["reason"])

	require.NoError(t, d.Scan(nil))
	assert.Empty(t, d)

	assert.ErrorIs(t, d.Scan(42), ErrBadRequest)
	assert.Error(t, d.Scan("{not json"))

	v, err := EventDetails(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}
