package security

import (
	"maps"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// FailedLoginKey returns the key failures and lockouts are tracked under.
// The identity wins when present, otherwise the normalized address is used.
func FailedLoginKey(identity, ip string) string {
	if identity != "" {
		return "failed_login:" + identity
	}
	return "failed_login:" + normalizeIP(ip)
}

// LockoutManager tracks failed attempts per identity key and holds at most
// one lockout per key. Lockouts expire lazily when read.
type LockoutManager struct {
	failures  *shardedMap[[]models.FailedAttempt]
	lockouts  *shardedMap[models.Lockout]
	retention time.Duration
}

// NewLockoutManager creates a LockoutManager keeping failures for retention
func NewLockoutManager(retention time.Duration) *LockoutManager {
	return &LockoutManager{
		failures:  newShardedMap[[]models.FailedAttempt](),
		lockouts:  newShardedMap[models.Lockout](),
		retention: retention,
	}
}

func attemptTime(a models.FailedAttempt) time.Time { return a.Timestamp }

// recordFailure appends a failure and returns how many fall inside window
func (m *LockoutManager) recordFailure(key, ip string, metadata map[string]interface{}, now time.Time, window time.Duration) int {
	attempt := models.FailedAttempt{
		IdentityKey: key,
		Timestamp:   now,
		IP:          ip,
		Metadata:    maps.Clone(metadata),
	}

	var recent int
	m.failures.update(key, func(history []models.FailedAttempt, _ bool) ([]models.FailedAttempt, bool) {
		history = append(history, attempt)
		history = retainAfter(history, now.Add(-m.retention), attemptTime)
		recent = countAfter(history, now.Add(-window), attemptTime)
		return history, true
	})
	return recent
}

// lock writes the lockout for key, replacing any previous one
func (m *LockoutManager) lock(key string, opts models.LockOptions, now time.Time) models.Lockout {
	if opts.Duration <= 0 {
		opts.Duration = models.DefaultLockoutDuration
	}
	lockout := models.Lockout{
		Key:          key,
		LockedAt:     now,
		Reason:       opts.Reason,
		AttemptCount: opts.AttemptCount,
		Duration:     opts.Duration,
	}
	m.lockouts.update(key, func(models.Lockout, bool) (models.Lockout, bool) {
		return lockout, true
	})
	return lockout
}

// status reports the lockout state for key, removing an expired lockout
func (m *LockoutManager) status(key string, now time.Time) models.LockoutStatus {
	var status models.LockoutStatus
	m.lockouts.update(key, func(l models.Lockout, ok bool) (models.Lockout, bool) {
		if !ok || !l.ActiveAt(now) {
			return l, false
		}
		status = models.LockoutStatus{
			Locked:    true,
			Reason:    l.Reason,
			Remaining: l.ExpiresAt().Sub(now),
		}
		return l, true
	})
	return status
}

// unlock clears the lockout and failure history for key
func (m *LockoutManager) unlock(key string) bool {
	var had bool
	m.lockouts.update(key, func(l models.Lockout, ok bool) (models.Lockout, bool) {
		had = ok
		return l, false
	})
	m.failures.update(key, func(h []models.FailedAttempt, _ bool) ([]models.FailedAttempt, bool) {
		return nil, false
	})
	return had
}

func (m *LockoutManager) activeCount(now time.Time) int {
	n := 0
	m.lockouts.each(func(_ string, l models.Lockout) {
		if l.ActiveAt(now) {
			n++
		}
	})
	return n
}

func countAfter[T any](items []T, cutoff time.Time, at func(T) time.Time) int {
	n := 0
	for _, it := range items {
		if at(it).After(cutoff) {
			n++
		}
	}
	return n
}
