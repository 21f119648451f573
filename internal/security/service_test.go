package security_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, cfg security.Config) (*security.Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc, err := security.NewService(cfg, logger, security.WithClock(clock))
	require.NoError(t, err)
	return svc, clock
}

// drainEvents empties the export queue without blocking
func drainEvents(svc *security.Service) []models.SecurityEvent {
	var out []models.SecurityEvent
	for {
		select {
		case ev := <-svc.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []models.SecurityEvent, eventType string) []models.SecurityEvent {
	var out []models.SecurityEvent
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestNewService_RejectsInvalidPolicy(t *testing.T) {
	cfg := security.Config{
		Policies: map[models.ActionType]models.RateLimitPolicy{
			models.ActionLogin: {Max: 0, Window: time.Minute},
		},
	}

	_, err := security.NewService(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	assert.Error(t, err)
}

func TestCheckRateLimit_RejectsAfterMaxThenRecovers(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	start := clock.Now()

	for i := 0; i < 5; i++ {
		result := svc.CheckRateLimit("user:42", models.ActionLogin)
		require.True(t, result.Allowed, "attempt %d should be allowed", i+1)
		assert.Equal(t, 4-i, result.Remaining)
		assert.Equal(t, clock.Now().Add(5*time.Minute), result.ResetTime)
		clock.Advance(10 * time.Second)
	}

	rejected := svc.CheckRateLimit("user:42", models.ActionLogin)
	assert.False(t, rejected.Allowed)
	assert.Equal(t, 0, rejected.Remaining)
	assert.Equal(t, "Rate limit exceeded", rejected.Reason)
	assert.Equal(t, start.Add(5*time.Minute), rejected.ResetTime)

	clock.Advance(5*time.Minute + time.Millisecond)

	assert.True(t, svc.CheckRateLimit("user:42", models.ActionLogin).Allowed)
}

func TestCheckRateLimit_RejectionDoesNotConsumeBudget(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})

	for i := 0; i < 3; i++ {
		require.True(t, svc.CheckRateLimit("ip:10.0.0.1", models.ActionRegistration).Allowed)
	}
	for i := 0; i < 10; i++ {
		require.False(t, svc.CheckRateLimit("ip:10.0.0.1", models.ActionRegistration).Allowed)
	}

	clock.Advance(time.Hour)

	result := svc.CheckRateLimit("ip:10.0.0.1", models.ActionRegistration)
	assert.True(t, result.Allowed)
	assert.Equal(t, 2, result.Remaining)
}

func TestCheckRateLimit_UnknownActionIsAllowed(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	for i := 0; i < 1000; i++ {
		result := svc.CheckRateLimit("user:1", models.ActionType("export"))
		require.True(t, result.Allowed)
		assert.Equal(t, -1, result.Remaining)
	}
	assert.Empty(t, drainEvents(svc))
}

func TestCheckRateLimit_CountersAreScopedPerAction(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	for i := 0; i < 3; i++ {
		svc.CheckRateLimit("user:7", models.ActionPasswordReset)
	}
	require.False(t, svc.CheckRateLimit("user:7", models.ActionPasswordReset).Allowed)

	assert.True(t, svc.CheckRateLimit("user:7", models.ActionLogin).Allowed)
	assert.True(t, svc.CheckRateLimit("user:8", models.ActionPasswordReset).Allowed)
}

func TestCheckRateLimit_EmitsExceededEvent(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	for i := 0; i < 4; i++ {
		svc.CheckRateLimit("user:9", models.ActionRegistration)
	}

	exceeded := eventsOfType(drainEvents(svc), models.EventRateLimitExceeded)
	require.Len(t, exceeded, 1)
	assert.Equal(t, "user:9", exceeded[0].SubjectKey)
	assert.Equal(t, "registration", exceeded[0].Details["type"])
	assert.Equal(t, 3, exceeded[0].Details["attempts"])
	assert.Equal(t, 3, exceeded[0].Details["limit"])
}

func TestCheckRateLimit_ConcurrentCallersDoNotOverAdmit(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.CheckRateLimit("ip:203.0.113.5", models.ActionFileUpload).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
}

func TestRecordFailedLogin_LocksOnFifthFailure(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	key := security.FailedLoginKey("alice@example.com", "10.0.0.1")

	for i := 0; i < 4; i++ {
		svc.RecordFailedLogin("alice@example.com", "10.0.0.1", nil)
		clock.Advance(time.Minute)
	}
	assert.False(t, svc.IsAccountLocked(key).Locked)

	svc.RecordFailedLogin("alice@example.com", "10.0.0.1", map[string]interface{}{"reason": "bad password"})
	lockedAt := clock.Now()

	status := svc.IsAccountLocked(key)
	require.True(t, status.Locked)
	assert.Equal(t, "Multiple failed login attempts", status.Reason)
	assert.Equal(t, 5*time.Minute, status.Remaining)

	events := drainEvents(svc)
	locked := eventsOfType(events, models.EventAccountLocked)
	require.Len(t, locked, 1)
	assert.Equal(t, "alice@example.com", locked[0].SubjectKey)
	assert.Equal(t, "multiple_failed_logins", locked[0].Details["reason"])
	assert.Equal(t, 5, locked[0].Details["attempts"])
	assert.Len(t, eventsOfType(events, models.EventAccountLockout), 1)

	clock.Advance(4*time.Minute + 59*time.Second)
	assert.True(t, svc.IsAccountLocked(key).Locked)

	clock.Advance(time.Second)
	assert.Equal(t, lockedAt.Add(5*time.Minute), clock.Now())
	assert.False(t, svc.IsAccountLocked(key).Locked)
}

func TestRecordFailedLogin_OnlyCountsTrailingHour(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	key := security.FailedLoginKey("bob", "")

	for i := 0; i < 4; i++ {
		svc.RecordFailedLogin("bob", "", nil)
	}
	clock.Advance(time.Hour)

	svc.RecordFailedLogin("bob", "", nil)

	assert.False(t, svc.IsAccountLocked(key).Locked)
}

func TestRecordFailedLogin_FallsBackToIP(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	for i := 0; i < 5; i++ {
		svc.RecordFailedLogin("", "::ffff:198.51.100.7", nil)
	}

	assert.Equal(t, "failed_login:198.51.100.7", security.FailedLoginKey("", "198.51.100.7"))
	assert.True(t, svc.IsAccountLocked("failed_login:198.51.100.7").Locked)
}

func TestLockAccount_ReplacesPreviousLockout(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})

	svc.LockAccount("user:1", models.LockOptions{Reason: "first", Duration: time.Hour})
	clock.Advance(time.Minute)
	lockout := svc.LockAccount("user:1", models.LockOptions{Reason: "second"})

	assert.Equal(t, models.DefaultLockoutDuration, lockout.Duration)
	status := svc.IsAccountLocked("user:1")
	assert.Equal(t, "second", status.Reason)
	assert.Equal(t, 5*time.Minute, status.Remaining)
}

func TestIsAccountLocked_UnknownKey(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	assert.Equal(t, models.LockoutStatus{}, svc.IsAccountLocked("nobody"))
}

func TestUnlockAccount_ClearsLockoutAndHistory(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})
	key := security.FailedLoginKey("carol", "")

	for i := 0; i < 5; i++ {
		svc.RecordFailedLogin("carol", "", nil)
	}
	require.True(t, svc.IsAccountLocked(key).Locked)

	assert.True(t, svc.UnlockAccount(key))
	assert.False(t, svc.IsAccountLocked(key).Locked)

	// history was cleared, so one more failure must not relock
	svc.RecordFailedLogin("carol", "", nil)
	assert.False(t, svc.IsAccountLocked(key).Locked)

	assert.False(t, svc.UnlockAccount("failed_login:nobody"))
	assert.Len(t, eventsOfType(drainEvents(svc), models.EventAccountUnlocked), 2)
}

func TestDetectSuspiciousActivity_BotOnAdminEndpoint(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	result := svc.DetectSuspiciousActivity(models.RequestSignals{
		IP:        "192.0.2.10",
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1)",
		Endpoint:  "/admin/users",
		Method:    "GET",
	})

	assert.Equal(t, 4, result.Score)
	assert.True(t, result.Suspicious)
	assert.Equal(t, models.ActionChallenge, result.Action)
	assert.Equal(t, []string{"Suspicious user agent", "Unusual endpoint access"}, result.Issues)

	detected := eventsOfType(drainEvents(svc), models.EventSuspiciousActivity)
	require.Len(t, detected, 1)
	assert.Equal(t, "192.0.2.10", detected[0].SubjectKey)
}

func TestDetectSuspiciousActivity_RetainedIssuesAreIsolated(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	result := svc.DetectSuspiciousActivity(models.RequestSignals{
		IP:        "192.0.2.11",
		UserAgent: "curl/8.0",
		Endpoint:  "/admin/users",
	})
	require.NotEmpty(t, result.Issues)
	result.Issues[0] = "tampered"

	out, err := svc.ExportSecurityLogs("json")
	require.NoError(t, err)
	var doc models.SecurityLogExport
	require.NoError(t, json.Unmarshal(out, &doc))

	history := doc.SuspiciousActivity["192.0.2.11"]
	require.Len(t, history, 1)
	assert.NotContains(t, history[0].Issues, "tampered")

	detected := eventsOfType(drainEvents(svc), models.EventSuspiciousActivity)
	require.Len(t, detected, 1)
	assert.NotContains(t, detected[0].Details["issues"], "tampered")
}

func TestDetectSuspiciousActivity_CleanRequest(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	result := svc.DetectSuspiciousActivity(models.RequestSignals{
		IP:        "192.0.2.11",
		UserAgent: "Mozilla/5.0",
		Endpoint:  "/api/activities",
		Method:    "GET",
	})

	assert.Equal(t, 0, result.Score)
	assert.False(t, result.Suspicious)
	assert.Equal(t, models.ActionMonitor, result.Action)
	assert.Equal(t, "trusted", result.TrustLevel())
	assert.Empty(t, drainEvents(svc))
}

func TestDetectSuspiciousActivity_RequestVelocity(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	req := models.RequestSignals{IP: "192.0.2.12", UserAgent: "Mozilla/5.0", Endpoint: "/api/grades"}

	for i := 0; i < 50; i++ {
		result := svc.DetectSuspiciousActivity(req)
		require.Equal(t, 0, result.Score, "request %d", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	result := svc.DetectSuspiciousActivity(req)
	assert.Equal(t, 2, result.Score)
	assert.Equal(t, []string{"Rapid requests from IP"}, result.Issues)

	clock.Advance(time.Minute)
	assert.Equal(t, 0, svc.DetectSuspiciousActivity(req).Score)
}

func TestDetectSuspiciousActivity_AutoBlocksAfterElevenRecords(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	ip := "192.0.2.13"
	bot := models.RequestSignals{IP: ip, UserAgent: "scraper/1.0", Endpoint: "/api/reports"}

	for i := 0; i < 10; i++ {
		svc.DetectSuspiciousActivity(bot)
		clock.Advance(time.Hour)
	}
	assert.False(t, svc.IsIPBlocked(ip))

	svc.DetectSuspiciousActivity(bot)
	require.True(t, svc.IsIPBlocked(ip))

	blocked := svc.BlockedIPs()
	require.Len(t, blocked, 1)
	assert.Equal(t, "multiple suspicious activities", blocked[0].Reason)
	assert.False(t, blocked[0].Manual)

	result := svc.DetectSuspiciousActivity(models.RequestSignals{IP: ip, UserAgent: "Mozilla/5.0", Endpoint: "/"})
	assert.Equal(t, 5, result.Score)
	assert.Equal(t, []string{"Blocked IP address"}, result.Issues)
	assert.Equal(t, models.ActionChallenge, result.Action)

	assert.Len(t, eventsOfType(drainEvents(svc), models.EventIPBlocked), 1)
}

func TestDetectSuspiciousActivity_HistoryOutsideRetentionDoesNotBlock(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})
	bot := models.RequestSignals{IP: "192.0.2.14", UserAgent: "crawler"}

	for i := 0; i < 11; i++ {
		svc.DetectSuspiciousActivity(bot)
		clock.Advance(3 * time.Hour)
	}

	assert.False(t, svc.IsIPBlocked("192.0.2.14"))
}

func TestBlockIP_ManualBlockAndUnblock(t *testing.T) {
	svc, _ := newTestService(t, security.Config{})

	svc.BlockIP("::ffff:10.1.1.1", "abuse report", true)

	assert.True(t, svc.IsIPBlocked("10.1.1.1"))
	blocked := svc.BlockedIPs()
	require.Len(t, blocked, 1)
	assert.Equal(t, "10.1.1.1", blocked[0].IP)
	assert.True(t, blocked[0].Manual)
	assert.Nil(t, blocked[0].ExpiresAt)

	assert.True(t, svc.UnblockIP("10.1.1.1"))
	assert.False(t, svc.IsIPBlocked("10.1.1.1"))
	assert.False(t, svc.UnblockIP("10.1.1.1"))

	events := drainEvents(svc)
	assert.Len(t, eventsOfType(events, models.EventIPBlocked), 1)
	assert.Len(t, eventsOfType(events, models.EventIPUnblocked), 2)
}

func TestBlockIP_OptionalTTL(t *testing.T) {
	svc, clock := newTestService(t, security.Config{ManualBlockTTL: time.Hour})

	svc.BlockIP("10.2.2.2", "temporary", true)
	require.True(t, svc.IsIPBlocked("10.2.2.2"))
	require.NotNil(t, svc.BlockedIPs()[0].ExpiresAt)

	clock.Advance(time.Hour)

	assert.False(t, svc.IsIPBlocked("10.2.2.2"))
	assert.Empty(t, svc.BlockedIPs())
}

func TestRestoreBlockedIPs_DoesNotEmit(t *testing.T) {
	svc, clock := newTestService(t, security.Config{})

	svc.RestoreBlockedIPs([]models.BlockedIP{
		{IP: "10.3.3.3", Reason: "seeded", Manual: true, BlockedAt: clock.Now()},
	})

	assert.True(t, svc.IsIPBlocked("10.3.3.3"))
	assert.Empty(t, drainEvents(svc))
}

func TestEvents_FullQueueDropsExportCopy(t *testing.T) {
	svc, _ := newTestService(t, security.Config{EventQueueSize: 1})

	svc.BlockIP("10.4.4.1", "a", true)
	svc.BlockIP("10.4.4.2", "b", true)

	assert.Equal(t, int64(1), svc.DroppedEvents())
	assert.Len(t, drainEvents(svc), 1)
	assert.Equal(t, 2, svc.GetSecurityStats(time.Hour).EventsByType[models.EventIPBlocked])
}
