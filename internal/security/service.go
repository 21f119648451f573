package security

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Config holds the thresholds and retention windows of the engine
type Config struct {
	Policies map[models.ActionType]models.RateLimitPolicy

	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	LockoutDuration      time.Duration

	VelocityThreshold  int
	VelocityWindow     time.Duration
	AutoBlockThreshold int
	BotMarkers         []string
	SensitivePrefixes  []string

	// HistoryRetention bounds failed-attempt and suspicious-activity history
	HistoryRetention time.Duration

	TrendWindow               time.Duration
	FailedLoginAlertThreshold int
	SuspiciousAlertThreshold  int

	// Zero TTLs keep blocks until they are explicitly removed
	AutoBlockTTL   time.Duration
	ManualBlockTTL time.Duration

	EventRetention time.Duration
	MaxEvents      int
	EventQueueSize int
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		Policies:                  models.DefaultRateLimitPolicies(),
		FailedLoginThreshold:      5,
		FailedLoginWindow:         time.Hour,
		LockoutDuration:           models.DefaultLockoutDuration,
		VelocityThreshold:         50,
		VelocityWindow:            time.Minute,
		AutoBlockThreshold:        10,
		BotMarkers:                []string{"bot", "crawler", "spider", "scraper"},
		SensitivePrefixes:         []string{"/admin", "/api/admin", "/api/internal", "/api/debug"},
		HistoryRetention:          24 * time.Hour,
		TrendWindow:               time.Hour,
		FailedLoginAlertThreshold: 3,
		SuspiciousAlertThreshold:  5,
		EventRetention:            24 * time.Hour,
		MaxEvents:                 100000,
		EventQueueSize:            1024,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Policies == nil {
		c.Policies = d.Policies
	}
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = d.FailedLoginThreshold
	}
	if c.FailedLoginWindow <= 0 {
		c.FailedLoginWindow = d.FailedLoginWindow
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = d.LockoutDuration
	}
	if c.VelocityThreshold <= 0 {
		c.VelocityThreshold = d.VelocityThreshold
	}
	if c.VelocityWindow <= 0 {
		c.VelocityWindow = d.VelocityWindow
	}
	if c.AutoBlockThreshold <= 0 {
		c.AutoBlockThreshold = d.AutoBlockThreshold
	}
	if c.BotMarkers == nil {
		c.BotMarkers = d.BotMarkers
	}
	if c.SensitivePrefixes == nil {
		c.SensitivePrefixes = d.SensitivePrefixes
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = d.HistoryRetention
	}
	if c.TrendWindow <= 0 {
		c.TrendWindow = d.TrendWindow
	}
	if c.FailedLoginAlertThreshold <= 0 {
		c.FailedLoginAlertThreshold = d.FailedLoginAlertThreshold
	}
	if c.SuspiciousAlertThreshold <= 0 {
		c.SuspiciousAlertThreshold = d.SuspiciousAlertThreshold
	}
	if c.EventRetention <= 0 {
		c.EventRetention = d.EventRetention
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = d.EventQueueSize
	}
	return c
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces the wall clock
func WithClock(clock Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithMeter replaces the global OpenTelemetry meter
func WithMeter(meter metric.Meter) Option {
	return func(s *Service) { s.meter = meter }
}

// Service owns all protective state: rate counters, suspicion history,
// failed attempts, lockouts, the block list and the event log. All methods
// are safe for concurrent use and never perform I/O.
type Service struct {
	cfg    Config
	clock  Clock
	meter  metric.Meter
	logger *slog.Logger

	limiter   *RateLimiter
	scorer    *Scorer
	lockouts  *LockoutManager
	blocklist *BlockList
	events    *EventLog
	metrics   *instruments
}

// NewService creates a Service from cfg; zero fields take default values
func NewService(cfg Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()

	limiter, err := NewRateLimiter(cfg.Policies)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		clock:   systemClock{},
		logger:  logger,
		limiter: limiter,
		scorer: NewScorer(ScorerConfig{
			BotMarkers:        cfg.BotMarkers,
			SensitivePrefixes: cfg.SensitivePrefixes,
			VelocityThreshold: cfg.VelocityThreshold,
			VelocityWindow:    cfg.VelocityWindow,
			Retention:         cfg.HistoryRetention,
		}),
		lockouts:  NewLockoutManager(cfg.HistoryRetention),
		blocklist: NewBlockList(cfg.AutoBlockTTL, cfg.ManualBlockTTL),
		events:    NewEventLog(cfg.MaxEvents, cfg.EventQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.Meter(meterName)
	}

	s.metrics, err = newInstruments(s.meter, s)
	if err != nil {
		return nil, fmt.Errorf("failed to create security metrics: %w", err)
	}

	return s, nil
}

// CheckRateLimit consumes one unit of the action's budget for key.
// Action types without a policy are always allowed.
func (s *Service) CheckRateLimit(key string, actionType models.ActionType) models.RateLimitResult {
	now := s.clock.Now()
	decision := s.limiter.check(key, actionType, now)

	if !decision.enforced {
		s.logger.Debug("no rate limit policy for action type, allowing",
			slog.String("action_type", string(actionType)))
		return decision.result
	}

	s.metrics.rateLimitCheck(string(actionType), decision.result.Allowed)

	if !decision.result.Allowed {
		s.emit(models.EventRateLimitExceeded, key, map[string]interface{}{
			"type":     string(actionType),
			"attempts": decision.attempts,
			"limit":    decision.policy.Max,
			"window":   decision.policy.Window.Milliseconds(),
		})
	}

	return decision.result
}

// DetectSuspiciousActivity scores a request and records non-zero verdicts.
// An address whose retained history grows past the auto-block threshold is
// added to the block list.
func (s *Service) DetectSuspiciousActivity(req models.RequestSignals) models.SuspicionResult {
	now := s.clock.Now()
	req.IP = normalizeIP(req.IP)
	if req.Timestamp.IsZero() {
		req.Timestamp = now
	}

	blocked := req.IP != "" && s.blocklist.Contains(req.IP, now)
	result := s.scorer.evaluate(req, blocked, now)
	s.metrics.suspicionScore(result.Score, string(result.Action))

	if result.Score == 0 || req.IP == "" {
		return result
	}

	history := s.scorer.record(models.SuspiciousActivity{
		IP:        req.IP,
		Score:     result.Score,
		Issues:    slices.Clone(result.Issues),
		UserAgent: req.UserAgent,
		Endpoint:  req.Endpoint,
		Method:    req.Method,
		Timestamp: now,
	}, now)

	s.emit(models.EventSuspiciousActivity, req.IP, map[string]interface{}{
		"score":    result.Score,
		"issues":   slices.Clone(result.Issues),
		"endpoint": req.Endpoint,
	})

	if history > s.cfg.AutoBlockThreshold && !s.blocklist.Contains(req.IP, now) {
		s.blockIP(req.IP, "multiple suspicious activities", false, map[string]interface{}{
			"count": history,
		})
	}

	return result
}

// RecordFailedLogin records a failed login for identity, or for ip when the
// identity is unknown, and locks the key once the threshold is reached
// within the evaluation window.
func (s *Service) RecordFailedLogin(identity, ip string, metadata map[string]interface{}) {
	now := s.clock.Now()
	ip = normalizeIP(ip)
	key := FailedLoginKey(identity, ip)

	recent := s.lockouts.recordFailure(key, ip, metadata, now, s.cfg.FailedLoginWindow)
	if recent < s.cfg.FailedLoginThreshold {
		return
	}

	s.LockAccount(key, models.LockOptions{
		Reason:       "Multiple failed login attempts",
		AttemptCount: recent,
		Duration:     s.cfg.LockoutDuration,
	})

	subject := identity
	if subject == "" {
		subject = ip
	}
	s.emit(models.EventAccountLocked, subject, map[string]interface{}{
		"reason":   "multiple_failed_logins",
		"attempts": recent,
	})
}

// LockAccount writes the lockout for key, replacing any earlier lockout
func (s *Service) LockAccount(key string, opts models.LockOptions) models.Lockout {
	lockout := s.lockouts.lock(key, opts, s.clock.Now())

	s.emit(models.EventAccountLockout, key, map[string]interface{}{
		"locked_at": lockout.LockedAt,
		"reason":    lockout.Reason,
		"attempts":  lockout.AttemptCount,
		"duration":  lockout.Duration.Milliseconds(),
	})

	return lockout
}

// IsAccountLocked reports the lockout state of key. An expired lockout is
// removed and reported as unlocked.
func (s *Service) IsAccountLocked(key string) models.LockoutStatus {
	return s.lockouts.status(key, s.clock.Now())
}

// UnlockAccount lifts a lockout before it expires and forgets the key's
// failed attempts. It reports whether a lockout record existed.
func (s *Service) UnlockAccount(key string) bool {
	had := s.lockouts.unlock(key)
	s.emit(models.EventAccountUnlocked, key, map[string]interface{}{
		"had_lockout": had,
	})
	return had
}

// BlockIP adds ip to the block list
func (s *Service) BlockIP(ip, reason string, manual bool) {
	s.blockIP(normalizeIP(ip), reason, manual, nil)
}

func (s *Service) blockIP(ip, reason string, manual bool, extra map[string]interface{}) {
	entry, _ := s.blocklist.Add(ip, reason, manual, s.clock.Now())

	details := map[string]interface{}{
		"reason": reason,
		"manual": manual,
	}
	if entry.ExpiresAt != nil {
		details["expires_at"] = *entry.ExpiresAt
	}
	for k, v := range extra {
		details[k] = v
	}
	s.emit(models.EventIPBlocked, ip, details)
}

// UnblockIP removes ip from the block list and reports whether it was there
func (s *Service) UnblockIP(ip string) bool {
	ip = normalizeIP(ip)
	removed := s.blocklist.Remove(ip)
	s.emit(models.EventIPUnblocked, ip, nil)
	return removed
}

// IsIPBlocked reports whether ip is currently blocked
func (s *Service) IsIPBlocked(ip string) bool {
	return s.blocklist.Contains(normalizeIP(ip), s.clock.Now())
}

// BlockedIPs lists the active block list entries
func (s *Service) BlockedIPs() []models.BlockedIP {
	return s.blocklist.List(s.clock.Now())
}

// RestoreBlockedIPs loads entries persisted elsewhere without emitting events
func (s *Service) RestoreBlockedIPs(entries []models.BlockedIP) {
	for _, e := range entries {
		s.blocklist.Restore(e)
	}
}

// Now reads the engine's clock, against which ResetTime and lockout expiry
// are measured
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// Events returns the export queue of emitted events
func (s *Service) Events() <-chan models.SecurityEvent {
	return s.events.Queue()
}

// DroppedEvents returns how many events missed the export queue
func (s *Service) DroppedEvents() int64 {
	return s.events.Dropped()
}

func (s *Service) emit(eventType, subject string, details map[string]interface{}) {
	ev := models.NewSecurityEvent(eventType, subject, s.clock.Now(), details)
	queued := s.events.Append(ev)
	s.metrics.event(eventType, queued)
}
