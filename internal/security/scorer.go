package security

import (
	"slices"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

const (
	scoreBotUserAgent  = 3
	scoreRapidRequests = 2
	scoreSensitivePath = 1
	scoreBlockedIP     = 5
)

const (
	issueBotUserAgent  = "Suspicious user agent"
	issueRapidRequests = "Rapid requests from IP"
	issueSensitivePath = "Unusual endpoint access"
	issueBlockedIP     = "Blocked IP address"
)

// ScorerConfig tunes the suspicious activity rules
type ScorerConfig struct {
	BotMarkers        []string
	SensitivePrefixes []string
	VelocityThreshold int
	VelocityWindow    time.Duration
	Retention         time.Duration
}

// Scorer turns request signals into an additive suspicion score and keeps
// the per-IP history of non-zero verdicts.
type Scorer struct {
	cfg      ScorerConfig
	requests *SlidingWindow
	activity *shardedMap[[]models.SuspiciousActivity]
}

// NewScorer creates a Scorer
func NewScorer(cfg ScorerConfig) *Scorer {
	markers := make([]string, len(cfg.BotMarkers))
	for i, m := range cfg.BotMarkers {
		markers[i] = strings.ToLower(m)
	}
	cfg.BotMarkers = markers

	return &Scorer{
		cfg:      cfg,
		requests: NewSlidingWindow(),
		activity: newShardedMap[[]models.SuspiciousActivity](),
	}
}

// evaluate scores one request. Every rule is applied; none short-circuits.
// Each call also counts as one observed request for the address at now.
func (s *Scorer) evaluate(req models.RequestSignals, blocked bool, now time.Time) models.SuspicionResult {
	score := 0
	issues := make([]string, 0, 4)

	if s.isBotUserAgent(req.UserAgent) {
		score += scoreBotUserAgent
		issues = append(issues, issueBotUserAgent)
	}

	if req.IP != "" {
		observed := s.requests.Observe(req.IP, now, s.cfg.VelocityWindow, s.cfg.VelocityThreshold+1)
		if observed > s.cfg.VelocityThreshold {
			score += scoreRapidRequests
			issues = append(issues, issueRapidRequests)
		}
	}

	if s.isSensitiveEndpoint(req.Endpoint) {
		score += scoreSensitivePath
		issues = append(issues, issueSensitivePath)
	}

	if blocked {
		score += scoreBlockedIP
		issues = append(issues, issueBlockedIP)
	}

	return models.SuspicionResult{
		Suspicious: score > 2,
		Score:      score,
		Issues:     issues,
		Action:     actionFor(score),
	}
}

func actionFor(score int) models.SuspicionAction {
	switch {
	case score > 5:
		return models.ActionBlock
	case score > 3:
		return models.ActionChallenge
	default:
		return models.ActionMonitor
	}
}

func (s *Scorer) isBotUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	return slices.ContainsFunc(s.cfg.BotMarkers, func(marker string) bool {
		return strings.Contains(ua, marker)
	})
}

func (s *Scorer) isSensitiveEndpoint(endpoint string) bool {
	return slices.ContainsFunc(s.cfg.SensitivePrefixes, func(prefix string) bool {
		return strings.HasPrefix(endpoint, prefix)
	})
}

func activityTime(a models.SuspiciousActivity) time.Time { return a.Timestamp }

// record appends a verdict to the address history, prunes it to the
// retention window, and returns the retained length.
func (s *Scorer) record(activity models.SuspiciousActivity, now time.Time) int {
	var n int
	s.activity.update(activity.IP, func(history []models.SuspiciousActivity, _ bool) ([]models.SuspiciousActivity, bool) {
		history = append(history, activity)
		history = retainAfter(history, now.Add(-s.cfg.Retention), activityTime)
		n = len(history)
		return history, n > 0
	})
	return n
}
