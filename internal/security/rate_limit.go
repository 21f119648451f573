package security

import (
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

const rateLimitExceededReason = "Rate limit exceeded"

// RateLimiter applies per-action-type policies on top of a sliding window
type RateLimiter struct {
	policies map[models.ActionType]models.RateLimitPolicy
	window   *SlidingWindow
}

// NewRateLimiter creates a RateLimiter. Every policy must have a positive
// max and window.
func NewRateLimiter(policies map[models.ActionType]models.RateLimitPolicy) (*RateLimiter, error) {
	copied := make(map[models.ActionType]models.RateLimitPolicy, len(policies))
	for action, p := range policies {
		if p.Max <= 0 || p.Window <= 0 {
			return nil, fmt.Errorf("rate limit policy %q must have positive max and window", action)
		}
		copied[action] = p
	}
	return &RateLimiter{policies: copied, window: NewSlidingWindow()}, nil
}

// Policy returns the policy for an action type
func (rl *RateLimiter) Policy(action models.ActionType) (models.RateLimitPolicy, bool) {
	p, ok := rl.policies[action]
	return p, ok
}

// rateDecision carries what the service needs to emit a rejection event
type rateDecision struct {
	result   models.RateLimitResult
	policy   models.RateLimitPolicy
	attempts int
	enforced bool
}

func (rl *RateLimiter) check(key string, action models.ActionType, now time.Time) rateDecision {
	policy, ok := rl.policies[action]
	if !ok {
		// Unknown action types are allowed without touching any counter
		return rateDecision{result: models.RateLimitResult{Allowed: true, Remaining: -1}}
	}

	count, oldest, admitted := rl.window.Hit(counterKey(action, key), now, policy.Window, policy.Max)
	if !admitted {
		return rateDecision{
			result: models.RateLimitResult{
				Allowed:   false,
				Remaining: 0,
				ResetTime: oldest.Add(policy.Window),
				Reason:    rateLimitExceededReason,
			},
			policy:   policy,
			attempts: count,
			enforced: true,
		}
	}

	return rateDecision{
		result: models.RateLimitResult{
			Allowed:   true,
			Remaining: policy.Max - count,
			ResetTime: now.Add(policy.Window),
		},
		policy:   policy,
		attempts: count,
		enforced: true,
	}
}

// counterKey scopes a caller key to one action type
func counterKey(action models.ActionType, key string) string {
	return "action:" + string(action) + ":" + key
}
