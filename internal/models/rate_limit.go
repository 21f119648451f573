package models

import "time"

// ActionType names a rate-limited kind of action
type ActionType string

const (
	ActionLogin         ActionType = "login"
	ActionRegistration  ActionType = "registration"
	ActionPasswordReset ActionType = "passwordReset"
	ActionAPI           ActionType = "api"
	ActionFileUpload    ActionType = "fileUpload"
)

// RateLimitPolicy is the immutable limit for one action type
type RateLimitPolicy struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

// DefaultRateLimitPolicies returns the built-in policies
func DefaultRateLimitPolicies() map[ActionType]RateLimitPolicy {
	return map[ActionType]RateLimitPolicy{
		ActionLogin:         {Max: 5, Window: 5 * time.Minute},
		ActionRegistration:  {Max: 3, Window: time.Hour},
		ActionPasswordReset: {Max: 3, Window: time.Hour},
		ActionAPI:           {Max: 100, Window: time.Minute},
		ActionFileUpload:    {Max: 10, Window: time.Minute},
	}
}

// RateLimitResult is the outcome of a rate limit check.
// Remaining is -1 when no policy applies to the action type.
type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time,omitempty"`
	Reason    string    `json:"reason,omitempty"`
}

// RetryAfter returns how long the caller should wait before retrying
func (r RateLimitResult) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || r.ResetTime.IsZero() || !r.ResetTime.After(now) {
		return 0
	}
	return r.ResetTime.Sub(now)
}
