package validate

import (
	"regexp"
	"strings"
)

// MaxEmailLength is the RFC 5321 path limit
const MaxEmailLength = 254

const (
	reasonInvalidEmail    = "Invalid email format"
	reasonEmailTooLong    = "Email too long"
	reasonSuspiciousEmail = "Suspicious email pattern"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	suspiciousEmailPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+\d{10,}`),
		regexp.MustCompile(`test\d{5,}`),
		regexp.MustCompile(`spam|junk|temp`),
	}
)

// ValidationResult is a pass/fail verdict with an optional reason
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ValidateEmail checks shape, length and disposable-address heuristics
func ValidateEmail(email string) ValidationResult {
	if email == "" || !emailPattern.MatchString(email) {
		return ValidationResult{Reason: reasonInvalidEmail}
	}
	if len(email) > MaxEmailLength {
		return ValidationResult{Reason: reasonEmailTooLong}
	}
	if isSuspiciousEmail(email) {
		return ValidationResult{Reason: reasonSuspiciousEmail}
	}
	return ValidationResult{Valid: true}
}

func isSuspiciousEmail(email string) bool {
	lower := strings.ToLower(email)
	for _, p := range suspiciousEmailPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}
