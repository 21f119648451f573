package validate

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const MinPasswordLen = 8

// Check names reported in PasswordValidationResult.Checks
const (
	CheckLength    = "length"
	CheckLowercase = "lowercase"
	CheckUppercase = "uppercase"
	CheckNumbers   = "numbers"
	CheckSpecial   = "special"
	CheckCommon    = "common"
	CheckRepeated  = "repeated"
)

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

// PasswordValidationResult reports strength on a 0-6 scale.
// Valid is false only when a mandatory check fails.
type PasswordValidationResult struct {
	Valid    bool            `json:"valid"`
	Score    int             `json:"score"`
	Feedback []string        `json:"feedback"`
	Checks   map[string]bool `json:"checks"`
}

// ValidatePassword scores a password. Length, lowercase, uppercase, digits
// and not being a common password are mandatory; special characters and
// avoiding runs of three identical characters are advisory.
func ValidatePassword(password string) PasswordValidationResult {
	result := PasswordValidationResult{
		Valid:    true,
		Feedback: make([]string, 0),
		Checks:   make(map[string]bool, 7),
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r):
			hasSpecial = true
		}
	}

	mandatory := func(name string, ok bool, feedback string) {
		result.Checks[name] = ok
		if ok {
			result.Score++
			return
		}
		result.Valid = false
		result.Feedback = append(result.Feedback, feedback)
	}

	mandatory(CheckLength, utf8.RuneCountInString(password) >= MinPasswordLen,
		"Password must be at least 8 characters long")
	mandatory(CheckLowercase, hasLower, "Password must contain lowercase letters")
	mandatory(CheckUppercase, hasUpper, "Password must contain uppercase letters")
	mandatory(CheckNumbers, hasDigit, "Password must contain numbers")

	result.Checks[CheckSpecial] = hasSpecial
	if hasSpecial {
		result.Score++
	} else {
		result.Feedback = append(result.Feedback, "Password should contain special characters for better security")
	}

	mandatory(CheckCommon, !commonPasswords[strings.ToLower(password)],
		"Password is too common and easily guessable")

	repeated := hasRepeatedRun(password, 3)
	result.Checks[CheckRepeated] = !repeated
	if repeated {
		result.Feedback = append(result.Feedback, "Avoid repeated characters")
		if result.Score > 0 {
			result.Score--
		}
	}

	return result
}

// hasRepeatedRun reports whether any character repeats n or more times in a row
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range s {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}
