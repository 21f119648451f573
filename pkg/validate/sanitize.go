// Package validate holds the stateless input checks used in front of the
// security engine. None of them return errors: every outcome is a value.
package validate

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxInputLength bounds sanitized input when no limit is given
const DefaultMaxInputLength = 10000

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// SanitizeOptions controls SanitizeInput. The zero value keeps every
// character class and only removes markup-significant characters.
type SanitizeOptions struct {
	MaxLength         int  `json:"max_length"`
	StripHTML         bool `json:"strip_html"`
	StripLetters      bool `json:"strip_letters"`
	StripNumbers      bool `json:"strip_numbers"`
	StripSpaces       bool `json:"strip_spaces"`
	StripSpecialChars bool `json:"strip_special_chars"`
}

// SanitizeInput truncates, strips and filters untrusted text.
// Input that is not valid UTF-8 yields an empty string.
func SanitizeInput(input string, opts SanitizeOptions) string {
	if !utf8.ValidString(input) {
		return ""
	}

	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxInputLength
	}
	if utf8.RuneCountInString(input) > maxLength {
		input = string([]rune(input)[:maxLength])
	}

	if opts.StripHTML {
		input = htmlTagPattern.ReplaceAllString(input, "")
	}

	sanitized := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`<>'"&`, r):
			return -1
		case unicode.IsLetter(r):
			if opts.StripLetters {
				return -1
			}
		case unicode.IsDigit(r):
			if opts.StripNumbers {
				return -1
			}
		case unicode.IsSpace(r):
			if opts.StripSpaces {
				return -1
			}
		default:
			if opts.StripSpecialChars {
				return -1
			}
		}
		return r
	}, input)

	return strings.TrimSpace(sanitized)
}
