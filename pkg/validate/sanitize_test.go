package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  SanitizeOptions
		want  string
	}{
		{
			name:  "strips script tags",
			input: "<script>alert(1)</script>",
			opts:  SanitizeOptions{StripHTML: true},
			want:  "alert(1)",
		},
		{
			name:  "removes markup characters without stripping tags",
			input: `<b>"Tom" & 'Jerry'</b>`,
			want:  "bTom  Jerry/b",
		},
		{
			name:  "strips special characters",
			input: "Grade: A+ (95%)",
			opts:  SanitizeOptions{StripSpecialChars: true},
			want:  "Grade A 95",
		},
		{
			name:  "strips numbers and spaces",
			input: " room 12 b ",
			opts:  SanitizeOptions{StripNumbers: true, StripSpaces: true},
			want:  "roomb",
		},
		{
			name:  "strips letters",
			input: "abc123",
			opts:  SanitizeOptions{StripLetters: true},
			want:  "123",
		},
		{
			name:  "keeps non-ascii letters",
			input: "  José Müller  ",
			opts:  SanitizeOptions{StripSpecialChars: true},
			want:  "José Müller",
		},
		{
			name:  "truncates to max length in runes",
			input: "ééééé",
			opts:  SanitizeOptions{MaxLength: 3},
			want:  "ééé",
		},
		{
			name:  "invalid utf-8 yields empty string",
			input: "abc\xff",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeInput(tt.input, tt.opts))
		})
	}
}

func TestSanitizeInput_NoDangerousCharactersRemain(t *testing.T) {
	out := SanitizeInput("<script>alert(1)</script>", SanitizeOptions{StripHTML: true})

	assert.False(t, strings.ContainsAny(out, `<>'"&`))
}

func TestSanitizeInput_DefaultMaxLength(t *testing.T) {
	out := SanitizeInput(strings.Repeat("a", DefaultMaxInputLength+50), SanitizeOptions{})

	assert.Len(t, out, DefaultMaxInputLength)
}
