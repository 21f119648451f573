package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword_Common(t *testing.T) {
	result := ValidatePassword("password")

	assert.False(t, result.Valid)
	assert.Contains(t, result.Feedback, "Password is too common and easily guessable")
	assert.False(t, result.Checks[CheckCommon])
}

func TestValidatePassword_Strong(t *testing.T) {
	result := ValidatePassword("Str0ng!Pass")

	assert.True(t, result.Valid)
	assert.Equal(t, 6, result.Score)
	assert.Empty(t, result.Feedback)
	assert.Len(t, result.Checks, 7)
	for name, ok := range result.Checks {
		assert.True(t, ok, "check %s", name)
	}
}

func TestValidatePassword_AdvisoryChecksDoNotInvalidate(t *testing.T) {
	result := ValidatePassword("Classroom2024")

	assert.True(t, result.Valid)
	assert.Equal(t, 5, result.Score)
	assert.False(t, result.Checks[CheckSpecial])
	assert.Equal(t, []string{"Password should contain special characters for better security"}, result.Feedback)

	repeated := ValidatePassword("Teeest!2024")
	assert.True(t, repeated.Valid)
	assert.Equal(t, 5, repeated.Score)
	assert.False(t, repeated.Checks[CheckRepeated])
	assert.Contains(t, repeated.Feedback, "Avoid repeated characters")
}

func TestValidatePassword_MandatoryFailures(t *testing.T) {
	tests := []struct {
		name     string
		password string
		check    string
		feedback string
	}{
		{"too short", "Ab1!", CheckLength, "Password must be at least 8 characters long"},
		{"no lowercase", "ABCDEF1!", CheckLowercase, "Password must contain lowercase letters"},
		{"no uppercase", "abcdef1!", CheckUppercase, "Password must contain uppercase letters"},
		{"no digits", "Abcdefg!", CheckNumbers, "Password must contain numbers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePassword(tt.password)
			assert.False(t, result.Valid)
			assert.False(t, result.Checks[tt.check])
			assert.Contains(t, result.Feedback, tt.feedback)
		})
	}
}

func TestValidatePassword_ScoreNeverNegative(t *testing.T) {
	result := ValidatePassword("")
	assert.Equal(t, 1, result.Score)

	result = ValidatePassword("aaa")
	assert.GreaterOrEqual(t, result.Score, 0)
}
