package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	TokenKeyLength     = 32 // 256 bits
	DefaultTokenLength = 32
)

// GenerateSecureToken returns n random bytes hex encoded (2n characters).
// A non-positive n uses DefaultTokenLength.
func GenerateSecureToken(n int) (string, error) {
	if n <= 0 {
		n = DefaultTokenLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secure token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GenerateTokenKey returns a base64 encoded 256-bit key
func GenerateTokenKey() (string, error) {
	bytes := make([]byte, TokenKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}
