package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
)

const testOperatorPassword = "c0rrect-Horse-battery"

func newTestOperatorAuth(t *testing.T, hash string) (*OperatorAuthService, *security.Service, *auth.TokenManager) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := security.NewService(security.Config{}, logger)
	require.NoError(t, err)

	if hash == "" {
		raw, err := bcrypt.GenerateFromPassword([]byte(testOperatorPassword), bcrypt.MinCost)
		require.NoError(t, err)
		hash = string(raw)
	}

	tm := auth.NewTokenManager("test-secret-32-characters-long!", "sentinel", time.Hour)
	svc := NewOperatorAuthService(engine, tm, Operator{Username: "ops", PasswordHash: hash, Role: "admin"}, logger)
	return svc, engine, tm
}

func TestOperatorAuth_Login_Success(t *testing.T) {
	svc, _, tm := newTestOperatorAuth(t, "")

	resp, err := svc.Login(context.Background(), " ops ", testOperatorPassword, "10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)

	claims, err := tm.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestOperatorAuth_Login_InvalidCredentials(t *testing.T) {
	svc, _, _ := newTestOperatorAuth(t, "")

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", "ops", "nope"},
		{"unknown user", "root", testOperatorPassword},
		{"empty username", "  ", testOperatorPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Login(context.Background(), tt.username, tt.password, "10.1.1.2")
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, models.ErrUnauthorized)
		})
	}
}

func TestOperatorAuth_Login_LocksAfterRepeatedFailures(t *testing.T) {
	svc, engine, _ := newTestOperatorAuth(t, "")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.Login(ctx, "ops", "guess", "10.1.1.3")
		require.ErrorIs(t, err, models.ErrUnauthorized)
	}

	_, err := svc.Login(ctx, "ops", "guess", "10.1.1.3")
	require.ErrorIs(t, err, models.ErrAccountLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, "failed_login:ops", locked.Key)
	assert.Positive(t, locked.Status.Remaining)
	assert.True(t, engine.IsAccountLocked("failed_login:ops").Locked)

	// the right password does not bypass an active lockout
	_, err = svc.Login(ctx, "ops", testOperatorPassword, "10.1.1.3")
	assert.ErrorIs(t, err, models.ErrAccountLocked)
}

func TestOperatorAuth_Login_MalformedHash(t *testing.T) {
	svc, _, _ := newTestOperatorAuth(t, "not-a-bcrypt-hash")

	_, err := svc.Login(context.Background(), "ops", testOperatorPassword, "10.1.1.4")
	assert.ErrorIs(t, err, models.ErrInternalServer)
}
