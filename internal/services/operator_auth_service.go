package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

// LoginGuard is the part of the engine that protects operator logins
type LoginGuard interface {
	IsAccountLocked(key string) models.LockoutStatus
	RecordFailedLogin(identity, ip string, metadata map[string]interface{})
}

// TokenIssuer signs operator tokens
type TokenIssuer interface {
	GenerateToken(subject, role string) (string, error)
}

// Operator is the single configured admin identity
type Operator struct {
	Username     string
	PasswordHash string
	Role         string
}

// LockedError is returned when the login key is locked out
type LockedError struct {
	Key    string
	Status models.LockoutStatus
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s", models.ErrAccountLocked, e.Status.Reason)
}

func (e *LockedError) Unwrap() error { return models.ErrAccountLocked }

// TokenResponse is returned on a successful operator login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// OperatorAuthService exchanges operator credentials for admin tokens.
// Failed attempts are recorded in the engine so repeated guessing locks
// the username/IP pair like any other login.
type OperatorAuthService struct {
	guard    LoginGuard
	tokens   TokenIssuer
	operator Operator
	logger   *slog.Logger
}

// NewOperatorAuthService creates a new OperatorAuthService
func NewOperatorAuthService(guard LoginGuard, tokens TokenIssuer, operator Operator, logger *slog.Logger) *OperatorAuthService {
	return &OperatorAuthService{
		guard:    guard,
		tokens:   tokens,
		operator: operator,
		logger:   logger,
	}
}

// Login verifies username and password for a caller at ip
func (s *OperatorAuthService) Login(ctx context.Context, username, password, ip string) (*TokenResponse, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.ErrUnauthorized
	}

	key := security.FailedLoginKey(username, ip)
	if status := s.guard.IsAccountLocked(key); status.Locked {
		s.logger.WarnContext(ctx, "operator login rejected: locked",
			slog.String("key", pkglogger.SanitizedKey(key)))
		return nil, &LockedError{Key: key, Status: status}
	}

	// Hash is checked for unknown usernames too
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.operator.Username)) == 1
	err := pkgauth.ComparePassword(s.operator.PasswordHash, password)
	if err != nil && !errors.Is(err, pkgauth.ErrPasswordMismatch) {
		s.logger.ErrorContext(ctx, "failed to verify operator password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !userMatch || err != nil {
		s.guard.RecordFailedLogin(username, ip, map[string]interface{}{
			"reason":   "invalid_credentials",
			"endpoint": "/auth/token",
		})
		s.logger.InfoContext(ctx, "operator login failed: invalid credentials",
			slog.String("key", pkglogger.SanitizedKey(key)))

		if status := s.guard.IsAccountLocked(key); status.Locked {
			return nil, &LockedError{Key: key, Status: status}
		}
		return nil, models.ErrUnauthorized
	}

	token, err := s.tokens.GenerateToken(s.operator.Username, s.operator.Role)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate operator token", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.InfoContext(ctx, "operator logged in", slog.String("key", pkglogger.SanitizedKey(key)))

	return &TokenResponse{AccessToken: token, TokenType: "Bearer"}, nil
}
