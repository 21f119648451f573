package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// OperatorAuthInterface defines the operator login contract
type OperatorAuthInterface interface {
	Login(ctx context.Context, username, password, ip string) (*services.TokenResponse, error)
}

// AuthHandler issues operator tokens for the admin API
type AuthHandler struct {
	service OperatorAuthInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service OperatorAuthInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// TokenRequest is the body of POST /auth/token
type TokenRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=72"`
}

// IssueToken handles POST /auth/token
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ip := middleware.ClientIPFromContext(r.Context())
	if ip == "" {
		ip = pkghttp.ExtractClientIP(r, nil)
	}

	resp, err := h.service.Login(r.Context(), req.Username, req.Password, ip)
	if err != nil {
		var locked *services.LockedError
		switch {
		case errors.As(err, &locked):
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(locked.Status.Remaining.Seconds()))))
			pkghttp.WriteLocked(w, models.ErrAccountLocked.Error())
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid credentials")
		default:
			pkghttp.WriteInternalError(w, "Failed to issue token")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}
