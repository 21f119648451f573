package handlers

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/security"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/BradenHooton/sentinel/pkg/validate"
)

// EngineInterface is the engine surface behind the public API
type EngineInterface interface {
	CheckRateLimit(key string, actionType models.ActionType) models.RateLimitResult
	RecordFailedLogin(identity, ip string, metadata map[string]interface{})
	IsAccountLocked(key string) models.LockoutStatus
}

// ValidationHandler serves the stateless validators and the engine checks
// used by other services
type ValidationHandler struct {
	engine EngineInterface
}

// NewValidationHandler creates a new ValidationHandler
func NewValidationHandler(engine EngineInterface) *ValidationHandler {
	return &ValidationHandler{engine: engine}
}

// EmailRequest is the body of POST /validate/email
type EmailRequest struct {
	Email string `json:"email" validate:"max=4096"`
}

// ValidateEmail handles POST /validate/email
func (h *ValidationHandler) ValidateEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, validate.ValidateEmail(req.Email))
}

// PasswordRequest is the body of POST /validate/password
type PasswordRequest struct {
	Password string `json:"password" validate:"max=1024"`
}

// ValidatePassword handles POST /validate/password
func (h *ValidationHandler) ValidatePassword(w http.ResponseWriter, r *http.Request) {
	var req PasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, validate.ValidatePassword(req.Password))
}

// FileRequest is the body of POST /validate/file
type FileRequest struct {
	File         validate.FileMeta `json:"file"`
	AllowedTypes []string          `json:"allowed_types" validate:"max=64"`
	MaxSize      int64             `json:"max_size" validate:"gte=0"`
}

// ValidateFile handles POST /validate/file
func (h *ValidationHandler) ValidateFile(w http.ResponseWriter, r *http.Request) {
	var req FileRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, validate.ValidateFileUpload(req.File, req.AllowedTypes, req.MaxSize))
}

// SanitizeRequest is the body of POST /sanitize
type SanitizeRequest struct {
	Input   string                   `json:"input"`
	Options validate.SanitizeOptions `json:"options"`
}

// Sanitize handles POST /sanitize
func (h *ValidationHandler) Sanitize(w http.ResponseWriter, r *http.Request) {
	var req SanitizeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{
		"sanitized": validate.SanitizeInput(req.Input, req.Options),
	})
}

// RateLimitCheckRequest is the body of POST /rate-limit/check
type RateLimitCheckRequest struct {
	Key        string `json:"key" validate:"required,max=512"`
	ActionType string `json:"action_type" validate:"required,max=64"`
}

// CheckRateLimit handles POST /rate-limit/check. A rejected check is still a
// successful call; callers read Allowed.
func (h *ValidationHandler) CheckRateLimit(w http.ResponseWriter, r *http.Request) {
	var req RateLimitCheckRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, h.engine.CheckRateLimit(req.Key, models.ActionType(req.ActionType)))
}

// FailedLoginRequest is the body of POST /auth/login-attempts/failed
type FailedLoginRequest struct {
	Identity string                 `json:"identity" validate:"required_without=IP,max=512"`
	IP       string                 `json:"ip" validate:"omitempty,ip"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// LockoutStatusResponse reports the deny-state of one key
type LockoutStatusResponse struct {
	Key              string `json:"key"`
	Locked           bool   `json:"locked"`
	Reason           string `json:"reason,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

func newLockoutStatusResponse(key string, status models.LockoutStatus) LockoutStatusResponse {
	return LockoutStatusResponse{
		Key:              key,
		Locked:           status.Locked,
		Reason:           status.Reason,
		RemainingSeconds: int(math.Ceil(status.Remaining.Seconds())),
	}
}

// RecordFailedLogin handles POST /auth/login-attempts/failed. When the
// failure locks the key the response is 423 with Retry-After.
func (h *ValidationHandler) RecordFailedLogin(w http.ResponseWriter, r *http.Request) {
	var req FailedLoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.engine.RecordFailedLogin(req.Identity, req.IP, req.Metadata)

	key := security.FailedLoginKey(req.Identity, req.IP)
	status := h.engine.IsAccountLocked(key)
	if status.Locked {
		resp := newLockoutStatusResponse(key, status)
		w.Header().Set("Retry-After", strconv.Itoa(resp.RemainingSeconds))
		pkghttp.WriteLocked(w, models.ErrAccountLocked.Error())
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newLockoutStatusResponse(key, status))
}

// GetLockoutStatus handles GET /auth/lockouts/{key}
func (h *ValidationHandler) GetLockoutStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		pkghttp.WriteBadRequest(w, "key is required")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, newLockoutStatusResponse(key, h.engine.IsAccountLocked(key)))
}

// RequestVerdict handles GET /auth/verdict and echoes the guard's decision
// for the calling client
func (h *ValidationHandler) RequestVerdict(w http.ResponseWriter, r *http.Request) {
	verdict, ok := middleware.SuspicionFromContext(r.Context())
	if !ok {
		pkghttp.WriteInternalError(w, "No verdict available")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ip":          middleware.ClientIPFromContext(r.Context()),
		"verdict":     verdict,
		"trust_level": verdict.TrustLevel(),
	})
}
