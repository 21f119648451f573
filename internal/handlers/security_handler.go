package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/security"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// SecurityServiceInterface is the engine surface behind the admin API
type SecurityServiceInterface interface {
	GetSecurityStats(window time.Duration) models.SecurityStats
	ExportSecurityLogs(format string) ([]byte, error)
	BlockedIPs() []models.BlockedIP
	BlockIP(ip, reason string, manual bool)
	IsIPBlocked(ip string) bool
	UnblockIP(ip string) bool
	LockAccount(key string, opts models.LockOptions) models.Lockout
	UnlockAccount(key string) bool
}

// EventStore queries persisted security events
type EventStore interface {
	List(ctx context.Context, filter repositories.EventFilter) ([]models.SecurityEvent, error)
}

// SecurityHandler handles the admin security HTTP requests
type SecurityHandler struct {
	service SecurityServiceInterface
	events  EventStore
	now     func() time.Time
}

// NewSecurityHandler creates a new SecurityHandler. events may be nil when
// no database is configured.
func NewSecurityHandler(service SecurityServiceInterface, events EventStore) *SecurityHandler {
	return &SecurityHandler{service: service, events: events, now: time.Now}
}

type statsResponse struct {
	models.SecurityStats
	Window string `json:"window"`
}

// GetStats handles GET /admin/security/stats?window=1h
func (h *SecurityHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			pkghttp.WriteBadRequest(w, "window must be a positive duration such as 1h or 30m")
			return
		}
		window = d
	}

	stats := h.service.GetSecurityStats(window)
	pkghttp.WriteJSON(w, http.StatusOK, statsResponse{SecurityStats: stats, Window: stats.Window.String()})
}

// Export handles GET /admin/security/export?format=json|csv
func (h *SecurityHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))

	data, err := h.service.ExportSecurityLogs(format)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedFormat) {
			pkghttp.WriteBadRequest(w, "format must be json or csv")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to export security logs")
		return
	}

	ext, contentType := security.FormatJSON, "application/json"
	if format == security.FormatCSV {
		ext, contentType = security.FormatCSV, "text/csv; charset=utf-8"
	}
	filename := fmt.Sprintf("security-logs-%s.%s", h.now().UTC().Format("20060102T150405Z"), ext)

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// ListEvents handles GET /admin/security/events?subject=..&type=..&since=..&limit=..
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		pkghttp.WriteError(w, http.StatusServiceUnavailable, "unavailable", "Event store is not configured")
		return
	}

	q := r.URL.Query()
	filter := repositories.EventFilter{
		Subjects: splitList(q["subject"]),
		Types:    splitList(q["type"]),
	}

	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			pkghttp.WriteBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > repositories.MaxEventListLimit {
			pkghttp.WriteBadRequest(w, fmt.Sprintf("limit must be between 1 and %d", repositories.MaxEventListLimit))
			return
		}
		filter.Limit = n
	}

	events, err := h.events.List(r.Context(), filter)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// ListBlockedIPs handles GET /admin/security/blocked-ips
func (h *SecurityHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	blocked := h.service.BlockedIPs()
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"blocked_ips": blocked,
		"count":       len(blocked),
	})
}

// BlockIPRequest is the body of POST /admin/security/blocked-ips
type BlockIPRequest struct {
	IP     string `json:"ip" validate:"required,ip"`
	Reason string `json:"reason" validate:"required,max=256"`
}

// BlockIP handles POST /admin/security/blocked-ips
func (h *SecurityHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.service.BlockIP(req.IP, req.Reason, true)

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"ip":      req.IP,
		"blocked": h.service.IsIPBlocked(req.IP),
	})
}

// UnblockIP handles DELETE /admin/security/blocked-ips/{ip}
func (h *SecurityHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		pkghttp.WriteBadRequest(w, "ip is required")
		return
	}

	removed := h.service.UnblockIP(ip)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ip":          ip,
		"was_blocked": removed,
	})
}

// LockAccountRequest is the body of POST /admin/security/lockouts
type LockAccountRequest struct {
	Key      string `json:"key" validate:"required,max=512"`
	Reason   string `json:"reason" validate:"required,max=256"`
	Duration string `json:"duration,omitempty"`
}

// LockAccount handles POST /admin/security/lockouts
func (h *SecurityHandler) LockAccount(w http.ResponseWriter, r *http.Request) {
	var req LockAccountRequest
	if err := decodeRequest(w, r, &req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var duration time.Duration
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil || d <= 0 {
			pkghttp.WriteBadRequest(w, "duration must be a positive duration such as 15m")
			return
		}
		duration = d
	}

	lockout := h.service.LockAccount(req.Key, models.LockOptions{
		Reason:   req.Reason,
		Duration: duration,
	})

	pkghttp.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"key":        lockout.Key,
		"reason":     lockout.Reason,
		"locked_at":  lockout.LockedAt,
		"expires_at": lockout.ExpiresAt(),
	})
}

// UnlockAccount handles DELETE /admin/security/lockouts/{key}
func (h *SecurityHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		pkghttp.WriteBadRequest(w, "key is required")
		return
	}

	// failure history is cleared even when no lockout was active
	had := h.service.UnlockAccount(key)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"key":         key,
		"had_lockout": had,
	})
}

// splitList flattens repeated and comma separated query values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
