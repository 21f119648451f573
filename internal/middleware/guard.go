package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// TrustLevelHeader carries the suspicion verdict to upstream handlers
const TrustLevelHeader = "X-Trust-Level"

type guardContextKey string

const (
	suspicionContextKey guardContextKey = "suspicion"
	clientIPContextKey  guardContextKey = "client_ip"
)

// Engine is the part of the security service the guard consults
type Engine interface {
	Now() time.Time
	IsIPBlocked(ip string) bool
	CheckRateLimit(key string, actionType models.ActionType) models.RateLimitResult
	DetectSuspiciousActivity(req models.RequestSignals) models.SuspicionResult
}

// GuardConfig configures the request guard
type GuardConfig struct {
	IPConfig *pkghttp.IPConfig
	// Action is the rate limit policy charged per request
	Action models.ActionType
}

// Guard refuses blocked addresses, rate limits each client IP through the
// engine, scores the request and rejects it when the verdict is block.
// Requests it lets through carry the verdict in context and in the
// X-Trust-Level header.
func Guard(engine Engine, config GuardConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	action := config.Action
	if action == "" {
		action = models.ActionAPI
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := pkghttp.ExtractClientIP(r, config.IPConfig)

			if ip != "" {
				if engine.IsIPBlocked(ip) {
					logger.Warn("request from blocked address", slog.String("ip", ip), slog.String("path", r.URL.Path))
					pkghttp.WriteForbidden(w, "Access denied")
					return
				}

				limit := engine.CheckRateLimit("ip:"+ip, action)
				if !limit.Allowed {
					pkghttp.WriteTooManyRequestsRetry(w, limit.Reason, limit.RetryAfter(engine.Now()))
					return
				}
			}

			verdict := engine.DetectSuspiciousActivity(models.RequestSignals{
				IP:        ip,
				UserAgent: r.UserAgent(),
				Endpoint:  r.URL.Path,
				Method:    r.Method,
			})

			if verdict.Action == models.ActionBlock {
				logger.Warn("request blocked",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.Int("score", verdict.Score),
				)
				pkghttp.WriteForbidden(w, "Access denied")
				return
			}

			w.Header().Set(TrustLevelHeader, verdict.TrustLevel())

			ctx := context.WithValue(r.Context(), suspicionContextKey, verdict)
			ctx = context.WithValue(ctx, clientIPContextKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SuspicionFromContext returns the verdict stored by Guard
func SuspicionFromContext(ctx context.Context) (models.SuspicionResult, bool) {
	verdict, ok := ctx.Value(suspicionContextKey).(models.SuspicionResult)
	return verdict, ok
}

// ClientIPFromContext returns the client IP resolved by Guard
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPContextKey).(string)
	return ip
}
