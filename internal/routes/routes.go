package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// Config carries the settings shared by the route groups
type Config struct {
	IPConfig            *pkghttp.IPConfig
	IPRequestsPerMinute int
	AdminRole           string
	ServiceRole         string
}

// RegisterRoutes registers all application routes. authHandler may be nil,
// in which case operator login is not mounted.
func RegisterRoutes(
	router chi.Router,
	engine middleware.Engine,
	validationHandler *handlers.ValidationHandler,
	securityHandler *handlers.SecurityHandler,
	authHandler *handlers.AuthHandler,
	tokenManager *auth.TokenManager,
	cfg Config,
	logger *slog.Logger,
) {
	rateLimitConfig := middleware.DefaultIPRateLimit()
	rateLimitConfig.IPConfig = cfg.IPConfig
	if cfg.IPRequestsPerMinute > 0 {
		rateLimitConfig.RequestsPerMinute = cfg.IPRequestsPerMinute
	}

	// Public routes, throttled and scored per client
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(middleware.Guard(engine, middleware.GuardConfig{IPConfig: cfg.IPConfig}, logger))

		r.Get("/auth/verdict", validationHandler.RequestVerdict)

		r.Post("/validate/email", validationHandler.ValidateEmail)
		r.Post("/validate/password", validationHandler.ValidatePassword)
		r.Post("/validate/file", validationHandler.ValidateFile)
		r.Post("/sanitize", validationHandler.Sanitize)
	})

	// Service routes change or reveal engine state for arbitrary keys, so
	// they need a service or admin token
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		r.Use(auth.RequireService(tokenManager, cfg.ServiceRole, cfg.AdminRole))

		r.Post("/auth/login-attempts/failed", validationHandler.RecordFailedLogin)
		r.Get("/auth/lockouts/{key}", validationHandler.GetLockoutStatus)
		r.Post("/rate-limit/check", validationHandler.CheckRateLimit)
	})

	// Operator login is charged against the login policy instead of api
	if authHandler != nil {
		router.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))
			r.Use(middleware.Guard(engine, middleware.GuardConfig{
				IPConfig: cfg.IPConfig,
				Action:   models.ActionLogin,
			}, logger))

			r.Post("/auth/token", authHandler.IssueToken)
		})
	}

	// Admin routes
	router.Route("/admin/security", func(r chi.Router) {
		r.Use(auth.RequireAdmin(tokenManager, cfg.AdminRole))

		r.Get("/stats", securityHandler.GetStats)
		r.Get("/export", securityHandler.Export)
		r.Get("/events", securityHandler.ListEvents)

		r.Get("/blocked-ips", securityHandler.ListBlockedIPs)
		r.Post("/blocked-ips", securityHandler.BlockIP)
		r.Delete("/blocked-ips/{ip}", securityHandler.UnblockIP)

		r.Post("/lockouts", securityHandler.LockAccount)
		r.Delete("/lockouts/{key}", securityHandler.UnlockAccount)
	})
}
