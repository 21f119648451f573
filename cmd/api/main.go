package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/handlers"
	middlewareCustom "github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/routes"
	"github.com/BradenHooton/sentinel/internal/security"
	"github.com/BradenHooton/sentinel/internal/services"
	"github.com/BradenHooton/sentinel/internal/sinks"
	"github.com/BradenHooton/sentinel/internal/telemetry"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	pkglogger "github.com/BradenHooton/sentinel/pkg/logger"
)

func main() {
	keygen := flag.Bool("keygen", false, "print a fresh JWT_SECRET and SECURITY_SEALING_KEY and exit")
	hashPassword := flag.Bool("hash-password", false, "read a password from stdin, print its bcrypt hash and exit")
	serviceToken := flag.String("service-token", "", "print a service-role token for the named caller and exit")
	flag.Parse()

	switch {
	case *keygen:
		if err := printKeys(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	case *hashPassword:
		if err := printPasswordHash(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	case *serviceToken != "":
		if err := printServiceToken(*serviceToken); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx := context.Background()

	// Metrics must be installed before the engine resolves its meter
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Server.Env, logger)
	if err != nil {
		logger.Error("failed to set up telemetry", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize the engine
	engine, err := security.NewService(engineConfig(cfg.Security), logger)
	if err != nil {
		logger.Error("failed to create security engine", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	eventRepo := repositories.NewSecurityEventRepository(db)

	// Event sinks
	eventSinks := []background.EventSink{
		sinks.NewLogSink(pkglogger.NewSecurityLogger(logger)),
		eventRepo,
	}

	var closers []func() error

	if cfg.Redis.Enabled() {
		mirror, err := sinks.NewRedisMirror(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		closers = append(closers, mirror.Close)
		eventSinks = append(eventSinks, mirror)

		loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		blocked, err := mirror.LoadBlockedIPs(loadCtx)
		cancel()
		if err != nil {
			logger.Warn("failed to restore blocked IPs from redis", slog.Any("error", err))
		} else {
			engine.RestoreBlockedIPs(blocked)
			logger.Info("restored blocked IPs", slog.Int("count", len(blocked)))
		}
	}

	if cfg.NATS.Enabled() {
		var sealer *pkgauth.Sealer
		if cfg.Security.SealingKey != "" {
			sealer, err = pkgauth.NewSealerFromBase64(cfg.Security.SealingKey)
			if err != nil {
				logger.Error("invalid SECURITY_SEALING_KEY", slog.Any("error", err))
				os.Exit(1)
			}
		}

		publisher, err := sinks.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, sealer, logger)
		if err != nil {
			logger.Error("failed to connect to nats", slog.Any("error", err))
			os.Exit(1)
		}
		closers = append(closers, publisher.Close)
		eventSinks = append(eventSinks, publisher)
	}

	if cfg.Alerts.Enabled() {
		alerts, err := services.NewAWSSESAlertService(ctx, cfg.Alerts, logger)
		if err != nil {
			logger.Error("failed to initialize alert service", slog.Any("error", err))
			os.Exit(1)
		}
		eventSinks = append(eventSinks, alerts)
	}

	exporter := background.NewEventExporter(engine.Events(), eventSinks, background.ExporterConfig{
		BatchSize:   cfg.Security.ExportBatchSize,
		FlushPeriod: cfg.Security.ExportFlushPeriod,
		Timeout:     cfg.Security.ExportTimeout,
	}, logger)

	monitor := background.NewSecurityMonitor(engine, background.MonitorConfig{
		TrendInterval:   cfg.Security.TrendInterval,
		CleanupInterval: cfg.Security.CleanupInterval,
		Retention:       cfg.Security.EventRetention,
		Purger:          eventRepo,
	}, logger)

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)

	// Initialize handlers
	validationHandler := handlers.NewValidationHandler(engine)
	securityHandler := handlers.NewSecurityHandler(engine, eventRepo)

	var authHandler *handlers.AuthHandler
	if cfg.Auth.OperatorEnabled() {
		operator, err := loadOperator(cfg.Auth, cfg.Server.Env)
		if err != nil {
			logger.Error("failed to load operator credentials", slog.Any("error", err))
			os.Exit(1)
		}
		authHandler = handlers.NewAuthHandler(services.NewOperatorAuthService(engine, tokenManager, operator, logger))
		logger.Info("operator login enabled", pkglogger.RedactedAttr("operator", operator.Username, cfg.Server.Env))
	} else {
		logger.Info("no OPERATOR_USERNAME configured, operator login disabled")
	}

	ipConfig, err := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	if err != nil {
		logger.Error("invalid TRUSTED_PROXIES", slog.Any("error", err))
		os.Exit(1)
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, engine, validationHandler, securityHandler, authHandler, tokenManager, routes.Config{
		IPConfig:            ipConfig,
		IPRequestsPerMinute: cfg.Server.IPRequestsPerMinute,
		AdminRole:           cfg.Auth.AdminRole,
		ServiceRole:         cfg.Auth.ServiceRole,
	}, logger)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}

		pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "healthy",
			"database":       "up",
			"db_connections": db.Stats().TotalConns(),
			"blocked_ips":    len(engine.BlockedIPs()),
			"dropped_events": engine.DroppedEvents(),
		})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start background tasks
	exportCtx, exportCancel := context.WithCancel(ctx)
	defer exportCancel()

	go exporter.Start(exportCtx)

	if err := monitor.Start(); err != nil {
		logger.Error("failed to start security monitor", slog.Any("error", err))
		os.Exit(1)
	}

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Warn("security monitor did not stop in time", slog.Any("error", err))
	}

	// Requests are done, so the queue only shrinks from here
	exporter.Stop()
	logger.Info("event exporter stopped",
		slog.Int64("exported", exporter.Exported()),
		slog.Int64("failed", exporter.Failed()),
		slog.Int64("dropped", engine.DroppedEvents()),
	)

	for _, closeSink := range closers {
		if err := closeSink(); err != nil {
			logger.Warn("failed to close event sink", slog.Any("error", err))
		}
	}

	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("failed to flush metrics", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

// engineConfig maps environment settings onto the engine's thresholds
func engineConfig(c config.SecurityConfig) security.Config {
	policies := models.DefaultRateLimitPolicies()
	for action, override := range c.RateLimits {
		policies[models.ActionType(action)] = models.RateLimitPolicy{Max: override.Max, Window: override.Window}
	}

	return security.Config{
		Policies:             policies,
		FailedLoginThreshold: c.FailedLoginThreshold,
		FailedLoginWindow:    c.FailedLoginWindow,
		LockoutDuration:      c.LockoutDuration,
		VelocityThreshold:    c.VelocityThreshold,
		AutoBlockThreshold:   c.AutoBlockThreshold,
		HistoryRetention:     c.HistoryRetention,
		AutoBlockTTL:         c.AutoBlockTTL,
		ManualBlockTTL:       c.ManualBlockTTL,
		EventRetention:       c.EventRetention,
		MaxEvents:            c.MaxEvents,
		EventQueueSize:       c.EventBufferSize,
	}
}

// loadOperator resolves the operator identity, hashing a plain password
// when no hash is configured
func loadOperator(c config.AuthConfig, env string) (services.Operator, error) {
	hash := c.OperatorPasswordHash
	if hash == "" {
		if env == "production" {
			return services.Operator{}, errors.New("OPERATOR_PASSWORD_HASH is required in production")
		}
		slog.Warn("OPERATOR_PASSWORD is set in plain text; prefer OPERATOR_PASSWORD_HASH")
		var err error
		hash, err = pkgauth.HashPassword(c.OperatorPassword)
		if err != nil {
			return services.Operator{}, fmt.Errorf("failed to hash operator password: %w", err)
		}
	}

	return services.Operator{
		Username:     c.OperatorUsername,
		PasswordHash: hash,
		Role:         c.AdminRole,
	}, nil
}

func printKeys() error {
	secret, err := pkgauth.GenerateSecureToken(32)
	if err != nil {
		return err
	}
	sealingKey, err := pkgauth.GenerateTokenKey()
	if err != nil {
		return err
	}
	fmt.Printf("JWT_SECRET=%s\nSECURITY_SEALING_KEY=%s\n", secret, sealingKey)
	return nil
}

func printPasswordHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password: %w", err)
	}
	hash, err := pkgauth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func printServiceToken(subject string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tm := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
	token, err := tm.GenerateTokenWithExpiry(subject, cfg.Auth.ServiceRole, cfg.Auth.ServiceTokenExpiry)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
