package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Security  SecurityConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Alerts    AlertConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
	// IPRequestsPerMinute is the coarse per-IP HTTP throttle in front of the engine
	IPRequestsPerMinute int
}

type AuthConfig struct {
	JWTSecret   string
	AdminRole   string
	Issuer      string
	TokenExpiry time.Duration

	// ServiceRole is the role carried by tokens for the identity provider
	// and other callers of the service routes
	ServiceRole        string
	ServiceTokenExpiry time.Duration

	// Operator credentials for POST /auth/token. Either a bcrypt hash or a
	// plain password that is hashed at startup.
	OperatorUsername     string
	OperatorPasswordHash string
	OperatorPassword     string
}

// OperatorEnabled reports whether operator tokens can be issued
func (c AuthConfig) OperatorEnabled() bool {
	return c.OperatorUsername != "" && (c.OperatorPasswordHash != "" || c.OperatorPassword != "")
}

// RateLimitOverride replaces one built-in policy, parsed from "max/window"
type RateLimitOverride struct {
	Max    int
	Window time.Duration
}

type SecurityConfig struct {
	RateLimits map[string]RateLimitOverride

	FailedLoginThreshold int
	FailedLoginWindow    time.Duration
	LockoutDuration      time.Duration
	VelocityThreshold    int
	AutoBlockThreshold   int
	HistoryRetention     time.Duration
	AutoBlockTTL         time.Duration
	ManualBlockTTL       time.Duration

	TrendInterval   time.Duration
	CleanupInterval time.Duration

	EventRetention    time.Duration
	MaxEvents         int
	EventBufferSize   int
	ExportBatchSize   int
	ExportFlushPeriod time.Duration
	ExportTimeout     time.Duration

	// SealingKey is a base64 32-byte key; when set, streamed events are sealed
	SealingKey string
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Enabled reports whether the Redis mirror should be started
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

type NATSConfig struct {
	URL     string
	Subject string
}

func (c NATSConfig) Enabled() bool { return c.URL != "" }

type AlertConfig struct {
	Region        string
	Sender        string
	Recipients    []string
	MaxPerMinute  int
	SubjectPrefix string
}

func (c AlertConfig) Enabled() bool { return c.Sender != "" && len(c.Recipients) > 0 }

type TelemetryConfig struct {
	OTLPEndpoint   string
	Insecure       bool
	ServiceName    string
	ExportInterval time.Duration
}

func (c TelemetryConfig) Enabled() bool { return c.OTLPEndpoint != "" }

// rateLimitEnv maps action types to the variables that override them
var rateLimitEnv = map[string]string{
	"login":         "RATE_LIMIT_LOGIN",
	"registration":  "RATE_LIMIT_REGISTRATION",
	"passwordReset": "RATE_LIMIT_PASSWORD_RESET",
	"api":           "RATE_LIMIT_API",
	"fileUpload":    "RATE_LIMIT_FILE_UPLOAD",
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	rateLimits, err := loadRateLimits()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:                getEnv("PORT", "8080"),
			Env:                 env,
			LogLevel:            getEnv("LOG_LEVEL", "info"),
			ReadTimeout:         getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:        getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:         getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			TrustedProxies:      getEnvAsList("TRUSTED_PROXIES", nil),
			IPRequestsPerMinute: getEnvAsInt("IP_REQUESTS_PER_MINUTE", 300),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			AdminRole: getEnv("ADMIN_ROLE", "admin"),
			Issuer:    getEnv("JWT_ISSUER", ""),

			TokenExpiry:          getEnvAsDuration("JWT_TOKEN_EXPIRY", time.Hour),
			ServiceRole:          getEnv("SERVICE_ROLE", "service"),
			ServiceTokenExpiry:   getEnvAsDuration("SERVICE_TOKEN_EXPIRY", 30*24*time.Hour),
			OperatorUsername:     getEnv("OPERATOR_USERNAME", ""),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
			OperatorPassword:     getEnv("OPERATOR_PASSWORD", ""),
		},
		Security: SecurityConfig{
			RateLimits:           rateLimits,
			FailedLoginThreshold: getEnvAsInt("FAILED_LOGIN_THRESHOLD", 5),
			FailedLoginWindow:    getEnvAsDuration("FAILED_LOGIN_WINDOW", time.Hour),
			LockoutDuration:      getEnvAsDuration("LOCKOUT_DURATION", 5*time.Minute),
			VelocityThreshold:    getEnvAsInt("VELOCITY_THRESHOLD", 50),
			AutoBlockThreshold:   getEnvAsInt("AUTO_BLOCK_THRESHOLD", 10),
			HistoryRetention:     getEnvAsDuration("SECURITY_HISTORY_RETENTION", 24*time.Hour),
			AutoBlockTTL:         getEnvAsDuration("AUTO_BLOCK_TTL", 0),
			ManualBlockTTL:       getEnvAsDuration("MANUAL_BLOCK_TTL", 0),
			TrendInterval:        getEnvAsDuration("SECURITY_TREND_INTERVAL", time.Minute),
			CleanupInterval:      getEnvAsDuration("SECURITY_CLEANUP_INTERVAL", time.Hour),
			EventRetention:       getEnvAsDuration("SECURITY_EVENT_RETENTION", 24*time.Hour),
			MaxEvents:            getEnvAsInt("SECURITY_MAX_EVENTS", 100000),
			EventBufferSize:      getEnvAsInt("SECURITY_EVENT_BUFFER", 1024),
			ExportBatchSize:      getEnvAsInt("SECURITY_EXPORT_BATCH_SIZE", 100),
			ExportFlushPeriod:    getEnvAsDuration("SECURITY_EXPORT_FLUSH_PERIOD", 2*time.Second),
			ExportTimeout:        getEnvAsDuration("SECURITY_EXPORT_TIMEOUT", 10*time.Second),
			SealingKey:           getEnv("SECURITY_SEALING_KEY", ""),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "sentinel:"),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", ""),
			Subject: getEnv("NATS_SUBJECT", "security.events"),
		},
		Alerts: AlertConfig{
			Region:        getEnv("AWS_REGION", "us-east-1"),
			Sender:        getEnv("ALERT_SENDER", ""),
			Recipients:    getEnvAsList("ALERT_RECIPIENTS", nil),
			MaxPerMinute:  getEnvAsInt("ALERT_MAX_PER_MINUTE", 6),
			SubjectPrefix: getEnv("ALERT_SUBJECT_PREFIX", "[sentinel]"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Insecure:       getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "sentinel"),
			ExportInterval: getEnvAsDuration("OTEL_METRIC_EXPORT_INTERVAL", 15*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *SecurityConfig) validate() error {
	if c.FailedLoginThreshold <= 0 {
		return fmt.Errorf("FAILED_LOGIN_THRESHOLD must be positive")
	}
	if c.TrendInterval <= 0 || c.CleanupInterval <= 0 {
		return fmt.Errorf("security sweep intervals must be positive")
	}
	if c.AutoBlockTTL < 0 || c.ManualBlockTTL < 0 {
		return fmt.Errorf("block TTLs cannot be negative")
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("SECURITY_EVENT_BUFFER must be positive")
	}
	return nil
}

func loadRateLimits() (map[string]RateLimitOverride, error) {
	overrides := make(map[string]RateLimitOverride)
	for action, key := range rateLimitEnv {
		value := os.Getenv(key)
		if value == "" {
			continue
		}
		override, err := parseRateLimit(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		overrides[action] = override
	}
	return overrides, nil
}

// parseRateLimit reads "max/window", e.g. "5/5m"
func parseRateLimit(value string) (RateLimitOverride, error) {
	maxStr, windowStr, ok := strings.Cut(value, "/")
	if !ok {
		return RateLimitOverride{}, fmt.Errorf("rate limit %q must look like max/window", value)
	}
	max, err := strconv.Atoi(strings.TrimSpace(maxStr))
	if err != nil || max <= 0 {
		return RateLimitOverride{}, fmt.Errorf("rate limit %q has an invalid max", value)
	}
	window, err := time.ParseDuration(strings.TrimSpace(windowStr))
	if err != nil || window <= 0 {
		return RateLimitOverride{}, fmt.Errorf("rate limit %q has an invalid window", value)
	}
	return RateLimitOverride{Max: max, Window: window}, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
