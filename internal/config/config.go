package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
	StoreGorm   StoreKind = "gorm"
)

type Config struct {
	ListenAddr     string
	BackendBaseURL string

	SessionStore  StoreKind
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionDSN    string
	SessionTTL    time.Duration

	CookieName          string
	CookieSigningSecret string
	CookieSecure        bool

	LoginPath         string
	HomePath          string
	LoginRateLimitRPM int

	LogLevel string

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELHTTPEnabled           bool
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout        time.Duration
	SessionCleanupInterval time.Duration
}

// Load reads configuration from the environment and validates it. Every
// failure, malformed values included, is collected so an operator sees the
// full list at once.
func Load(ctx context.Context) (*Config, error) {
	env := &envReader{}
	cfg := &Config{
		ListenAddr:     env.String("LISTEN_ADDR", ":8081"),
		BackendBaseURL: env.String("BACKEND_BASE_URL", ""),

		SessionStore:  StoreKind(strings.ToLower(env.String("SESSION_STORE", string(StoreMemory)))),
		RedisAddr:     env.String("REDIS_ADDR", "localhost:6379"),
		RedisPassword: env.String("REDIS_PASSWORD", ""),
		RedisDB:       env.Int("REDIS_DB", 0),
		SessionDSN:    env.String("SESSION_DSN", "portal_sessions.db"),
		SessionTTL:    env.Duration("SESSION_TTL", 24*time.Hour),

		CookieName:          env.String("SESSION_COOKIE_NAME", "portal_session"),
		CookieSigningSecret: env.String("SESSION_COOKIE_SECRET", ""),
		CookieSecure:        env.Bool("SESSION_COOKIE_SECURE", true),

		LoginPath:         env.String("LOGIN_PATH", "/login"),
		HomePath:          env.String("HOME_PATH", "/"),
		LoginRateLimitRPM: env.Int("LOGIN_RATE_LIMIT_RPM", 30),

		LogLevel: env.String("LOG_LEVEL", "info"),

		OTELServiceName:           env.String("OTEL_SERVICE_NAME", "portal-gateway"),
		OTELEnvironment:           env.String("OTEL_ENVIRONMENT", "dev"),
		OTELExporterOTLPEndpoint:  env.String("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  env.Bool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELMetricsEnabled:        env.Bool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        env.Bool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           env.Bool("OTEL_LOGS_ENABLED", false),
		OTELHTTPEnabled:           env.Bool("OTEL_HTTP_ENABLED", false),
		OTELMetricsExportInterval: env.Duration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second),

		ShutdownTimeout:        env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SessionCleanupInterval: env.Duration("SESSION_CLEANUP_INTERVAL", time.Hour),
	}

	if err := cfg.validate(env.errs); err != nil {
		recordConfigValidationEvent(ctx, string(cfg.SessionStore), "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, string(cfg.SessionStore), "success", "none")
	return cfg, nil
}

func (c *Config) validate(errs []error) error {
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	switch c.SessionStore {
	case StoreMemory, StoreRedis, StoreGorm:
	default:
		errs = append(errs, fmt.Errorf("SESSION_STORE must be one of memory, redis, gorm; got %q", c.SessionStore))
	}
	if c.CookieSigningSecret == "" {
		errs = append(errs, errors.New("SESSION_COOKIE_SECRET is required"))
	} else if len(c.CookieSigningSecret) < 32 {
		errs = append(errs, errors.New("SESSION_COOKIE_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if !strings.HasPrefix(c.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("LOGIN_PATH must be absolute, got %q", c.LoginPath))
	}
	if !strings.HasPrefix(c.HomePath, "/") {
		errs = append(errs, fmt.Errorf("HOME_PATH must be absolute, got %q", c.HomePath))
	}
	if len(errs) > 0 {
		return fmt.Errorf("validate config: %w", errors.Join(errs...))
	}
	return nil
}

// envReader parses environment variables and remembers every malformed
// value. A typo must fail loudly at startup, not silently run on defaults.
type envReader struct {
	errs []error
}

func (e *envReader) String(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func (e *envReader) Bool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return fallback
	}
	return parsed
}

func (e *envReader) Int(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return fallback
	}
	return parsed
}

func (e *envReader) Duration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s must be a duration such as 30s or 24h, got %q", key, v))
		return fallback
	}
	return parsed
}
