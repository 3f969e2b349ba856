package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Profile string

	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string

	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	SessionTTL  time.Duration

	CookieSecure bool
	CORSOrigins  []string

	OnlineThreshold   time.Duration
	GuardPollInterval time.Duration
	HeartbeatInterval time.Duration
	Hostname          string
	DevHostnames      []string

	AuthRateLimitRPM int
	APIRateLimitRPM  int

	OTELMetricsEnabled        bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration

	ShutdownTimeout          time.Duration
	ShutdownHTTPDrainTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Profile:                  getEnv("APP_PROFILE", "dev"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		JWTIssuer:                getEnv("JWT_ISSUER", "staffhub-presence"),
		JWTAudience:              getEnv("JWT_AUDIENCE", "staffhub"),
		Hostname:                 getEnv("APP_HOSTNAME", hostnameFallback()),
		DevHostnames:             splitList(getEnv("DEV_HOSTNAMES", "localhost")),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "staffhub-presence"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "dev"),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CookieSecure:             getEnvBool("COOKIE_SECURE", false),
		CORSOrigins:              splitList(os.Getenv("CORS_ORIGINS")),
		AuthRateLimitRPM:         getEnvInt("AUTH_RATE_LIMIT_RPM", 30),
		APIRateLimitRPM:          getEnvInt("API_RATE_LIMIT_RPM", 600),
	}

	var err error
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 12*time.Hour); err != nil {
		return nil, err
	}
	if cfg.OnlineThreshold, err = getEnvDuration("ONLINE_THRESHOLD", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.GuardPollInterval, err = getEnvDuration("GUARD_POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = getEnvDuration("HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OTELMetricsExportInterval, err = getEnvDuration("OTEL_METRICS_EXPORT_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownHTTPDrainTimeout, err = getEnvDuration("SHUTDOWN_HTTP_DRAIN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Profile, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Profile, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("validate config: JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("validate config: JWT_SECRET must be at least 32 bytes")
	}
	if c.Profile == "prod" && c.DatabaseURL == "" {
		return fmt.Errorf("validate config: DATABASE_URL is required in prod")
	}
	if c.OnlineThreshold <= 0 {
		return fmt.Errorf("validate config: ONLINE_THRESHOLD must be positive")
	}
	if c.GuardPollInterval <= 0 {
		return fmt.Errorf("validate config: GUARD_POLL_INTERVAL must be positive")
	}
	if c.HeartbeatInterval < c.GuardPollInterval {
		return fmt.Errorf("validate config: HEARTBEAT_INTERVAL must not be shorter than GUARD_POLL_INTERVAL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostnameFallback() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
