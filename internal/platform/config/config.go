package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTokenValidityDays = 14
	minTokenValidityDays     = 1
	maxTokenValidityDays     = 90
	defaultMaxReminders      = 3
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr           string
	RegulatedMode  bool
	RequestTimeout time.Duration
	DatabaseURL    string
	Redis          RedisConfig
	Session        SessionConfig
	Verification   VerificationConfig
	RateLimit      RateLimitConfig
	Notify         NotifyConfig
	Audit          AuditConfig
	LogLevel       string
}

// RedisConfig holds connection settings. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SessionConfig configures signed session tokens for operators and employees.
type SessionConfig struct {
	SigningKey    string
	Issuer        string
	TTL           time.Duration
	AdminAPIToken string
}

// VerificationConfig configures the census verification workflow.
type VerificationConfig struct {
	PublicBaseURL     string
	TokenValidityDays int
	MaxReminders      int
	ReminderInterval  time.Duration
	ReminderBatch     int
}

// RateLimitConfig bounds requests to the public token endpoints per client IP.
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// NotifyConfig selects the notifier. An empty webhook URL logs instead.
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// AuditConfig configures the outbox relay. No brokers disables the relay.
type AuditConfig struct {
	KafkaBrokers []string
	Topic        string
	PollInterval time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Server{
		Addr:           envString("HR_PORTAL_ADDR", ":8080"),
		RegulatedMode:  os.Getenv("REGULATED_MODE") == "true",
		RequestTimeout: durVar("REQUEST_TIMEOUT", 30*time.Second),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		LogLevel:       envString("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Session: SessionConfig{
			SigningKey:    envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			Issuer:        envString("JWT_ISSUER", "hrportal"),
			TTL:           durVar("SESSION_TTL", 8*time.Hour),
			AdminAPIToken: os.Getenv("ADMIN_API_TOKEN"),
		},
		Verification: VerificationConfig{
			PublicBaseURL:     strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
			TokenValidityDays: intVar("TOKEN_VALIDITY_DAYS", defaultTokenValidityDays),
			MaxReminders:      intVar("MAX_REMINDERS", defaultMaxReminders),
			ReminderInterval:  durVar("REMINDER_INTERVAL", 0),
			ReminderBatch:     intVar("REMINDER_BATCH", 50),
		},
		RateLimit: RateLimitConfig{
			Limit:  intVar("PUBLIC_RATE_LIMIT", 30),
			Window: durVar("PUBLIC_RATE_WINDOW", time.Minute),
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
			Timeout:    10 * time.Second,
		},
		Audit: AuditConfig{
			KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:        envString("AUDIT_TOPIC", "hrportal.audit"),
			PollInterval: durVar("OUTBOX_POLL_INTERVAL", 2*time.Second),
		},
	}

	v := cfg.Verification
	if v.TokenValidityDays < minTokenValidityDays || v.TokenValidityDays > maxTokenValidityDays {
		errs = append(errs, fmt.Sprintf("TOKEN_VALIDITY_DAYS must be between %d and %d", minTokenValidityDays, maxTokenValidityDays))
	}
	if v.MaxReminders < 0 {
		errs = append(errs, "MAX_REMINDERS must not be negative")
	}
	if v.ReminderBatch < 1 {
		errs = append(errs, "REMINDER_BATCH must be positive")
	}
	if v.ReminderInterval > 0 && v.PublicBaseURL == "" {
		errs = append(errs, "PUBLIC_BASE_URL is required when REMINDER_INTERVAL is set")
	}
	if cfg.RateLimit.Limit < 1 {
		errs = append(errs, "PUBLIC_RATE_LIMIT must be positive")
	}
	if cfg.RegulatedMode && cfg.Session.SigningKey == "dev-secret-key-change-in-production" {
		errs = append(errs, "JWT_SIGNING_KEY must be set in regulated mode")
	}

	if len(errs) > 0 {
		return Server{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: not an integer", key)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: not a duration", key)
	}
	if v < 0 {
		return def, fmt.Errorf("%s: must not be negative", key)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
