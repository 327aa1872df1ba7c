// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetIntakeRatePerMinute() int
}

// EmailConfig provides settings for SMTP delivery.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// NotificationConfig provides settings for the notification module.
type NotificationConfig interface {
	GetAppBaseURL() string
	GetAdminEmails() []string
	GetDispatchConcurrency() int
}

// SchedulerConfig provides settings for asynq background processing.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetOutboxRedeliveryAfter() time.Duration
}

// LifecycleConfig provides the case lifecycle engine settings.
type LifecycleConfig interface {
	GetLockTimeout() time.Duration
	GetConfirmationWindow() time.Duration
	GetDisputeLimit() int
	GetAutoCloseEnabled() bool
	GetAutoCloseInterval() time.Duration
}

// LedgerConfig provides settings for the external ledger client.
type LedgerConfig interface {
	GetLedgerURL() string
	GetLedgerAPIKey() string
	GetLedgerTimeout() time.Duration
	IsLedgerEnabled() bool
}

// EncryptionConfig provides the field encryption secret.
type EncryptionConfig interface {
	GetFieldEncryptionSecret() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	StoreDriver           string
	MigrationsEnabled     bool
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	IntakeRatePerMinute   int
	AppBaseURL            string
	AdminEmails           []string
	DispatchConcurrency   int
	EmailEnabled          bool
	SMTPHost              string
	SMTPPort              int
	SMTPUsername          string
	SMTPPassword          string
	EmailFromName         string
	EmailFromAddress      string
	RedisURL              string
	RedisTLSInsecure      bool
	AsynqQueueName        string
	AsynqConcurrency      int
	OutboxRedeliveryAfter time.Duration
	LockTimeout           time.Duration
	ConfirmationWindow    time.Duration
	DisputeLimit          int
	AutoCloseEnabled      bool
	AutoCloseInterval     time.Duration
	LedgerURL             string
	LedgerAPIKey          string
	LedgerTimeout         time.Duration
	FieldEncryptionSecret string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string         { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool       { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string    { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool     { return c.CORSAllowCreds }
func (c *Config) GetIntakeRatePerMinute() int { return c.IntakeRatePerMinute }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// NotificationConfig implementation
func (c *Config) GetAppBaseURL() string       { return c.AppBaseURL }
func (c *Config) GetAdminEmails() []string    { return c.AdminEmails }
func (c *Config) GetDispatchConcurrency() int { return c.DispatchConcurrency }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                     { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool               { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string               { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int                { return c.AsynqConcurrency }
func (c *Config) GetOutboxRedeliveryAfter() time.Duration { return c.OutboxRedeliveryAfter }

// LifecycleConfig implementation
func (c *Config) GetLockTimeout() time.Duration        { return c.LockTimeout }
func (c *Config) GetConfirmationWindow() time.Duration { return c.ConfirmationWindow }
func (c *Config) GetDisputeLimit() int                 { return c.DisputeLimit }
func (c *Config) GetAutoCloseEnabled() bool            { return c.AutoCloseEnabled }
func (c *Config) GetAutoCloseInterval() time.Duration  { return c.AutoCloseInterval }

// LedgerConfig implementation
func (c *Config) GetLedgerURL() string            { return c.LedgerURL }
func (c *Config) GetLedgerAPIKey() string         { return c.LedgerAPIKey }
func (c *Config) GetLedgerTimeout() time.Duration { return c.LedgerTimeout }
func (c *Config) IsLedgerEnabled() bool           { return c.LedgerURL != "" }

// EncryptionConfig implementation
func (c *Config) GetFieldEncryptionSecret() string { return c.FieldEncryptionSecret }

// UsesMemoryStore reports whether the in-memory case store was selected.
func (c *Config) UsesMemoryStore() bool {
	return strings.EqualFold(c.StoreDriver, "memory")
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		StoreDriver:           getEnv("STORE_DRIVER", "postgres"),
		MigrationsEnabled:     strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		IntakeRatePerMinute:   mustInt(getEnv("INTAKE_RATE_PER_MINUTE", "10")),
		AppBaseURL:            getEnv("APP_BASE_URL", "http://localhost:4200"),
		AdminEmails:           splitCSV(getEnv("ADMIN_EMAILS", "")),
		DispatchConcurrency:   mustInt(getEnv("DISPATCH_CONCURRENCY", "4")),
		EmailEnabled:          emailEnabled && smtpHost != "",
		SMTPHost:              smtpHost,
		SMTPPort:              mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "SafeReport"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:      mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		OutboxRedeliveryAfter: mustDuration(getEnv("OUTBOX_REDELIVERY_AFTER", "2m")),
		LockTimeout:           mustDuration(getEnv("LIFECYCLE_LOCK_TIMEOUT", "5s")),
		ConfirmationWindow:    mustDuration(getEnv("LIFECYCLE_CONFIRMATION_WINDOW", "336h")),
		DisputeLimit:          mustInt(getEnv("LIFECYCLE_DISPUTE_LIMIT", "3")),
		AutoCloseEnabled:      strings.EqualFold(getEnv("AUTO_CLOSE_ENABLED", "false"), "true"),
		AutoCloseInterval:     mustDuration(getEnv("AUTO_CLOSE_INTERVAL", "15m")),
		LedgerURL:             getEnv("LEDGER_URL", ""),
		LedgerAPIKey:          getEnv("LEDGER_API_KEY", ""),
		LedgerTimeout:         mustDuration(getEnv("LEDGER_TIMEOUT", "10s")),
		FieldEncryptionSecret: getEnv("FIELD_ENCRYPTION_SECRET", ""),
	}

	if cfg.DatabaseURL == "" && !cfg.UsesMemoryStore() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.FieldEncryptionSecret == "" && !cfg.UsesMemoryStore() {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_SECRET is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.LockTimeout <= 0 {
		return nil, fmt.Errorf("LIFECYCLE_LOCK_TIMEOUT must be a positive duration")
	}
	if cfg.DisputeLimit < 1 {
		return nil, fmt.Errorf("LIFECYCLE_DISPUTE_LIMIT must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
