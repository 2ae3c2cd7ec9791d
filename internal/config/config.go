// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Sessions
	JWTSecret string

	// ClientURL is the public base URL of the web client, used in
	// password-reset links.
	ClientURL string

	// Mail relay (optional; notifications are dropped if unset)
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Captcha (optional; verification passes if unset)
	CaptchaSecret   string
	CaptchaEndpoint string

	// Reverse geocoding (optional; audit logs record "Unknown" if unset)
	GeocodeURL string

	// Fraud scoring service (optional; probes pass if unset)
	FraudURL string

	// Ledger mirror (optional; transfers settle off-ledger if unset)
	LedgerRPCURL     string
	LedgerChainID    int64
	LedgerPrivateKey string // Hex-encoded, with or without 0x prefix
	LedgerContract   string

	// Security
	RateLimitRPS int

	// Tracing (optional; tracing is disabled if unset)
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultClientURL = "http://localhost:3000"
	DefaultSMTPPort  = 587
	DefaultRateLimit = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		JWTSecret:        os.Getenv("JWT_SECRET"),   // Required, no default
		ClientURL:        getEnv("CLIENT_URL", DefaultClientURL),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         int(getEnvInt64("SMTP_PORT", DefaultSMTPPort)),
		SMTPUsername:     os.Getenv("SMTP_USERNAME"),
		SMTPPassword:     os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:         getEnv("SMTP_FROM", "no-reply@sentinelbank.local"),
		CaptchaSecret:    os.Getenv("CAPTCHA_SECRET"),
		CaptchaEndpoint:  os.Getenv("CAPTCHA_ENDPOINT"),
		GeocodeURL:       os.Getenv("GEOCODE_URL"),
		FraudURL:         os.Getenv("FRAUD_URL"),
		LedgerRPCURL:     os.Getenv("LEDGER_RPC_URL"),
		LedgerChainID:    getEnvInt64("LEDGER_CHAIN_ID", 0),
		LedgerPrivateKey: os.Getenv("LEDGER_PRIVATE_KEY"),
		LedgerContract:   os.Getenv("LEDGER_CONTRACT"),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}

	// The ledger mirror is all-or-nothing: a partial config is a
	// deployment mistake, not a fallback.
	if c.LedgerEnabled() {
		key := c.LedgerPrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("LEDGER_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
		if c.LedgerChainID == 0 {
			return fmt.Errorf("LEDGER_CHAIN_ID is required when the ledger mirror is configured")
		}
		if c.LedgerContract == "" {
			return fmt.Errorf("LEDGER_CONTRACT is required when the ledger mirror is configured")
		}
	}

	return nil
}

// LedgerEnabled reports whether a ledger mirror is configured.
func (c *Config) LedgerEnabled() bool {
	return c.LedgerRPCURL != "" || c.LedgerPrivateKey != "" || c.LedgerContract != ""
}

// SMTPEnabled reports whether a mail relay is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
