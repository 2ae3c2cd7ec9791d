package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef" // 32 chars

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func TestLoad_WithValidConfig(t *testing.T) {
	setEnv(t, "JWT_SECRET", testSecret)
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultClientURL, cfg.ClientURL)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPS)
	assert.False(t, cfg.LedgerEnabled())
	assert.False(t, cfg.SMTPEnabled())
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	setEnv(t, "JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "valid minimal config",
			config:  Config{JWTSecret: testSecret},
			wantErr: "",
		},
		{
			name:    "missing jwt secret",
			config:  Config{},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "short jwt secret",
			config:  Config{JWTSecret: "short"},
			wantErr: "at least 32 characters",
		},
		{
			name: "valid ledger config",
			config: Config{
				JWTSecret:        testSecret,
				LedgerRPCURL:     "http://127.0.0.1:8545",
				LedgerChainID:    31337,
				LedgerPrivateKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
				LedgerContract:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			},
			wantErr: "",
		},
		{
			name: "ledger key too short",
			config: Config{
				JWTSecret:        testSecret,
				LedgerRPCURL:     "http://127.0.0.1:8545",
				LedgerChainID:    31337,
				LedgerPrivateKey: "abc123",
				LedgerContract:   "0x5FbDB2315678afecb367f032d93F642f64180aa3",
			},
			wantErr: "64 hex characters",
		},
		{
			name: "partial ledger config",
			config: Config{
				JWTSecret:        testSecret,
				LedgerRPCURL:     "http://127.0.0.1:8545",
				LedgerPrivateKey: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
			},
			wantErr: "LEDGER_CHAIN_ID is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_LedgerEnabled(t *testing.T) {
	assert.False(t, (&Config{}).LedgerEnabled())
	assert.True(t, (&Config{LedgerRPCURL: "http://x"}).LedgerEnabled())
	assert.True(t, (&Config{LedgerContract: "0x1"}).LedgerEnabled())
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}
