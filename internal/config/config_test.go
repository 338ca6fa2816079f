package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/thresholds"
)

const testOwner = "0x1234567890123456789012345678901234567890"

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func validConfig() Config {
	return Config{
		LogLevel:          "info",
		LogFormat:         "json",
		OwnerAddress:      testOwner,
		ThresholdCritical: 85,
		ThresholdHigh:     70,
		ThresholdMedium:   50,
		DampingPct:        50,
		BlacklistFloor:    90,
		TrendBonus:        10,
		TrendWindow:       5,
		DetectorCeiling:   60,
		RateLimitRPM:      60,
		WebhookTimeout:    time.Second,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", testOwner)
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, thresholds.Default(), cfg.Thresholds())
	assert.True(t, cfg.AutoPause)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Equal(t, DefaultWebhookTimeout, cfg.WebhookTimeout)
	assert.Equal(t, chain.MustAddress(testOwner), cfg.Owner())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, DefaultSampleRatio, cfg.TraceSampleRatio)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", testOwner)
	setEnv(t, "AUTO_PAUSE", "false")
	setEnv(t, "THRESHOLD_CRITICAL", "90")
	setEnv(t, "KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	setEnv(t, "WEBHOOK_TIMEOUT", "2s")
	setEnv(t, "CORS_ORIGINS", "https://console.example")
	setEnv(t, "TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.AutoPause)
	assert.Equal(t, 90, cfg.Thresholds().Critical)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, []string{"https://console.example"}, cfg.CORSOrigins)
	assert.InDelta(t, 0.25, cfg.TraceSampleRatio, 1e-9)
}

func TestLoad_RejectsCeilingAtCritical(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", testOwner)
	setEnv(t, "DETECTOR_CEILING", "100")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DETECTOR_CEILING")
}

func TestLoad_MissingOwner(t *testing.T) {
	setEnv(t, "OWNER_ADDRESS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OWNER_ADDRESS is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"malformed owner", func(c *Config) { c.OwnerAddress = "0x1234" }, "OWNER_ADDRESS"},
		{"zero owner", func(c *Config) { c.OwnerAddress = chain.ZeroAddress }, "zero address"},
		{"unordered thresholds", func(c *Config) { c.ThresholdHigh = 90 }, "THRESHOLD_"},
		{"damping zeroes score", func(c *Config) { c.DampingPct = 0 }, "damping_pct"},
		{"floor above range", func(c *Config) { c.BlacklistFloor = 101 }, "blacklist_floor"},
		{"ceiling", func(c *Config) { c.DetectorCeiling = 0 }, "DETECTOR_CEILING"},
		{"ceiling reaches critical", func(c *Config) { c.DetectorCeiling = 100 }, "below THRESHOLD_CRITICAL"},
		{"ceiling equals critical", func(c *Config) { c.DetectorCeiling = 85 }, "below THRESHOLD_CRITICAL"},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
		{"rate limit", func(c *Config) { c.RateLimitRPM = 0 }, "RATE_LIMIT_RPM"},
		{"sample ratio", func(c *Config) { c.TraceSampleRatio = 1.5 }, "TRACE_SAMPLE_RATIO"},
		{"webhook timeout", func(c *Config) { c.WebhookTimeout = 0 }, "WEBHOOK_TIMEOUT"},
		{"kafka without topic", func(c *Config) { c.KafkaBrokers = []string{"k:9092"} }, "KAFKA_TOPIC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
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

func TestGetEnvInt(t *testing.T) {
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 0))
	assert.Equal(t, 99, getEnvInt("NONEXISTENT_VAR", 99))
	assert.Equal(t, 99, getEnvInt("TEST_INVALID", 99))
}

func TestGetEnvBool(t *testing.T) {
	setEnv(t, "TEST_BOOL", "false")
	setEnv(t, "TEST_BAD_BOOL", "maybe")

	assert.False(t, getEnvBool("TEST_BOOL", true))
	assert.True(t, getEnvBool("TEST_BAD_BOOL", true))
}
