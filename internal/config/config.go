// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/detector"
	"github.com/mbd888/securityguard/internal/logging"
	"github.com/mbd888/securityguard/internal/risk"
	"github.com/mbd888/securityguard/internal/thresholds"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage. Every backend is optional; without DATABASE_URL the guard
	// runs on in-memory stores.
	DatabaseURL  string
	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	// Governance
	OwnerAddress string
	AutoPause    bool
	AdminSecret  string // Bootstrap secret for issuing the owner's first API key

	// Scoring
	ThresholdCritical  int
	ThresholdHigh      int
	ThresholdMedium    int
	DampingPct         int
	BlacklistFloor     int
	TrendBonus         int
	TrendWindow        int
	DetectorCeiling    int
	SignatureRulesFile string // YAML signature table (optional, built-in rules if empty)

	// Transport
	RateLimitRPM     int
	CORSOrigins      []string // "*" allows any origin without credentials
	OTLPEndpoint     string
	TraceSampleRatio float64
	WebhookTimeout   time.Duration
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultKafkaTopic     = "securityguard.scans"
	DefaultRateLimitRPM   = 120
	DefaultSampleRatio    = 1.0
	DefaultWebhookTimeout = 5 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		KafkaBrokers:       getEnvList("KAFKA_BROKERS"),
		KafkaTopic:         getEnv("KAFKA_TOPIC", DefaultKafkaTopic),
		OwnerAddress:       os.Getenv("OWNER_ADDRESS"),
		AutoPause:          getEnvBool("AUTO_PAUSE", true),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		ThresholdCritical:  getEnvInt("THRESHOLD_CRITICAL", thresholds.DefaultCritical),
		ThresholdHigh:      getEnvInt("THRESHOLD_HIGH", thresholds.DefaultHigh),
		ThresholdMedium:    getEnvInt("THRESHOLD_MEDIUM", thresholds.DefaultMedium),
		DampingPct:         getEnvInt("DAMPING_PCT", risk.DefaultDampingPct),
		BlacklistFloor:     getEnvInt("BLACKLIST_FLOOR", risk.DefaultBlacklistFloor),
		TrendBonus:         getEnvInt("TREND_BONUS", risk.DefaultTrendBonus),
		TrendWindow:        getEnvInt("TREND_WINDOW", risk.DefaultTrendWindow),
		DetectorCeiling:    getEnvInt("DETECTOR_CEILING", detector.DefaultCeiling),
		SignatureRulesFile: os.Getenv("SIGNATURE_RULES_FILE"),
		RateLimitRPM:       getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSOrigins:        getEnvList("CORS_ORIGINS"),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:   getEnvFloat("TRACE_SAMPLE_RATIO", DefaultSampleRatio),
		WebhookTimeout:     getEnvDuration("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),
	}

	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and that the
// scoring constants keep their guarantees.
func (c *Config) Validate() error {
	if c.OwnerAddress == "" {
		return fmt.Errorf("OWNER_ADDRESS is required")
	}
	owner, err := chain.ParseAddress(c.OwnerAddress)
	if err != nil {
		return fmt.Errorf("OWNER_ADDRESS: %w", err)
	}
	if owner.IsZero() {
		return fmt.Errorf("OWNER_ADDRESS must not be the zero address")
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}

	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("THRESHOLD_*: %w", err)
	}
	if err := c.RiskParams().Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	if c.DetectorCeiling < 1 || c.DetectorCeiling > 100 {
		return fmt.Errorf("DETECTOR_CEILING must be within 1..100")
	}
	if c.DetectorCeiling >= c.ThresholdCritical {
		return fmt.Errorf("DETECTOR_CEILING must be below THRESHOLD_CRITICAL so signatures alone cannot reach critical")
	}

	if c.RateLimitRPM < 1 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be within 0..1")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

// Owner returns the canonical owner address. Only valid after Validate.
func (c *Config) Owner() chain.Address {
	return chain.MustAddress(c.OwnerAddress)
}

// Thresholds returns the initial global thresholds.
func (c *Config) Thresholds() thresholds.Set {
	return thresholds.Set{Critical: c.ThresholdCritical, High: c.ThresholdHigh, Medium: c.ThresholdMedium}
}

// RiskParams returns the scoring constants.
func (c *Config) RiskParams() risk.Params {
	return risk.Params{
		DampingPct:     c.DampingPct,
		BlacklistFloor: c.BlacklistFloor,
		TrendBonus:     c.TrendBonus,
		TrendWindow:    c.TrendWindow,
	}
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
