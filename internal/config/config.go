// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Shared store (Redis-compatible). Empty addr = in-memory demo mode.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Archive database (optional, disabled if not set)
	DatabaseURL string

	// Notification delivery
	AlertWebhookURL    string
	AlertWebhookSecret string

	// Admission control
	DedupTTL     time.Duration
	RateWindow   time.Duration
	RateCap      int64
	RateGrace    time.Duration
	RateLimitRPM int // ingest HTTP route, requests per minute per client

	// Annotation thresholds (USD unless noted)
	PartnerAddresses   []string // static known-entity set, comma separated in env
	VerifiedDestTags   []int64  // destination-tag allow-list
	PrepThresholdUSD   float64
	LikelyThresholdUSD float64

	// Observation classification thresholds
	LargeSettlementUSD  float64
	SpikeGasUsed        float64
	SpikeCalldataBytes  float64
	SpikeEntropy        float64
	SpikeGasPriceGwei   float64
	ODLPrimingUSD       float64
	TrustlineLimitFloor float64

	// Pattern window horizons
	SettlementHorizon time.Duration
	PrepHorizon       time.Duration
	EquityDarkHorizon time.Duration
	GenericHorizon    time.Duration

	// Policy matrices as JSON overrides; empty = documented defaults.
	HMMPolicyJSON    string
	ImpactPolicyJSON string

	// Feeds (optional; a feed with no endpoint configured is not started)
	XRPLWebsocketURL string
	XRPUSDRate       float64 // flat conversion for notional estimates
	EthRPCURL        string
	VerifierContract string
	EthPollInterval  time.Duration

	// Tracing
	OTLPEndpoint string
}

// Documented defaults for every tunable.
const (
	DefaultPort     = "8080"
	DefaultEnv      = "development"
	DefaultLogLevel = "info"

	DefaultDedupTTL   = 300 * time.Second
	DefaultRateWindow = 60 * time.Second
	DefaultRateCap    = 30
	DefaultRateGrace  = 5 * time.Second

	DefaultPrepThresholdUSD    = 10_000_000
	DefaultLikelyThresholdUSD  = 25_000_000
	DefaultLargeSettlementUSD  = 10_000_000
	DefaultSpikeGasUsed        = 150_000
	DefaultSpikeCalldataBytes  = 512
	DefaultSpikeEntropy        = 5.0
	DefaultSpikeGasPriceGwei   = 50
	DefaultODLPrimingUSD       = 50_000_000
	DefaultTrustlineLimitFloor = 1e12

	DefaultSettlementHorizon = 300 * time.Second
	DefaultPrepHorizon       = 1800 * time.Second
	DefaultEquityDarkHorizon = 600 * time.Second
	DefaultGenericHorizon    = 60 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		RedisAddr:     os.Getenv("REDIS_ADDR"), // Optional, uses in-memory if not set
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       int(getEnvInt64("REDIS_DB", 0)),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),

		DedupTTL:     getEnvSeconds("DEDUP_TTL_SECS", DefaultDedupTTL),
		RateWindow:   getEnvSeconds("RATE_WINDOW_SECS", DefaultRateWindow),
		RateCap:      getEnvInt64("RATE_CAP", DefaultRateCap),
		RateGrace:    getEnvSeconds("RATE_GRACE_SECS", DefaultRateGrace),
		RateLimitRPM: int(getEnvInt64("INGEST_RATE_LIMIT_RPM", 600)),

		PartnerAddresses:   splitCSV(os.Getenv("PARTNER_ADDRESSES")),
		VerifiedDestTags:   splitCSVInt(os.Getenv("VERIFIED_DEST_TAGS")),
		PrepThresholdUSD:   getEnvFloat("PREP_THRESHOLD_USD", DefaultPrepThresholdUSD),
		LikelyThresholdUSD: getEnvFloat("LIKELY_THRESHOLD_USD", DefaultLikelyThresholdUSD),

		LargeSettlementUSD:  getEnvFloat("LARGE_SETTLEMENT_USD", DefaultLargeSettlementUSD),
		SpikeGasUsed:        getEnvFloat("SPIKE_GAS_USED", DefaultSpikeGasUsed),
		SpikeCalldataBytes:  getEnvFloat("SPIKE_CALLDATA_BYTES", DefaultSpikeCalldataBytes),
		SpikeEntropy:        getEnvFloat("SPIKE_ENTROPY", DefaultSpikeEntropy),
		SpikeGasPriceGwei:   getEnvFloat("SPIKE_GAS_PRICE_GWEI", DefaultSpikeGasPriceGwei),
		ODLPrimingUSD:       getEnvFloat("ODL_PRIMING_USD", DefaultODLPrimingUSD),
		TrustlineLimitFloor: getEnvFloat("TRUSTLINE_LIMIT_FLOOR", DefaultTrustlineLimitFloor),

		SettlementHorizon: getEnvSeconds("SETTLEMENT_HORIZON_SECS", DefaultSettlementHorizon),
		PrepHorizon:       getEnvSeconds("PREP_HORIZON_SECS", DefaultPrepHorizon),
		EquityDarkHorizon: getEnvSeconds("EQUITY_DARK_HORIZON_SECS", DefaultEquityDarkHorizon),
		GenericHorizon:    getEnvSeconds("GENERIC_HORIZON_SECS", DefaultGenericHorizon),

		HMMPolicyJSON:    os.Getenv("HMM_POLICY_JSON"),
		ImpactPolicyJSON: os.Getenv("IMPACT_POLICY_JSON"),

		XRPLWebsocketURL: os.Getenv("XRPL_WS_URL"),
		XRPUSDRate:       getEnvFloat("XRP_USD_RATE", 2.0),
		EthRPCURL:        os.Getenv("ETH_RPC_URL"),
		VerifierContract: os.Getenv("VERIFIER_CONTRACT"),
		EthPollInterval:  getEnvSeconds("ETH_POLL_INTERVAL_SECS", 15*time.Second),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL_SECS must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("RATE_WINDOW_SECS must be positive")
	}
	if c.RateCap <= 0 {
		return fmt.Errorf("RATE_CAP must be positive")
	}
	if c.PrepThresholdUSD > c.LikelyThresholdUSD {
		return fmt.Errorf("PREP_THRESHOLD_USD must not exceed LIKELY_THRESHOLD_USD")
	}
	if c.AlertWebhookURL != "" && c.AlertWebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URL is set")
	}
	return nil
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil && i > 0 {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func splitCSVInt(s string) []int64 {
	var out []int64
	for _, part := range splitCSV(s) {
		if n, err := strconv.ParseInt(part, 10, 64); err == nil {
			out = append(out, n)
		}
	}
	return out
}
