package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDedupTTL, cfg.DedupTTL)
	assert.Equal(t, DefaultRateWindow, cfg.RateWindow)
	assert.Equal(t, int64(DefaultRateCap), cfg.RateCap)
	assert.Equal(t, float64(DefaultPrepThresholdUSD), cfg.PrepThresholdUSD)
	assert.Equal(t, float64(DefaultLikelyThresholdUSD), cfg.LikelyThresholdUSD)
	assert.Equal(t, DefaultSettlementHorizon, cfg.SettlementHorizon)
	assert.Equal(t, DefaultPrepHorizon, cfg.PrepHorizon)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "PORT", "9191")
	setEnv(t, "DEDUP_TTL_SECS", "120")
	setEnv(t, "RATE_CAP", "7")
	setEnv(t, "PARTNER_ADDRESSES", "rPartnerOne, rPartnerTwo ,")
	setEnv(t, "VERIFIED_DEST_TAGS", "100,200,bogus,300")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9191", cfg.Port)
	assert.Equal(t, 120*time.Second, cfg.DedupTTL)
	assert.Equal(t, int64(7), cfg.RateCap)
	assert.Equal(t, []string{"rPartnerOne", "rPartnerTwo"}, cfg.PartnerAddresses)
	assert.Equal(t, []int64{100, 200, 300}, cfg.VerifiedDestTags)
}

func TestLoad_WebhookSecretRequired(t *testing.T) {
	setEnv(t, "ALERT_WEBHOOK_URL", "https://hooks.example.com/alerts")
	setEnv(t, "ALERT_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALERT_WEBHOOK_SECRET")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero dedup ttl", func(c *Config) { c.DedupTTL = 0 }, "DEDUP_TTL_SECS"},
		{"zero rate window", func(c *Config) { c.RateWindow = 0 }, "RATE_WINDOW_SECS"},
		{"zero rate cap", func(c *Config) { c.RateCap = 0 }, "RATE_CAP"},
		{"inverted thresholds", func(c *Config) {
			c.PrepThresholdUSD = 2
			c.LikelyThresholdUSD = 1
		}, "PREP_THRESHOLD_USD"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				DedupTTL:           DefaultDedupTTL,
				RateWindow:         DefaultRateWindow,
				RateCap:            DefaultRateCap,
				PrepThresholdUSD:   DefaultPrepThresholdUSD,
				LikelyThresholdUSD: DefaultLikelyThresholdUSD,
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
