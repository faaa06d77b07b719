// Package admission gates outbound deliveries with store-backed
// deduplication and rate capping.
//
// Both checks fail open: if the store is unreachable the delivery is
// admitted, trading occasional over-notification for availability.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
)

const (
	dedupKeyPrefix = "flow:dedup:"
	rateKeyPrefix  = "flow:rate:"
)

// Config carries the admission windows and caps.
type Config struct {
	DedupTTL   time.Duration // duplicate suppression horizon
	RateWindow time.Duration // fixed bucket width
	RateCap    int64         // admissions per bucket per category
	RateGrace  time.Duration // extra TTL so a bucket outlives its window
}

// DefaultConfig returns the standard production settings.
func DefaultConfig() Config {
	return Config{
		DedupTTL:   300 * time.Second,
		RateWindow: 60 * time.Second,
		RateCap:    30,
		RateGrace:  5 * time.Second,
	}
}

// Controller decides whether a payload may be delivered.
type Controller struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a controller over the shared store.
func New(st store.Store, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{store: st, cfg: cfg, logger: logger, now: time.Now}
}

// Admit reports whether the payload should be delivered for the given
// category. A payload seen within the dedup TTL is rejected; otherwise
// the category's current rate bucket is incremented and the delivery is
// rejected once the bucket exceeds the cap.
func (c *Controller) Admit(ctx context.Context, category string, payload any) bool {
	fp := signal.Fingerprint(payload)

	fresh, err := c.store.SetNX(ctx, dedupKeyPrefix+fp, "1", c.cfg.DedupTTL)
	if err != nil {
		c.logger.Warn("dedup check unavailable, admitting", "category", category, "error", err)
		return true
	}
	if !fresh {
		return false
	}

	bucket := c.now().Unix() / int64(c.cfg.RateWindow/time.Second)
	key := fmt.Sprintf("%s%s:%d", rateKeyPrefix, category, bucket)
	n, err := c.store.Incr(ctx, key, c.cfg.RateWindow+c.cfg.RateGrace)
	if err != nil {
		c.logger.Warn("rate check unavailable, admitting", "category", category, "error", err)
		return true
	}
	if n > c.cfg.RateCap {
		c.logger.Info("rate cap reached, rejecting",
			"category", category, "bucket", bucket, "count", n, "cap", c.cfg.RateCap)
		return false
	}
	return true
}
