// Package pattern detects multi-event behavior across shared time windows.
//
// Each category keeps a sorted set of (signal id, timestamp) pairs in the
// shared store. Eviction is lazy: entries older than the category horizon
// are removed immediately before every membership count, so a window never
// reports members it shouldn't. Windowing is over event timestamps, not a
// total order; near-simultaneous producers only race at the horizon edge.
package pattern

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
)

// Category names the independent sliding windows.
type Category string

const (
	CategorySettlement Category = "settlement"
	CategoryPrep       Category = "prep"
	CategoryEquityDark Category = "equity_dark"
	CategoryGeneric    Category = "generic"
)

const windowKeyPrefix = "flow:window:"

// Config carries horizons and compound-tag thresholds.
type Config struct {
	SettlementHorizon time.Duration
	PrepHorizon       time.Duration
	EquityDarkHorizon time.Duration
	GenericHorizon    time.Duration

	ClusterMin int           // settlement cardinality for the cluster tag
	BatchMin   int           // settlement cardinality for the batch tag
	BatchSpan  time.Duration // max oldest-to-newest span for the batch tag
}

// DefaultConfig returns the documented horizons and thresholds.
func DefaultConfig() Config {
	return Config{
		SettlementHorizon: 300 * time.Second,
		PrepHorizon:       1800 * time.Second,
		EquityDarkHorizon: 600 * time.Second,
		GenericHorizon:    60 * time.Second,
		ClusterMin:        3,
		BatchMin:          5,
		BatchSpan:         60 * time.Second,
	}
}

// Tracker maintains the windows and emits compound tags.
type Tracker struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
}

// New creates a tracker over the shared store.
func New(st store.Store, cfg Config, logger *slog.Logger) *Tracker {
	return &Tracker{store: st, cfg: cfg, logger: logger}
}

func (t *Tracker) horizon(cat Category) time.Duration {
	switch cat {
	case CategorySettlement:
		return t.cfg.SettlementHorizon
	case CategoryPrep:
		return t.cfg.PrepHorizon
	case CategoryEquityDark:
		return t.cfg.EquityDarkHorizon
	default:
		return t.cfg.GenericHorizon
	}
}

// DetectPatterns is called unconditionally on every signal; it is a no-op
// for kinds with no window membership. Any storage error returns the
// signal unmodified — this stage never blocks downstream processing.
func (t *Tracker) DetectPatterns(ctx context.Context, s *signal.Signal) *signal.Signal {
	categories := t.membership(s)
	if len(categories) == 0 {
		return s
	}

	var (
		addTags     []string
		clusterSize int
	)
	types := make([]string, 0, len(categories))

	for _, cat := range categories {
		members, err := t.insertAndRead(ctx, cat, s)
		if err != nil {
			t.logger.Warn("pattern window unavailable, passing signal through",
				"category", cat, "signal", s.ID, "error", err)
			return s
		}
		types = append(types, string(cat))
		if clusterSize < len(members) {
			clusterSize = len(members)
		}

		if cat != CategorySettlement {
			continue
		}

		// Compound tags are evaluated on the post-eviction settlement set.
		if len(members) >= t.cfg.ClusterMin {
			addTags = append(addTags, signal.TagCluster)
		}
		if len(members) >= t.cfg.BatchMin && span(members) <= t.cfg.BatchSpan {
			addTags = append(addTags, signal.TagBatch)
		}

		crossChain, err := t.nonEmpty(ctx, CategoryPrep, s.Timestamp)
		if err != nil {
			t.logger.Warn("prep window read failed", "signal", s.ID, "error", err)
			return s
		}
		if crossChain {
			addTags = append(addTags, signal.TagCrossChain)
		}

		rotation, err := t.nonEmpty(ctx, CategoryEquityDark, s.Timestamp)
		if err != nil {
			t.logger.Warn("equity window read failed", "signal", s.ID, "error", err)
			return s
		}
		if rotation {
			addTags = append(addTags, signal.TagEquityRotation)
		}
	}

	// Apply only after every store call succeeded.
	for _, tag := range addTags {
		s.Tags.Add(tag)
	}
	s.Pattern = &signal.PatternMeta{Types: types, ClusterSize: clusterSize}
	return s
}

// membership lists the windows a signal belongs to, in evaluation order.
func (t *Tracker) membership(s *signal.Signal) []Category {
	var cats []Category
	if s.SubType == "cross_chain_prep" {
		cats = append(cats, CategoryPrep)
	}
	if s.Kind == signal.KindDarkPoolPrint {
		cats = append(cats, CategoryEquityDark)
	}
	if s.Tags.Has(signal.TagSettlement) {
		cats = append(cats, CategorySettlement)
	}
	if len(cats) == 0 && s.Tags.Has(signal.TagPartner) {
		cats = append(cats, CategoryGeneric)
	}
	return cats
}

// insertAndRead adds the signal to the category window, evicts entries past
// the horizon, and returns the surviving members in score order.
func (t *Tracker) insertAndRead(ctx context.Context, cat Category, s *signal.Signal) ([]store.ZMember, error) {
	key := windowKeyPrefix + string(cat)
	cutoff := float64(s.Timestamp - int64(t.horizon(cat)/time.Second))

	if err := t.store.ZAdd(ctx, key, store.ZMember{Member: s.ID, Score: float64(s.Timestamp)}); err != nil {
		return nil, err
	}
	if err := t.store.ZRemRangeByScore(ctx, key, 0, cutoff-1); err != nil {
		return nil, err
	}
	return t.store.ZRangeByScore(ctx, key, cutoff, float64(s.Timestamp))
}

// nonEmpty is a read-only membership probe of another category's window.
func (t *Tracker) nonEmpty(ctx context.Context, cat Category, now int64) (bool, error) {
	key := windowKeyPrefix + string(cat)
	cutoff := float64(now - int64(t.horizon(cat)/time.Second))
	members, err := t.store.ZRangeByScore(ctx, key, cutoff, float64(now))
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}

// span is the oldest-to-newest distance of a score-ordered member list.
func span(members []store.ZMember) time.Duration {
	if len(members) < 2 {
		return 0
	}
	return time.Duration(members[len(members)-1].Score-members[0].Score) * time.Second
}
