// Package stream persists enriched signals to bounded append-only logs
// and reads them back for consumers.
//
// Two logs exist: the primary signal log and a smaller paired-signal
// log written by the cross-market correlator. Both are approximately
// capped with oldest-first eviction; durability beyond the store's own
// guarantees is not promised, and a failed append drops the signal.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/store"
)

const (
	SignalStreamKey = "flow:stream:signals"
	PairStreamKey   = "flow:stream:pairs"

	signalStreamCap = 5000
	pairStreamCap   = 1000
)

// Pair couples an on-chain signal with a correlated market-side event.
// The correlator writes these; this package only stores and serves them.
type Pair struct {
	ID          string         `json:"id"`
	Timestamp   int64          `json:"timestamp"`
	Correlation float64        `json:"correlation"`
	Summary     string         `json:"summary,omitempty"`
	Chain       *signal.Signal `json:"chain"`
	Market      *signal.Signal `json:"market"`
}

// Publisher appends to and reads from the two logs.
type Publisher struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// New creates a publisher over the shared store.
func New(st store.Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: st, logger: logger, now: time.Now}
}

// Publish appends a fully-enriched signal to the primary log. The
// required fields are re-checked so a half-built signal can never be
// persisted. Append failures are logged and the signal is dropped.
func (p *Publisher) Publish(ctx context.Context, s *signal.Signal) error {
	if err := publishable(s); err != nil {
		return fmt.Errorf("refusing to publish: %w", err)
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode signal %s: %w", s.ID, err)
	}
	err = p.store.StreamAppend(ctx, SignalStreamKey, map[string]string{
		"payload": string(payload),
		"kind":    string(s.Kind),
	}, signalStreamCap)
	if err != nil {
		p.logger.Error("signal append failed, dropping", "signal", s.ID, "error", err)
		return err
	}
	return nil
}

// PublishPaired appends a correlator pair to the paired-signal log.
func (p *Publisher) PublishPaired(ctx context.Context, pair *Pair) error {
	if pair == nil || pair.Chain == nil || pair.Market == nil {
		return fmt.Errorf("refusing to publish incomplete pair")
	}
	if pair.Timestamp == 0 {
		pair.Timestamp = p.now().Unix()
	}
	payload, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("encode pair %s: %w", pair.ID, err)
	}
	err = p.store.StreamAppend(ctx, PairStreamKey, map[string]string{
		"payload": string(payload),
	}, pairStreamCap)
	if err != nil {
		p.logger.Error("pair append failed, dropping", "pair", pair.ID, "error", err)
		return err
	}
	return nil
}

// FetchWindow returns signals appended within the last sinceSeconds, in
// log order, optionally filtered to the given kinds.
func (p *Publisher) FetchWindow(ctx context.Context, sinceSeconds int64, kinds ...signal.Kind) ([]*signal.Signal, error) {
	lower := p.now().Unix() - sinceSeconds
	start := fmt.Sprintf("%d-0", lower*1000)

	entries, err := p.store.StreamRange(ctx, SignalStreamKey, start, "+")
	if err != nil {
		return nil, fmt.Errorf("read signal log: %w", err)
	}

	want := make(map[signal.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}

	out := make([]*signal.Signal, 0, len(entries))
	for _, e := range entries {
		if len(want) > 0 && !want[signal.Kind(e.Values["kind"])] {
			continue
		}
		var s signal.Signal
		if err := json.Unmarshal([]byte(e.Values["payload"]), &s); err != nil {
			p.logger.Warn("skipping undecodable log entry", "entry", e.ID, "error", err)
			continue
		}
		out = append(out, &s)
	}
	return out, nil
}

// FetchRecentPairs returns the newest limit pairs in chronological
// order. The store serves reverse order, so the slice is re-reversed.
func (p *Publisher) FetchRecentPairs(ctx context.Context, limit int64) ([]*Pair, error) {
	entries, err := p.store.StreamRevRange(ctx, PairStreamKey, limit)
	if err != nil {
		return nil, fmt.Errorf("read pair log: %w", err)
	}

	out := make([]*Pair, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		var pair Pair
		if err := json.Unmarshal([]byte(entries[i].Values["payload"]), &pair); err != nil {
			p.logger.Warn("skipping undecodable pair entry", "entry", entries[i].ID, "error", err)
			continue
		}
		out = append(out, &pair)
	}
	return out, nil
}

// publishable re-checks the invariants Validate established at ingest.
func publishable(s *signal.Signal) error {
	switch {
	case s == nil:
		return fmt.Errorf("nil signal")
	case s.ID == "":
		return fmt.Errorf("missing id")
	case !s.Kind.IsValid():
		return fmt.Errorf("invalid kind %q", s.Kind)
	case s.Timestamp == 0:
		return fmt.Errorf("missing timestamp")
	case s.Tags == nil:
		return fmt.Errorf("missing tags")
	}
	return nil
}
