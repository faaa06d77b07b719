// Package annotate adds semantic tags to validated signals based on
// known-entity membership and magnitude thresholds.
//
// Annotation is best effort: a signal that cannot be annotated passes
// through tag-unchanged. Nothing in this package is ever fatal to the
// pipeline.
package annotate

import (
	"log/slog"
	"strings"

	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/registry"
	"github.com/Nexa-Inc25/xrpcoreflowalpha-sub000/internal/signal"
)

// Config carries the annotation thresholds.
type Config struct {
	PrepThresholdUSD   float64
	LikelyThresholdUSD float64
}

// Annotator tags signals against the partner registry.
type Annotator struct {
	reg    *registry.Registry
	cfg    Config
	logger *slog.Logger
}

// New creates an annotator backed by the given registry.
func New(reg *registry.Registry, cfg Config, logger *slog.Logger) *Annotator {
	return &Annotator{reg: reg, cfg: cfg, logger: logger}
}

// paymentLike are the kinds that move value and warrant partner lookups.
var paymentLike = map[signal.Kind]bool{
	signal.KindPayment:     true,
	signal.KindEscrow:      true,
	signal.KindDarkAMMSwap: true,
}

// Annotate appends partner, threshold, settlement, and verified-destination
// tags. All appends are idempotent; a signal arriving with a tag keeps it.
func (a *Annotator) Annotate(s *signal.Signal) *signal.Signal {
	// Guard against malformed enrichment state so one bad signal can
	// never take down a producer goroutine.
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("annotation aborted", "signal", s.ID, "panic", r)
		}
	}()

	if paymentLike[s.Kind] {
		if a.isPartnerParty(s) {
			s.Tags.Add(signal.TagPartner)
			if usd := s.USD(); usd >= a.cfg.PrepThresholdUSD {
				s.Tags.Add(signal.TagPrep)
				if usd >= a.cfg.LikelyThresholdUSD {
					s.Tags.Add(signal.TagLikely)
				}
			}
		}
	}

	if isEscrowRelease(s) {
		s.Tags.Add(signal.TagSettlement)
	}

	if s.HasNum("dest_tag") && a.reg.IsVerifiedDestTag(int64(s.Num("dest_tag"))) {
		s.Tags.Add(signal.TagVerifiedDest)
	}

	return s
}

func (a *Annotator) isPartnerParty(s *signal.Signal) bool {
	return a.reg.IsPartner(s.Addresses.Source) ||
		a.reg.IsPartner(s.Addresses.Destination) ||
		a.reg.IsPartner(s.Addresses.Issuer)
}

// isEscrowRelease matches the sub-types and summary phrasings the feeds
// use for escrow releases.
func isEscrowRelease(s *signal.Signal) bool {
	switch s.SubType {
	case "escrow_finish", "escrow_release":
		return true
	}
	summary := strings.ToLower(s.Summary)
	return strings.Contains(summary, "escrow release") || strings.Contains(summary, "escrowfinish")
}
