// Package registry holds the known-entity address sets used for partner
// annotation: a static configured set unioned with a dynamically ingested
// set maintained in the shared store by external ingesters.
//
// Reads go through an atomic snapshot so lookups never contend with the
// background refresh; a failed refresh keeps the previous snapshot.
package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DynamicKey is the shared-store set the external ingester maintains.
const DynamicKey = "flow:registry:partners"

// DefaultRefreshInterval is how often the dynamic set is re-read.
const DefaultRefreshInterval = 60 * time.Second

// SetReader is the slice of the shared store the registry needs.
type SetReader interface {
	SMembers(ctx context.Context, key string) ([]string, error)
}

type snapshot struct {
	partners map[string]bool
	destTags map[int64]bool
}

// Registry answers known-entity membership questions.
type Registry struct {
	static   []string
	destTags []int64
	reader   SetReader
	logger   *slog.Logger
	interval time.Duration

	snap atomic.Pointer[snapshot]
}

// New builds a registry seeded from the static configuration. The dynamic
// set is merged in on the first Refresh.
func New(static []string, destTags []int64, reader SetReader, logger *slog.Logger) *Registry {
	r := &Registry{
		static:   static,
		destTags: destTags,
		reader:   reader,
		logger:   logger,
		interval: DefaultRefreshInterval,
	}
	r.snap.Store(r.buildSnapshot(nil))
	return r
}

func (r *Registry) buildSnapshot(dynamic []string) *snapshot {
	s := &snapshot{
		partners: make(map[string]bool, len(r.static)+len(dynamic)),
		destTags: make(map[int64]bool, len(r.destTags)),
	}
	for _, addr := range r.static {
		s.partners[addr] = true
	}
	for _, addr := range dynamic {
		s.partners[addr] = true
	}
	for _, tag := range r.destTags {
		s.destTags[tag] = true
	}
	return s
}

// IsPartner reports whether addr belongs to a known entity.
func (r *Registry) IsPartner(addr string) bool {
	if addr == "" {
		return false
	}
	return r.snap.Load().partners[addr]
}

// IsVerifiedDestTag reports whether tag is on the configured allow-list.
func (r *Registry) IsVerifiedDestTag(tag int64) bool {
	return r.snap.Load().destTags[tag]
}

// PartnerCount returns the current snapshot's set size (for health checks).
func (r *Registry) PartnerCount() int {
	return len(r.snap.Load().partners)
}

// Refresh re-reads the dynamic set and atomically swaps in a new snapshot.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.reader == nil {
		return nil
	}
	dynamic, err := r.reader.SMembers(ctx, DynamicKey)
	if err != nil {
		return err
	}
	r.snap.Store(r.buildSnapshot(dynamic))
	return nil
}

// Start runs the background refresh loop until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial registry refresh failed", "error", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("registry refresh failed, keeping previous snapshot", "error", err)
				continue
			}
			r.logger.Debug("registry refreshed", "partners", r.PartnerCount())
		}
	}
}
