// Package store abstracts the shared Redis-compatible state backing the
// pipeline: dedup keys, rate counters, pattern windows, and the bounded
// append-only signal streams.
//
// Everything here relies on the backend's own atomic primitives
// (set-if-absent, atomic increment, sorted-set operations) rather than
// in-process locking, so many producer goroutines can call in concurrently.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups for absent keys.
var ErrNotFound = errors.New("store: not found")

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// StreamEntry is one record of an append-only stream. ID is the backend's
// log position, ordered by insertion and prefixed with a millisecond
// timestamp (Redis stream id format "<ms>-<seq>").
type StreamEntry struct {
	ID     string
	Values map[string]string
}

// Store is the shared-state contract the pipeline components depend on.
type Store interface {
	// SetNX sets key if absent, with a TTL, and reports whether this call
	// created the key. First writer within the TTL wins.
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Incr atomically increments the counter at key and returns the new
	// value. The TTL is applied only when this call creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Sorted-set primitives backing the pattern windows.
	ZAdd(ctx context.Context, key string, member ZMember) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error)
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error

	// SMembers reads a plain set, used for dynamically ingested registries.
	SMembers(ctx context.Context, key string) ([]string, error)

	// StreamAppend appends values to the bounded stream at key, trimming
	// to approximately maxLen entries (oldest evicted).
	StreamAppend(ctx context.Context, key string, values map[string]string, maxLen int64) error

	// StreamRange reads entries with id in [start, end] in log order.
	// Use "-" and "+" for the open ends.
	StreamRange(ctx context.Context, key, start, end string) ([]StreamEntry, error)

	// StreamRevRange reads the most recent count entries, newest first.
	StreamRevRange(ctx context.Context, key string, count int64) ([]StreamEntry, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}
