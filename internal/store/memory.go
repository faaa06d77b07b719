package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and demo mode.
// TTL semantics match the Redis backend against the wall clock.
type MemoryStore struct {
	mu       sync.Mutex
	kv       map[string]memValue
	counters map[string]memCounter
	zsets    map[string]map[string]float64
	sets     map[string]map[string]bool
	streams  map[string][]StreamEntry
	seq      uint64
}

type memValue struct {
	value     string
	expiresAt time.Time
}

type memCounter struct {
	n         int64
	expiresAt time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		kv:       make(map[string]memValue),
		counters: make(map[string]memCounter),
		zsets:    make(map[string]map[string]float64),
		sets:     make(map[string]map[string]bool),
		streams:  make(map[string][]StreamEntry),
	}
}

func (m *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if v, ok := m.kv[key]; ok && now.Before(v.expiresAt) {
		return false, nil
	}
	m.kv[key] = memValue{value: value, expiresAt: now.Add(ttl)}
	return true, nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = memCounter{n: 0, expiresAt: now.Add(ttl)}
	}
	c.n++
	m.counters[key] = c
	return c.n, nil
}

func (m *MemoryStore) ZAdd(ctx context.Context, key string, member ZMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zs, ok := m.zsets[key]
	if !ok {
		zs = make(map[string]float64)
		m.zsets[key] = zs
	}
	zs[member.Member] = member.Score
	return nil
}

func (m *MemoryStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]ZMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ZMember
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			out = append(out, ZMember{Member: member, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out, nil
}

func (m *MemoryStore) ZRemRangeByScore(ctx context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
		}
	}
	return nil
}

func (m *MemoryStore) SMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

// SAdd populates a plain set. Not part of the Store interface; tests use it
// to stand in for the external registry ingester.
func (m *MemoryStore) SAdd(key string, members ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]bool)
		m.sets[key] = set
	}
	for _, member := range members {
		set[member] = true
	}
}

func (m *MemoryStore) StreamAppend(ctx context.Context, key string, values map[string]string, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	entry := StreamEntry{
		ID:     fmt.Sprintf("%d-%d", time.Now().UnixMilli(), m.seq),
		Values: values,
	}
	entries := append(m.streams[key], entry)
	if maxLen > 0 && int64(len(entries)) > maxLen {
		entries = entries[int64(len(entries))-maxLen:]
	}
	m.streams[key] = entries
	return nil
}

func (m *MemoryStore) StreamRange(ctx context.Context, key, start, end string) ([]StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []StreamEntry
	for _, e := range m.streams[key] {
		if compareStreamID(e.ID, start) >= 0 && compareStreamID(e.ID, end) <= 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) StreamRevRange(ctx context.Context, key string, count int64) ([]StreamEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.streams[key]
	if int64(len(entries)) > count {
		entries = entries[int64(len(entries))-count:]
	}
	out := make([]StreamEntry, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// compareStreamID orders Redis-style "<ms>-<seq>" ids, honoring the open
// range markers "-" and "+".
func compareStreamID(id, bound string) int {
	switch bound {
	case "-":
		return 1
	case "+":
		return -1
	}
	idMs, idSeq := splitStreamID(id)
	bMs, bSeq := splitStreamID(bound)
	if idMs != bMs {
		if idMs < bMs {
			return -1
		}
		return 1
	}
	if idSeq != bSeq {
		if idSeq < bSeq {
			return -1
		}
		return 1
	}
	return 0
}

func splitStreamID(id string) (int64, int64) {
	ms, seq, found := strings.Cut(id, "-")
	msN, _ := strconv.ParseInt(ms, 10, 64)
	if !found {
		return msN, 0
	}
	seqN, _ := strconv.ParseInt(seq, 10, 64)
	return msN, seqN
}
