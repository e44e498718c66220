// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package cache implements the in-memory response cache backing the request
// coordinator.
//
// Staleness is the caller's concern: Get returns whatever is stored, and
// IsValid answers freshness under a caller-supplied TTL. Expired entries are
// never evicted in the background; they stay until overwritten, invalidated,
// or cleared. The store is bounded by the number of distinct endpoints, so
// lazy expiry keeps stale values available for the fallback-to-cache path
// without a cleanup goroutine.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/platewise/ordersync/internal/clock"
	"github.com/platewise/ordersync/internal/metrics"
)

// Entry is a stored value with its storage timestamp. Values are replaced
// wholesale, never mutated in place.
type Entry struct {
	Value    any
	StoredAt time.Time
}

// Store is a thread-safe request-key → Entry map with TTL validity checks.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clk     clock.Clock
}

// New creates an empty Store using the real clock.
func New() *Store {
	return NewWithClock(clock.Real{})
}

// NewWithClock creates an empty Store with an injected clock.
func NewWithClock(clk clock.Clock) *Store {
	return &Store{
		entries: make(map[string]Entry),
		clk:     clk,
	}
}

// Get returns the stored value for key without regard to staleness.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		metrics.CacheMisses.Inc()
		return nil, false
	}
	return entry.Value, true
}

// IsValid reports whether an entry exists for key and is younger than ttl.
func (s *Store) IsValid(key string, ttl time.Duration) bool {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false
	}
	valid := s.clk.Now().Sub(entry.StoredAt) < ttl
	if valid {
		metrics.CacheHits.Inc()
	} else {
		metrics.CacheMisses.Inc()
	}
	return valid
}

// Set overwrites any existing entry for key and resets its storage time.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.entries[key] = Entry{
		Value:    value,
		StoredAt: s.clk.Now(),
	}
	metrics.CacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()
}

// InvalidateRelated removes every entry whose key is related to the given
// key. Two keys are related when one's base path contains the other's, where
// the base path is the key with its method prefix and query string stripped.
// Called before mutations so a failed write cannot leave fresh-looking stale
// reads behind.
func (s *Store) InvalidateRelated(key string) int {
	base := basePath(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k := range s.entries {
		if related(k, base) {
			delete(s.entries, k)
			removed++
		}
	}
	if removed > 0 {
		metrics.CacheInvalidations.Add(float64(removed))
		metrics.CacheEntries.Set(float64(len(s.entries)))
	}
	return removed
}

// Clear empties the store. Called on network-online transitions and explicit
// user action.
func (s *Store) Clear() {
	s.mu.Lock()
	removed := len(s.entries)
	s.entries = make(map[string]Entry)
	s.mu.Unlock()

	if removed > 0 {
		metrics.CacheInvalidations.Add(float64(removed))
	}
	metrics.CacheEntries.Set(0)
}

// Len returns the current number of entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// basePath reduces a request key of the form "METHOD:/path/?query" to its
// path portion.
func basePath(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		key = key[:i]
	}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		key = key[i+1:]
	}
	return key
}

// related reports whether stored key k and base path overlap: either contains
// the other once both are reduced to base paths.
func related(k, base string) bool {
	kb := basePath(k)
	return strings.Contains(kb, base) || strings.Contains(base, kb)
}
