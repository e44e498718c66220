// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/platewise/ordersync/internal/clock"
)

func newTestStore() (*Store, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewWithClock(clk), clk
}

func TestSetGetRoundTrip(t *testing.T) {
	s, _ := newTestStore()

	s.Set("GET:/orders/", []string{"A"})

	got, ok := s.Get("GET:/orders/")
	if !ok {
		t.Fatal("expected entry after Set")
	}
	orders, ok := got.([]string)
	if !ok || len(orders) != 1 || orders[0] != "A" {
		t.Errorf("unexpected value: %#v", got)
	}
}

func TestGetAbsentKey(t *testing.T) {
	s, _ := newTestStore()

	if _, ok := s.Get("GET:/orders/"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestSetOverwritesAndResetsAge(t *testing.T) {
	s, clk := newTestStore()

	s.Set("GET:/orders/", "v1")
	clk.Advance(9 * time.Second)
	s.Set("GET:/orders/", "v2")
	clk.Advance(9 * time.Second)

	// 18s after the first Set but only 9s after the overwrite.
	if !s.IsValid("GET:/orders/", 10*time.Second) {
		t.Error("overwrite should reset storedAt")
	}
	got, _ := s.Get("GET:/orders/")
	if got != "v2" {
		t.Errorf("expected v2, got %v", got)
	}
}

// Lazy expiry scenario from the store's contract: at t=5000ms the entry is
// valid under a 10000ms TTL, at t=11000ms it is invalid but still readable.
func TestLazyExpiry(t *testing.T) {
	s, clk := newTestStore()

	s.Set("orders", []string{"A"})

	clk.Advance(5 * time.Second)
	if !s.IsValid("orders", 10*time.Second) {
		t.Error("entry should be valid at t=5s under 10s TTL")
	}

	clk.Advance(6 * time.Second)
	if s.IsValid("orders", 10*time.Second) {
		t.Error("entry should be stale at t=11s under 10s TTL")
	}

	got, ok := s.Get("orders")
	if !ok {
		t.Fatal("stale entry must remain readable (lazy expiry, not eager deletion)")
	}
	if orders := got.([]string); orders[0] != "A" {
		t.Errorf("stale read returned wrong value: %v", got)
	}
}

func TestInvalidateRelated(t *testing.T) {
	s, _ := newTestStore()

	s.Set("GET:/orders/", "list")
	s.Set("GET:/orders/?page=2", "page2")
	s.Set("GET:/orders/42/", "detail")
	s.Set("GET:/menu/items/", "menu")

	removed := s.InvalidateRelated("POST:/orders/")

	if removed == 0 {
		t.Fatal("expected related entries to be removed")
	}
	if _, ok := s.Get("GET:/menu/items/"); !ok {
		t.Error("unrelated entry must survive invalidation")
	}
	if _, ok := s.Get("GET:/orders/?page=2"); ok {
		t.Error("query variants of the mutated path must be invalidated")
	}
}

func TestInvalidateRelatedSubpath(t *testing.T) {
	s, _ := newTestStore()

	// Base-path containment runs both directions: a mutation on a detail
	// path invalidates the containing list entry as well.
	s.Set("GET:/orders/", "list")
	s.Set("GET:/orders/42/", "detail")
	s.InvalidateRelated("PATCH:/orders/42/")

	if _, ok := s.Get("GET:/orders/42/"); ok {
		t.Error("detail entry should be invalidated by mutation on same path")
	}
	if _, ok := s.Get("GET:/orders/"); ok {
		t.Error("list entry should be invalidated by mutation on a contained path")
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore()

	s.Set("a", 1)
	s.Set("b", 2)
	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty store after Clear, have %d entries", s.Len())
	}
	if _, ok := s.Get("a"); ok {
		t.Error("entry survived Clear")
	}
}

func TestConcurrentAccess(t *testing.T) {
	s, _ := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("GET:/orders/%d/", n%4)
			for j := 0; j < 100; j++ {
				s.Set(key, j)
				s.Get(key)
				s.IsValid(key, time.Second)
				if j%25 == 0 {
					s.InvalidateRelated(key)
				}
			}
		}(i)
	}
	wg.Wait()
}
