// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package session

import (
	"testing"
	"time"

	"github.com/platewise/ordersync/internal/models"
)

func TestPatchSetSweepsOnlyExpired(t *testing.T) {
	ps := newPatchSet()
	base := time.Unix(1000, 0)

	ps.addCreate(models.Order{ID: "a"}, base.Add(5*time.Second))
	ps.addCreate(models.Order{ID: "b"}, base.Add(10*time.Second))
	ps.addCreate(models.Order{ID: "c"}, base.Add(15*time.Second))

	expired := ps.sweep(base.Add(10 * time.Second))
	if len(expired) != 2 {
		t.Fatalf("expired = %d, want 2 at t+10s", len(expired))
	}
	if expired[0].order.ID != "a" || expired[1].order.ID != "b" {
		t.Errorf("expiry order = %s,%s, want a,b", expired[0].order.ID, expired[1].order.ID)
	}
	if ps.len() != 1 {
		t.Errorf("remaining = %d, want 1", ps.len())
	}
}

func TestPatchSetActivePreservesInsertionOrder(t *testing.T) {
	ps := newPatchSet()
	base := time.Unix(1000, 0)

	// Later-inserted patch expires earlier; overlay order must still be
	// insertion order.
	ps.addUpdate("o1", OrderPatch{}, base.Add(20*time.Second))
	ps.addUpdate("o2", OrderPatch{}, base.Add(5*time.Second))
	ps.addUpdate("o3", OrderPatch{}, base.Add(10*time.Second))

	active := ps.active()
	if len(active) != 3 {
		t.Fatalf("active = %d, want 3", len(active))
	}
	want := []string{"o1", "o2", "o3"}
	for i, e := range active {
		if e.orderID != want[i] {
			t.Errorf("active[%d] = %s, want %s", i, e.orderID, want[i])
		}
	}
}

func TestPatchSetDropCreates(t *testing.T) {
	ps := newPatchSet()
	base := time.Unix(1000, 0)

	ps.addCreate(models.Order{ID: "confirmed"}, base.Add(10*time.Second))
	ps.addCreate(models.Order{ID: "pending"}, base.Add(10*time.Second))
	ps.addUpdate("confirmed", OrderPatch{}, base.Add(10*time.Second))

	dropped := ps.dropCreates(map[string]bool{"confirmed": true})
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	// The update patch for the confirmed ID stays; only the create goes.
	if ps.len() != 2 {
		t.Errorf("remaining = %d, want 2", ps.len())
	}
}
