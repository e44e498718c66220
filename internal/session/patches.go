// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package session

import (
	"container/heap"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/ordersync/internal/models"
)

// OrderPatch is a partial update applied optimistically to one order.
// Nil fields leave the order untouched.
type OrderPatch struct {
	Status *models.OrderStatus
	Notes  *string
	Items  []models.OrderItem
}

func (p OrderPatch) applyTo(o *models.Order) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Notes != nil {
		o.Notes = *p.Notes
	}
	if p.Items != nil {
		o.Items = p.Items
	}
	o.Local = true
}

type patchKind int

const (
	patchCreate patchKind = iota
	patchUpdate
)

// patchEntry is one pending optimistic patch with its expiry.
type patchEntry struct {
	id        string
	kind      patchKind
	order     models.Order // patchCreate payload
	orderID   string       // patchUpdate target
	patch     OrderPatch
	expiresAt time.Time
	seq       uint64 // insertion order, for deterministic overlay
	index     int    // heap position
}

// patchHeap orders entries by expiry so the sweep pops only what has
// actually expired.
type patchHeap []*patchEntry

func (h patchHeap) Len() int            { return len(h) }
func (h patchHeap) Less(i, j int) bool  { return h[i].expiresAt.Before(h[j].expiresAt) }
func (h patchHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *patchHeap) Push(x any)         { e := x.(*patchEntry); e.index = len(*h); *h = append(*h, e) }
func (h *patchHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// patchSet holds all pending optimistic patches, indexed by expiry. One
// sweep per reconciliation replaces one timer per patch, and expiry is
// deterministic under an injected clock. Not safe for concurrent use; the
// session's lock covers it.
type patchSet struct {
	heap patchHeap
	next uint64
}

func newPatchSet() *patchSet {
	return &patchSet{}
}

func (s *patchSet) addCreate(order models.Order, expiresAt time.Time) string {
	id := uuid.NewString()
	e := &patchEntry{
		id:        id,
		kind:      patchCreate,
		order:     order,
		expiresAt: expiresAt,
		seq:       s.next,
	}
	s.next++
	heap.Push(&s.heap, e)
	return id
}

func (s *patchSet) addUpdate(orderID string, patch OrderPatch, expiresAt time.Time) string {
	id := uuid.NewString()
	e := &patchEntry{
		id:        id,
		kind:      patchUpdate,
		orderID:   orderID,
		patch:     patch,
		expiresAt: expiresAt,
		seq:       s.next,
	}
	s.next++
	heap.Push(&s.heap, e)
	return id
}

// sweep removes and returns every patch that has expired by now.
func (s *patchSet) sweep(now time.Time) []*patchEntry {
	var expired []*patchEntry
	for s.heap.Len() > 0 && !s.heap[0].expiresAt.After(now) {
		expired = append(expired, heap.Pop(&s.heap).(*patchEntry))
	}
	return expired
}

// dropCreates removes create patches whose order ID the server now knows,
// so a confirmed create does not linger as a duplicate.
func (s *patchSet) dropCreates(serverIDs map[string]bool) int {
	dropped := 0
	for i := 0; i < s.heap.Len(); {
		e := s.heap[i]
		if e.kind == patchCreate && serverIDs[e.order.ID] {
			heap.Remove(&s.heap, i)
			dropped++
			continue
		}
		i++
	}
	return dropped
}

// active returns pending patches in insertion order for overlay application.
func (s *patchSet) active() []*patchEntry {
	out := make([]*patchEntry, len(s.heap))
	copy(out, s.heap)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *patchSet) len() int { return s.heap.Len() }
