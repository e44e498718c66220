// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package session keeps a live, locally-consistent view of the order feed.
// Server truth arrives via background polls or, when connected, the
// websocket push channel, which supersedes polling. Local mutations appear
// immediately as optimistic patches overlaid on truth; each patch expires
// after a bounded TTL so an unconfirmed write cannot diverge forever.
package session

import (
	"context"
	"crypto/sha256"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/platewise/ordersync/internal/client"
	"github.com/platewise/ordersync/internal/clock"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
	"github.com/platewise/ordersync/internal/models"
	"github.com/platewise/ordersync/internal/poller"
	"github.com/platewise/ordersync/internal/snapshot"
)

// FeedOrders is the session's feed name for metrics and persistence.
const FeedOrders = "orders"

// sweepInterval drives patch-expiry checks between data arrivals.
const sweepInterval = time.Second

// Session is the real-time order view. All exported methods are safe for
// concurrent use.
type Session struct {
	coord    *client.Coordinator
	poll     *poller.Coordinator
	snaps    *snapshot.Store // nil disables persistence
	bus      *events.Bus     // nil disables domain event publication
	clk      clock.Clock
	patchTTL time.Duration
	interval time.Duration
	cacheTTL time.Duration

	mu            sync.Mutex
	truth         []models.Order
	view          []models.Order
	lastHash      [sha256.Size]byte
	hashValid     bool
	patches       *patchSet
	stale         bool
	pushConnected bool
	subs          map[string]chan []models.Order
}

// Config carries session wiring.
type Config struct {
	Coordinator *client.Coordinator
	Poller      *poller.Coordinator
	Snapshots   *snapshot.Store // optional
	Bus         *events.Bus     // optional; receives order domain events
	Clock       clock.Clock     // nil uses real time
	Session     config.SessionConfig
	Interval    time.Duration // poll interval for the orders feed
	CacheTTL    time.Duration
}

// New builds a session. Serve starts data flow.
func New(cfg Config) *Session {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	snaps := cfg.Snapshots
	if !cfg.Session.PersistSnapshots {
		snaps = nil
	}
	return &Session{
		coord:    cfg.Coordinator,
		poll:     cfg.Poller,
		snaps:    snaps,
		bus:      cfg.Bus,
		clk:      clk,
		patchTTL: cfg.Session.PatchTTL,
		interval: cfg.Interval,
		cacheTTL: cfg.CacheTTL,
		patches:  newPatchSet(),
		subs:     make(map[string]chan []models.Order),
	}
}

// Serve restores the last snapshot, subscribes to the orders poll, and
// reconciles until ctx is canceled.
func (s *Session) Serve(ctx context.Context) error {
	s.restore()

	sub := s.poll.Subscribe(client.EndpointOrders, s.interval, s.fetch)
	defer sub.Unsubscribe()

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	logging.Info().Dur("interval", s.interval).Msg("Order session started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Order session stopped")
			return ctx.Err()
		case u, ok := <-sub.C:
			if !ok {
				return nil
			}
			s.handlePoll(u)
		case <-sweep.C:
			s.sweepPatches()
		}
	}
}

func (s *Session) String() string { return "order-session" }

// fetch is the poll function: a cache-aware, stale-tolerant read. A stale
// fallback returns both the cached payload and the failure, so the poller
// backs off while subscribers still see data.
func (s *Session) fetch(ctx context.Context) ([]byte, error) {
	data, stale, err := s.coord.Request(ctx, client.EndpointOrders, client.PollOptions(s.cacheTTL))
	if data != nil {
		s.mu.Lock()
		s.stale = stale
		s.mu.Unlock()
	}
	return data, err
}

// restore loads the persisted feed so a cold start shows last-known-good
// data before the first poll lands.
func (s *Session) restore() {
	if s.snaps == nil {
		return
	}
	var orders []models.Order
	savedAt, err := s.snaps.LoadFeed(FeedOrders, &orders)
	if err != nil {
		if err != snapshot.ErrNotFound {
			logging.Warn().Err(err).Msg("Failed to restore order snapshot")
		}
		return
	}

	s.mu.Lock()
	s.truth = orders
	s.stale = true
	s.mu.Unlock()
	s.reconcile()

	metrics.SnapshotRestores.WithLabelValues(FeedOrders).Inc()
	logging.Info().
		Int("orders", len(orders)).
		Time("saved_at", savedAt).
		Msg("Restored order snapshot")
}

// handlePoll applies one poll result. While the push channel is connected
// it carries the authoritative stream, so poll data is discarded.
func (s *Session) handlePoll(u poller.Update) {
	if u.Data == nil {
		// Background failures stay out of the published view; the
		// poller's backoff handles retry pacing.
		logging.Debug().Err(u.Err).Msg("Order poll failed")
		return
	}
	if u.Err != nil {
		// Stale fallback: the cached payload still feeds the view while
		// the poller records the failure.
		logging.Debug().Err(u.Err).Msg("Order poll served stale cached data")
	}

	s.mu.Lock()
	superseded := s.pushConnected
	s.mu.Unlock()
	if superseded {
		return
	}

	var page models.Page[models.Order]
	if err := json.Unmarshal(u.Data, &page); err != nil {
		logging.Warn().Err(err).Msg("Dropping undecodable order page")
		return
	}
	s.setTruth(page.Results)
}

// HandlePush is the push channel's message callback.
func (s *Session) HandlePush(msg models.PushMessage) {
	switch msg.Type {
	case models.PushOrdersSnapshot:
		var orders []models.Order
		if err := json.Unmarshal(msg.Data, &orders); err != nil {
			logging.Warn().Err(err).Msg("Dropping undecodable orders snapshot")
			return
		}
		s.mu.Lock()
		s.stale = false
		s.mu.Unlock()
		s.setTruth(orders)

	case models.PushOrderCreated, models.PushOrderUpdated:
		var order models.Order
		if err := json.Unmarshal(msg.Item, &order); err != nil {
			logging.Warn().Str("type", msg.Type).Err(err).Msg("Dropping undecodable order push")
			return
		}
		s.mu.Lock()
		s.truth = upsertOrder(s.truth, order)
		truth := copyOrders(s.truth)
		s.stale = false
		s.mu.Unlock()
		s.persist(truth)
		s.reconcile()
		if msg.Type == models.PushOrderCreated {
			s.publishEvent(events.OrderCreated, order)
		} else {
			s.publishEvent(events.OrderUpdated, order)
		}

	case models.PushOrderDeleted:
		if msg.ItemID == "" {
			return
		}
		s.mu.Lock()
		s.truth = removeOrder(s.truth, msg.ItemID)
		truth := copyOrders(s.truth)
		s.mu.Unlock()
		s.persist(truth)
		s.reconcile()
		s.publishEvent(events.OrderDeleted, msg.ItemID)

	default:
		logging.Debug().Str("type", msg.Type).Msg("Ignoring unknown push message type")
	}
}

// SetPushConnected is the push channel's state callback. On disconnect the
// poll loop takes back over automatically; nothing to do beyond flipping
// the flag.
func (s *Session) SetPushConnected(connected bool) {
	s.mu.Lock()
	s.pushConnected = connected
	s.mu.Unlock()
	logging.Info().Bool("connected", connected).Msg("Push channel state changed")
}

// publishEvent relays an order change onto the event bus, where the
// broadcaster forwards it to other instances.
func (s *Session) publishEvent(eventType string, payload any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, client.EndpointOrders, payload); err != nil {
		logging.Error().Str("type", eventType).Err(err).Msg("Failed to publish order event")
	}
}

// setTruth replaces server truth wholesale and reconciles.
func (s *Session) setTruth(orders []models.Order) {
	s.mu.Lock()
	s.truth = copyOrders(orders)
	truth := copyOrders(orders)
	s.mu.Unlock()
	s.persist(truth)
	s.reconcile()
}

// persist saves truth for offline starts. Stale data is not persisted: a
// cache fallback must never overwrite a better snapshot.
func (s *Session) persist(truth []models.Order) {
	s.mu.Lock()
	stale := s.stale
	s.mu.Unlock()
	if s.snaps == nil || stale {
		return
	}
	if err := s.snaps.SaveFeed(FeedOrders, truth); err != nil {
		logging.Error().Err(err).Msg("Failed to persist order snapshot")
	}
}

// OptimisticCreate makes a locally-created order visible immediately. The
// order gets a local ID if it has none. Returns the patch ID.
func (s *Session) OptimisticCreate(order models.Order) string {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Local = true

	s.mu.Lock()
	id := s.patches.addCreate(order, s.clk.Now().Add(s.patchTTL))
	metrics.OptimisticPatches.WithLabelValues(FeedOrders).Set(float64(s.patches.len()))
	s.mu.Unlock()

	s.reconcile()
	return id
}

// OptimisticUpdate merges a patch into the matching order immediately.
// Returns the patch ID; unknown order IDs still register a patch, which
// simply never matches and expires.
func (s *Session) OptimisticUpdate(orderID string, patch OrderPatch) string {
	s.mu.Lock()
	id := s.patches.addUpdate(orderID, patch, s.clk.Now().Add(s.patchTTL))
	metrics.OptimisticPatches.WithLabelValues(FeedOrders).Set(float64(s.patches.len()))
	s.mu.Unlock()

	s.reconcile()
	return id
}

// sweepPatches expires overdue patches and republishes if anything changed.
func (s *Session) sweepPatches() {
	s.mu.Lock()
	expired := s.patches.sweep(s.clk.Now())
	if len(expired) > 0 {
		metrics.OptimisticExpirations.WithLabelValues(FeedOrders).Add(float64(len(expired)))
		metrics.OptimisticPatches.WithLabelValues(FeedOrders).Set(float64(s.patches.len()))
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		logging.Debug().Int("expired", len(expired)).Msg("Optimistic patches expired")
		s.reconcile()
	}
}

// reconcile rebuilds the published view: sweep expired patches, drop
// confirmed creates, overlay the rest onto truth, and notify subscribers
// only when the result actually changed.
func (s *Session) reconcile() {
	s.mu.Lock()

	now := s.clk.Now()
	if expired := s.patches.sweep(now); len(expired) > 0 {
		metrics.OptimisticExpirations.WithLabelValues(FeedOrders).Add(float64(len(expired)))
	}

	serverIDs := make(map[string]bool, len(s.truth))
	for i := range s.truth {
		serverIDs[s.truth[i].ID] = true
	}
	s.patches.dropCreates(serverIDs)
	metrics.OptimisticPatches.WithLabelValues(FeedOrders).Set(float64(s.patches.len()))

	view := copyOrders(s.truth)
	for _, e := range s.patches.active() {
		switch e.kind {
		case patchCreate:
			view = append([]models.Order{e.order}, view...)
		case patchUpdate:
			for i := range view {
				if view[i].ID == e.orderID {
					e.patch.applyTo(&view[i])
					break
				}
			}
		}
	}

	h := hashOrders(view)
	if s.hashValid && h == s.lastHash {
		metrics.SessionUnchangedSkips.WithLabelValues(FeedOrders).Inc()
		s.mu.Unlock()
		return
	}
	s.lastHash = h
	s.hashValid = true
	s.view = view

	out := copyOrders(view)
	subs := make([]chan []models.Order, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	metrics.SessionNotifications.WithLabelValues(FeedOrders).Inc()
	for _, ch := range subs {
		select {
		case ch <- out:
		default:
			// Slow subscriber misses this view; the next one supersedes
			// it anyway.
		}
	}
}

// Snapshot returns a copy of the current published view.
func (s *Session) Snapshot() []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyOrders(s.view)
}

// Stale reports whether the view rests on cached fallback data.
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// PushConnected reports whether push currently supersedes polling.
func (s *Session) PushConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushConnected
}

// PendingPatches reports the number of unexpired optimistic patches.
func (s *Session) PendingPatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patches.len()
}

// Updates returns a channel of published views. Cancel releases it.
func (s *Session) Updates() (<-chan []models.Order, func()) {
	id := uuid.NewString()
	ch := make(chan []models.Order, 4)

	s.mu.Lock()
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// hashOrders fingerprints a view for change detection. Marshal order is
// deterministic for a fixed struct, so identical views hash identically.
func hashOrders(orders []models.Order) [sha256.Size]byte {
	data, err := json.Marshal(orders)
	if err != nil {
		// Orders marshal by construction; an error here means a new
		// unmarshalable field snuck into the model.
		logging.Error().Err(err).Msg("Failed to hash order view")
		return [sha256.Size]byte{}
	}
	return sha256.Sum256(data)
}

func copyOrders(orders []models.Order) []models.Order {
	out := make([]models.Order, len(orders))
	copy(out, orders)
	return out
}

func upsertOrder(orders []models.Order, order models.Order) []models.Order {
	for i := range orders {
		if orders[i].ID == order.ID {
			orders[i] = order
			return orders
		}
	}
	return append([]models.Order{order}, orders...)
}

func removeOrder(orders []models.Order, id string) []models.Order {
	out := orders[:0]
	for i := range orders {
		if orders[i].ID != id {
			out = append(out, orders[i])
		}
	}
	return out
}
