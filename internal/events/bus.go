// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package events provides the in-process event bus used for cross-cutting
// notifications (request lifecycle, cache invalidation, domain events) and an
// optional NATS broadcaster that relays domain events to other running
// instances on a best-effort basis.
//
// The bus is a thin typed layer over Watermill's gochannel Pub/Sub.
// Subscriptions return explicit handles; dropping a handle without calling
// Unsubscribe leaks a goroutine, so consumers own their lifecycle.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/platewise/ordersync/internal/logging"
)

// Event types published on the bus.
const (
	APISuccess    = "api-success"    // Endpoint + Payload (response body)
	APIError      = "api-error"      // Endpoint + Payload (error string)
	CacheFallback = "cache-fallback" // Endpoint; a stale value was served
	CacheCleared  = "cache-cleared"  // the whole store was emptied
	NetworkOnline = "network-online" // connectivity restored
	OrderCreated  = "order-created"  // Payload: models.Order
	OrderUpdated  = "order-updated"  // Payload: models.Order
	OrderDeleted  = "order-deleted"  // Payload: order ID
)

// topic is the single gochannel topic all events flow through; routing is by
// Event.Type, not by topic.
const topic = "ordersync.events"

// Event is the envelope published on the bus.
type Event struct {
	Type     string          `json:"type"`
	Endpoint string          `json:"endpoint,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	At       time.Time       `json:"at"`

	// Origin identifies the publishing instance. Events relayed from other
	// instances keep their original origin so relays can suppress echoes.
	Origin string `json:"origin,omitempty"`
}

// Bus is the process-wide event bus. Construct with NewBus and close with
// Close; there is no package-level instance.
type Bus struct {
	pubsub   *gochannel.GoChannel
	instance string

	mu     sync.Mutex
	closed bool
}

// NewBus creates an event bus with a unique instance identity.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
		instance: uuid.NewString(),
	}
}

// InstanceID returns this bus's origin identity.
func (b *Bus) InstanceID() string { return b.instance }

// Publish emits an event to all matching subscribers. The event's At and
// Origin fields are filled in when unset.
func (b *Bus) Publish(evt Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("events: bus is closed")
	}
	b.mu.Unlock()

	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	if evt.Origin == "" {
		evt.Origin = b.instance
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.Type, err)
	}
	return nil
}

// PublishJSON marshals v into the event payload and publishes it.
func (b *Bus) PublishJSON(eventType, endpoint string, v any) error {
	var payload json.RawMessage
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("events: marshal payload for %s: %w", eventType, err)
		}
		payload = raw
	}
	return b.Publish(Event{Type: eventType, Endpoint: endpoint, Payload: payload})
}

// Subscription is a handle to a bus subscription. Events arrive on C until
// Unsubscribe is called or the bus closes.
type Subscription struct {
	C chan Event

	cancel context.CancelFunc
	once   sync.Once
}

// Unsubscribe stops delivery and releases the subscription's goroutine.
// Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe delivers events whose Type is in types (all events when types is
// empty). Slow consumers do not block publishers: delivery falls behind into
// the channel buffer and drops when full.
func (b *Bus) Subscribe(types ...string) (*Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	sub := &Subscription{
		C:      make(chan Event, 64),
		cancel: cancel,
	}

	go func() {
		defer close(sub.C)
		for msg := range msgs {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				logging.Warn().Err(err).Msg("events: dropping undecodable event")
				msg.Ack()
				continue
			}
			msg.Ack()

			if len(want) > 0 && !want[evt.Type] {
				continue
			}
			select {
			case sub.C <- evt:
			default:
				logging.Warn().Str("type", evt.Type).Msg("events: subscriber buffer full, dropping event")
			}
		}
	}()

	return sub, nil
}

// Close shuts down the bus; all subscription channels are closed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
