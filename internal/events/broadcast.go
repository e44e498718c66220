// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/platewise/ordersync/internal/logging"
)

// broadcastTypes are the domain events relayed to other instances. Request
// lifecycle events stay local.
var broadcastTypes = map[string]bool{
	OrderCreated: true,
	OrderUpdated: true,
	OrderDeleted: true,
	CacheCleared: true,
}

// BroadcasterConfig configures the cross-instance relay.
type BroadcasterConfig struct {
	// URL is the NATS server to connect to.
	URL string

	// Subject is the NATS subject events are relayed on.
	// Default: ordersync.broadcast
	Subject string

	// MaxReconnects bounds automatic reconnection attempts (-1 = unlimited).
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration
}

// DefaultBroadcasterConfig returns production defaults.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		Subject:       "ordersync.broadcast",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Broadcaster relays selected bus events to other ordersync instances over
// core NATS. Delivery is best effort: no stream, no acks, no replay. Events
// received from the wire are republished locally with their original origin
// so the relay never echoes an instance's own events back onto its bus.
type Broadcaster struct {
	bus    *Bus
	config BroadcasterConfig
}

// NewBroadcaster creates a relay between bus and the configured NATS subject.
func NewBroadcaster(bus *Bus, cfg BroadcasterConfig) *Broadcaster {
	if cfg.Subject == "" {
		cfg.Subject = "ordersync.broadcast"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	return &Broadcaster{bus: bus, config: cfg}
}

// Serve implements suture.Service: connect, relay both directions, and stop
// when the context is canceled.
func (br *Broadcaster) Serve(ctx context.Context) error {
	conn, err := natsgo.Connect(br.config.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(br.config.MaxReconnects),
		natsgo.ReconnectWait(br.config.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("broadcast: NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("broadcast: NATS reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("broadcast: connect %s: %w", br.config.URL, err)
	}
	defer conn.Close()

	// Wire → bus. Events from this instance are suppressed by origin.
	wireSub, err := conn.Subscribe(br.config.Subject, func(msg *natsgo.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			logging.Warn().Err(err).Msg("broadcast: dropping undecodable wire event")
			return
		}
		if evt.Origin == br.bus.InstanceID() {
			return
		}
		if err := br.bus.Publish(evt); err != nil {
			logging.Warn().Err(err).Str("type", evt.Type).Msg("broadcast: local republish failed")
		}
	})
	if err != nil {
		return fmt.Errorf("broadcast: subscribe %s: %w", br.config.Subject, err)
	}
	defer func() { _ = wireSub.Unsubscribe() }()

	// Bus → wire.
	busSub, err := br.bus.Subscribe()
	if err != nil {
		return fmt.Errorf("broadcast: bus subscribe: %w", err)
	}
	defer busSub.Unsubscribe()

	logging.Info().Str("subject", br.config.Subject).Msg("broadcast: relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-busSub.C:
			if !ok {
				return fmt.Errorf("broadcast: bus closed")
			}
			if !broadcastTypes[evt.Type] || evt.Origin != br.bus.InstanceID() {
				continue
			}
			data, err := json.Marshal(evt)
			if err != nil {
				logging.Warn().Err(err).Str("type", evt.Type).Msg("broadcast: marshal failed")
				continue
			}
			// Best effort; a failed publish is logged, never retried.
			if err := conn.Publish(br.config.Subject, data); err != nil {
				logging.Warn().Err(err).Str("type", evt.Type).Msg("broadcast: wire publish failed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (br *Broadcaster) String() string { return "event-broadcaster" }
