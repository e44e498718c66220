// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"context"
	"time"

	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
)

// Pinger probes backend reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityWatcher probes the backend on a fixed cadence and publishes a
// network-online event when reachability returns after an outage. The
// coordinator reacts by clearing the cache so consumers refetch fresh data.
//
// The probe bypasses the circuit breaker: an open breaker would reject the
// ping during exactly the outage the watcher exists to see the end of.
type ConnectivityWatcher struct {
	pinger   Pinger
	bus      *events.Bus
	interval time.Duration
	online   bool
}

// NewConnectivityWatcher starts in the online state, so a healthy boot does
// not publish a spurious transition.
func NewConnectivityWatcher(pinger Pinger, bus *events.Bus, interval time.Duration) *ConnectivityWatcher {
	return &ConnectivityWatcher{
		pinger:   pinger,
		bus:      bus,
		interval: interval,
		online:   true,
	}
}

// Serve probes until ctx is canceled.
func (w *ConnectivityWatcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	metrics.NetworkUp.Set(1)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *ConnectivityWatcher) String() string { return "connectivity-watcher" }

// check runs one probe and publishes on the offline-to-online edge.
func (w *ConnectivityWatcher) check(ctx context.Context) {
	err := w.pinger.Ping(ctx)
	switch {
	case err != nil && w.online:
		w.online = false
		metrics.NetworkUp.Set(0)
		logging.Warn().Err(err).Msg("Backend unreachable")
	case err == nil && !w.online:
		w.online = true
		metrics.NetworkUp.Set(1)
		logging.Info().Msg("Backend reachable again")
		if pubErr := w.bus.Publish(events.Event{Type: events.NetworkOnline}); pubErr != nil {
			logging.Error().Err(pubErr).Msg("Failed to publish network-online event")
		}
	}
}
