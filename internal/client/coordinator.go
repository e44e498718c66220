// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platewise/ordersync/internal/cache"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
)

// Coordinator applies the API-first request policy on top of a Transport:
//
//  1. Mutations invalidate related cache entries before the network call,
//     so a failed write never leaves stale reads that look fresh.
//  2. Cached GETs within their TTL are served without touching the network.
//  3. Identical concurrent requests share one network call.
//  4. On failure, GETs may fall back to a stale cached value; the network
//     failure is still recorded and published.
//
// Caching here exists for degraded-network resilience, not performance.
type Coordinator struct {
	transport Transport
	cache     *cache.Store
	bus       *events.Bus
	group     singleflight.Group

	defaultTTL     time.Duration
	defaultTimeout time.Duration

	clearing atomic.Bool
	netSub   *events.Subscription
	done     chan struct{}
}

// requestResult carries the outcome of one shared network flight.
type requestResult struct {
	data  []byte
	stale bool
}

// NewCoordinator wires the coordinator and begins watching for
// network-online transitions, which clear the cache wholesale.
func NewCoordinator(transport Transport, store *cache.Store, bus *events.Bus, defaultTTL, defaultTimeout time.Duration) (*Coordinator, error) {
	c := &Coordinator{
		transport:      transport,
		cache:          store,
		bus:            bus,
		defaultTTL:     defaultTTL,
		defaultTimeout: defaultTimeout,
		done:           make(chan struct{}),
	}

	sub, err := bus.Subscribe(events.NetworkOnline)
	if err != nil {
		return nil, err
	}
	c.netSub = sub
	go c.watchNetwork()

	return c, nil
}

// Close stops the network watcher. In-flight requests complete normally.
func (c *Coordinator) Close() {
	c.netSub.Unsubscribe()
	<-c.done
}

// watchNetwork clears the cache when connectivity returns, so every consumer
// refetches fresh data instead of trusting entries written while offline.
func (c *Coordinator) watchNetwork() {
	defer close(c.done)
	for range c.netSub.C {
		if !c.clearing.CompareAndSwap(false, true) {
			continue
		}
		c.cache.Clear()
		logging.Info().Msg("Network restored; cache cleared")
		if err := c.bus.Publish(events.Event{Type: events.CacheCleared}); err != nil {
			logging.Error().Err(err).Msg("Failed to publish cache-cleared event")
		}
		c.clearing.Store(false)
	}
}

// Request executes one coordinated request and returns the raw response
// body. When stale is true a cache fallback was served: data holds the
// cached value and err carries the network failure that forced it, so
// callers can both show the data and account for the failure.
func (c *Coordinator) Request(ctx context.Context, endpoint string, opts Options) (data []byte, stale bool, err error) {
	method := opts.method()
	key := method + ":" + endpoint
	start := time.Now()

	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.defaultTimeout
	}

	// Write-through invalidation: related reads go before the mutation is
	// even attempted.
	if opts.isMutation() {
		if n := c.cache.InvalidateRelated(key); n > 0 {
			logging.Debug().Str("endpoint", endpoint).Int("entries", n).Msg("Invalidated related cache entries")
		}
	}

	// Fresh cache hit: no network call at all. The store counts hits and
	// misses itself.
	if !opts.isMutation() && opts.UseCache && !opts.BypassCache && c.cache.IsValid(key, ttl) {
		if cached, ok := c.cache.Get(key); ok {
			metrics.RequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
			return cached.([]byte), false, nil
		}
	}

	// One network flight per key; concurrent identical callers share it.
	var leader bool
	v, flightErr, _ := c.group.Do(key, func() (any, error) {
		leader = true
		return c.execute(ctx, method, endpoint, key, opts, timeout)
	})
	if !leader {
		metrics.RequestDedupJoins.Inc()
	}
	if flightErr != nil {
		// A stale fallback carries both the cached data and the failure
		// that forced it.
		if res, ok := v.(requestResult); ok && res.stale {
			metrics.RequestsTotal.WithLabelValues(endpoint, "stale_fallback").Inc()
			return res.data, true, flightErr
		}
		metrics.RequestsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, false, flightErr
	}

	res := v.(requestResult)
	metrics.RequestsTotal.WithLabelValues(endpoint, "success").Inc()
	metrics.ObserveRequest(endpoint, method, start)
	return res.data, res.stale, nil
}

// execute performs the network call plus success/fallback bookkeeping for a
// single shared flight.
func (c *Coordinator) execute(ctx context.Context, method, endpoint, key string, opts Options, timeout time.Duration) (requestResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	data, err := c.transport.Do(reqCtx, method, endpoint, opts.Body)
	if err == nil {
		if !opts.isMutation() && opts.UseCache {
			c.cache.Set(key, data)
		}
		if pubErr := c.bus.Publish(events.Event{Type: events.APISuccess, Endpoint: endpoint, Payload: data}); pubErr != nil {
			logging.Error().Err(pubErr).Msg("Failed to publish api-success event")
		}
		return requestResult{data: data}, nil
	}

	// Stale fallback: any cached entry, valid or not, beats a retryable
	// error for read paths that opted in. The failure still travels with
	// the stale payload so pollers record it and back off. Auth and
	// validation errors never fall back; masking them cannot help.
	if !opts.isMutation() && opts.FallbackToCache && IsRetryable(err) {
		if cached, ok := c.cache.Get(key); ok {
			logging.Warn().Str("endpoint", endpoint).Err(err).Msg("Serving stale cached data after network failure")
			if pubErr := c.bus.Publish(events.Event{Type: events.CacheFallback, Endpoint: endpoint}); pubErr != nil {
				logging.Error().Err(pubErr).Msg("Failed to publish cache-fallback event")
			}
			return requestResult{data: cached.([]byte), stale: true}, err
		}
	}

	if pubErr := c.bus.Publish(events.Event{Type: events.APIError, Endpoint: endpoint}); pubErr != nil {
		logging.Error().Err(pubErr).Msg("Failed to publish api-error event")
	}
	return requestResult{}, err
}
