// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package metrics exposes Prometheus instrumentation for the sync core:
// request coordinator outcomes, cache efficiency, poller state, push-channel
// health, and session notification volume. All collectors are registered on
// the default registry and served by the ops server's /metrics endpoint.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request coordinator metrics

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_requests_total",
			Help: "Total coordinated requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // "network", "cache_hit", "cache_fallback", "error"
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ordersync_request_duration_seconds",
			Help:    "Network request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 8},
		},
		[]string{"endpoint", "method"},
	)

	RequestDedupJoins = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_request_dedup_joins_total",
			Help: "Calls that joined an identical in-flight request instead of issuing a new one",
		},
	)

	// Cache store metrics

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_cache_hits_total",
			Help: "Cache reads that returned a valid entry",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_cache_misses_total",
			Help: "Cache reads that found no valid entry",
		},
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_cache_invalidations_total",
			Help: "Entries removed by related-key invalidation or clear",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordersync_cache_entries",
			Help: "Current number of cache entries (including lazily expired ones)",
		},
	)

	NetworkUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordersync_network_up",
			Help: "Whether the backend was reachable at the last probe (0 or 1)",
		},
	)

	// Poller metrics

	PollerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordersync_poller_state",
			Help: "Poller state per endpoint (0=active, 1=backing_off, 2=suspended)",
		},
		[]string{"endpoint"},
	)

	PollerInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordersync_poller_interval_seconds",
			Help: "Effective poll interval per endpoint",
		},
		[]string{"endpoint"},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_polls_total",
			Help: "Poll executions by endpoint and result",
		},
		[]string{"endpoint", "result"}, // "success", "failure", "skipped_overlap"
	)

	PollerSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordersync_poller_subscribers",
			Help: "Subscribers fanned out per endpoint poller",
		},
		[]string{"endpoint"},
	)

	// Push channel metrics

	PushConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ordersync_push_connected",
			Help: "Whether the push channel is currently connected (0 or 1)",
		},
	)

	PushReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_push_reconnects_total",
			Help: "Push channel reconnection attempts",
		},
	)

	PushHeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ordersync_push_heartbeat_timeouts_total",
			Help: "Forced reconnects due to missing heartbeat acknowledgments",
		},
	)

	PushMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_push_messages_total",
			Help: "Push messages received by type",
		},
		[]string{"type"},
	)

	// Session metrics

	SessionNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_session_notifications_total",
			Help: "Session subscriber notifications by feed",
		},
		[]string{"feed"},
	)

	SessionUnchangedSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_session_unchanged_skips_total",
			Help: "Notifications skipped because the payload hash was unchanged",
		},
		[]string{"feed"},
	)

	OptimisticPatches = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordersync_optimistic_patches",
			Help: "Unexpired optimistic patches per feed",
		},
		[]string{"feed"},
	)

	OptimisticExpirations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_optimistic_expirations_total",
			Help: "Optimistic patches dropped by TTL expiry without server confirmation",
		},
		[]string{"feed"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ordersync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	// Snapshot store metrics

	SnapshotWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_snapshot_writes_total",
			Help: "Last-known-good snapshot writes by feed",
		},
		[]string{"feed"},
	)

	SnapshotRestores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ordersync_snapshot_restores_total",
			Help: "Session starts served from a persisted snapshot",
		},
		[]string{"feed"},
	)
)

// ObserveRequest records a completed network request.
func ObserveRequest(endpoint, method string, start time.Time) {
	RequestDuration.WithLabelValues(endpoint, method).Observe(time.Since(start).Seconds())
}
