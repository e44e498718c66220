// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
)

const breakerName = "order-api"

// BreakerTransport wraps a Transport with a circuit breaker so a dead or
// drowning backend is not hammered by every poller at once.
//
// The breaker uses real time for its interval and timeout windows; that is
// what production recovery needs. Tests exercise the wrapped transport
// directly.
type BreakerTransport struct {
	inner Transport
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerTransport builds the breaker around inner.
// Opens after a 60% failure rate over at least 10 requests; probes recovery
// after 30 seconds with up to 3 half-open requests.
func NewBreakerTransport(inner Transport) *BreakerTransport {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening API circuit")
			}
			return shouldTrip
		},

		// Auth and validation failures mean the backend answered; they
		// must not open the circuit.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.Retryable()
			}
			return false
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("from", breakerStateString(from)).
				Str("to", breakerStateString(to)).
				Msg("API circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, breakerStateString(from), breakerStateString(to)).Inc()
		},
	})

	return &BreakerTransport{inner: inner, cb: cb}
}

func (b *BreakerTransport) Do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	result, err := b.cb.Execute(func() ([]byte, error) {
		return b.inner.Do(ctx, method, endpoint, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
			// Rejected calls look like transient network failures to the
			// coordinator: stale fallback applies, backoff applies.
			return nil, &APIError{Kind: KindNetwork, Endpoint: endpoint, Err: err}
		}
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	return result, nil
}

var _ Transport = (*BreakerTransport)(nil)

func breakerStateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half_open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func breakerStateFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
