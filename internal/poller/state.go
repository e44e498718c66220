// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package poller schedules background feed polls. One shared scheduler tick
// scans every registered endpoint instead of running one timer per endpoint,
// so pollers cannot drift or stack. Failures back the interval off
// exponentially; repeated failures suspend the endpoint for a cooldown.
package poller

import (
	"time"
)

// State is the lifecycle of one polled endpoint.
type State int

const (
	// Active polls at the base interval.
	Active State = iota

	// BackingOff polls at a widened interval after failures.
	BackingOff

	// Suspended does not poll until the cooldown elapses.
	Suspended
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case BackingOff:
		return "backing_off"
	case Suspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Backoff bounds the failure behavior of an endpoint state.
type Backoff struct {
	// Factor multiplies the interval per consecutive failure.
	Factor float64

	// MaxInterval caps backoff growth.
	MaxInterval time.Duration

	// MaxRetries is the consecutive-failure count beyond which the
	// endpoint suspends.
	MaxRetries int

	// Cooldown is the suspension length before an unconditional resume.
	Cooldown time.Duration
}

// EndpointState holds per-endpoint scheduling state. It is a plain value
// driven by the coordinator; all methods assume external locking.
type EndpointState struct {
	Endpoint          string
	BaseInterval      time.Duration
	Interval          time.Duration
	ConsecutiveErrors int
	State             State
	LastRunAt         time.Time
	SuspendedAt       time.Time
	LastErr           error
}

// newEndpointState starts an endpoint as Active with a zero LastRunAt, so
// the first scan runs it immediately.
func newEndpointState(endpoint string, interval time.Duration) *EndpointState {
	return &EndpointState{
		Endpoint:     endpoint,
		BaseInterval: interval,
		Interval:     interval,
		State:        Active,
	}
}

// due reports whether the endpoint should run. hiddenFactor widens the
// effective interval while the application is backgrounded.
func (s *EndpointState) due(now time.Time, hiddenFactor float64) bool {
	if s.State == Suspended {
		return false
	}
	effective := s.Interval
	if hiddenFactor > 1 {
		effective = time.Duration(float64(effective) * hiddenFactor)
	}
	return now.Sub(s.LastRunAt) >= effective
}

// recordSuccess resets the endpoint to full-speed polling.
func (s *EndpointState) recordSuccess() {
	s.Interval = s.BaseInterval
	s.ConsecutiveErrors = 0
	s.State = Active
	s.LastErr = nil
}

// recordFailure widens the interval and, past the retry budget, suspends.
func (s *EndpointState) recordFailure(now time.Time, b Backoff, err error) {
	s.ConsecutiveErrors++
	s.LastErr = err

	if s.ConsecutiveErrors > b.MaxRetries {
		s.State = Suspended
		s.SuspendedAt = now
		return
	}

	s.State = BackingOff
	widened := time.Duration(float64(s.Interval) * b.Factor)
	if widened > b.MaxInterval {
		widened = b.MaxInterval
	}
	s.Interval = widened
}

// suspend parks the endpoint immediately, skipping remaining retries. Used
// for failures that retrying cannot fix, like a rejected token.
func (s *EndpointState) suspend(now time.Time, err error) {
	s.State = Suspended
	s.SuspendedAt = now
	s.LastErr = err
}

// maybeResume lifts a suspension after the cooldown. The resume is
// unconditional: liveness over certainty.
func (s *EndpointState) maybeResume(now time.Time, cooldown time.Duration) bool {
	if s.State != Suspended {
		return false
	}
	if now.Sub(s.SuspendedAt) < cooldown {
		return false
	}
	s.Interval = s.BaseInterval
	s.ConsecutiveErrors = 0
	s.State = Active
	return true
}
