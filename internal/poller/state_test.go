// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package poller

import (
	"errors"
	"testing"
	"time"
)

var testBackoff = Backoff{
	Factor:      2.0,
	MaxInterval: 30 * time.Second,
	MaxRetries:  3,
	Cooldown:    5 * time.Second,
}

func TestFailureWidensIntervalGeometrically(t *testing.T) {
	s := newEndpointState("/orders/", 2*time.Second)
	now := time.Now()
	errPoll := errors.New("poll failed")

	s.recordFailure(now, testBackoff, errPoll)
	if s.State != BackingOff {
		t.Fatalf("state = %v, want BackingOff", s.State)
	}
	if s.Interval != 4*time.Second {
		t.Errorf("interval = %v, want 4s", s.Interval)
	}

	s.recordFailure(now, testBackoff, errPoll)
	if s.Interval != 8*time.Second {
		t.Errorf("interval = %v, want 8s", s.Interval)
	}
	if s.ConsecutiveErrors != 2 {
		t.Errorf("consecutive errors = %d, want 2", s.ConsecutiveErrors)
	}
}

func TestBackoffCappedAtMaxInterval(t *testing.T) {
	s := newEndpointState("/orders/", 20*time.Second)
	s.recordFailure(time.Now(), testBackoff, errors.New("x"))
	if s.Interval != 30*time.Second {
		t.Errorf("interval = %v, want capped 30s", s.Interval)
	}
}

func TestSuccessResetsToBaseInterval(t *testing.T) {
	s := newEndpointState("/orders/", 2*time.Second)
	now := time.Now()
	s.recordFailure(now, testBackoff, errors.New("x"))
	s.recordFailure(now, testBackoff, errors.New("x"))

	s.recordSuccess()
	if s.State != Active {
		t.Errorf("state = %v, want Active", s.State)
	}
	if s.Interval != 2*time.Second {
		t.Errorf("interval = %v, want base 2s", s.Interval)
	}
	if s.ConsecutiveErrors != 0 || s.LastErr != nil {
		t.Errorf("errors not reset: count=%d err=%v", s.ConsecutiveErrors, s.LastErr)
	}
}

func TestSuspensionBeyondRetryBudget(t *testing.T) {
	s := newEndpointState("/orders/", 2*time.Second)
	now := time.Now()
	errPoll := errors.New("x")

	for i := 0; i < testBackoff.MaxRetries; i++ {
		s.recordFailure(now, testBackoff, errPoll)
		if s.State != BackingOff {
			t.Fatalf("failure %d: state = %v, want BackingOff", i+1, s.State)
		}
	}
	s.recordFailure(now, testBackoff, errPoll)
	if s.State != Suspended {
		t.Fatalf("state = %v, want Suspended past retry budget", s.State)
	}
	if !s.SuspendedAt.Equal(now) {
		t.Errorf("suspendedAt = %v, want %v", s.SuspendedAt, now)
	}
}

func TestCooldownResumeIsUnconditional(t *testing.T) {
	s := newEndpointState("/orders/", 2*time.Second)
	now := time.Now()
	s.suspend(now, errors.New("x"))

	if s.maybeResume(now.Add(4*time.Second), testBackoff.Cooldown) {
		t.Error("resumed before cooldown elapsed")
	}
	if !s.maybeResume(now.Add(5*time.Second), testBackoff.Cooldown) {
		t.Fatal("did not resume after cooldown")
	}
	if s.State != Active || s.ConsecutiveErrors != 0 || s.Interval != 2*time.Second {
		t.Errorf("resume did not reset state: %+v", s)
	}
}

func TestDueWithHiddenFactor(t *testing.T) {
	s := newEndpointState("/orders/", 2*time.Second)
	start := time.Now()
	s.LastRunAt = start

	if s.due(start.Add(2*time.Second), 1.0) != true {
		t.Error("should be due at one visible interval")
	}
	if s.due(start.Add(3*time.Second), 2.0) {
		t.Error("hidden factor 2 should not be due at 3s")
	}
	if !s.due(start.Add(4*time.Second), 2.0) {
		t.Error("hidden factor 2 should be due at 4s")
	}
}

func TestSuspendedNeverDue(t *testing.T) {
	s := newEndpointState("/orders/", time.Second)
	s.suspend(time.Now(), errors.New("x"))
	if s.due(time.Now().Add(time.Hour), 1.0) {
		t.Error("suspended endpoint must not be due")
	}
}
