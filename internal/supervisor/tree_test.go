// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingService struct {
	starts atomic.Int64
	block  chan struct{}
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.block:
		return nil // clean exit triggers a restart under suture
	}
}

func (s *countingService) String() string { return "counting-service" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(testLogger(), DefaultTreeConfig())
	svc := &countingService{block: make(chan struct{})}
	tree.AddSyncService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}

func TestTreeRestartsFailedService(t *testing.T) {
	cfg := DefaultTreeConfig()
	tree := NewTree(testLogger(), cfg)
	svc := &countingService{block: make(chan struct{}, 4)}
	tree.AddSyncService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for svc.starts.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Make the service return; the supervisor must start it again.
	svc.block <- struct{}{}
	deadline = time.Now().Add(5 * time.Second)
	for svc.starts.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("starts = %d, service not restarted", svc.starts.Load())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
