// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/platewise/ordersync/internal/auth"
	"github.com/platewise/ordersync/internal/cache"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/metrics"
)

type testBackend struct {
	srv        *httptest.Server
	hits       atomic.Int64
	mu         sync.Mutex
	fail       bool
	failStatus int
	delay      time.Duration
}

func newTestBackend(t *testing.T, body string) *testBackend {
	t.Helper()
	b := &testBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		b.mu.Lock()
		fail, status, delay := b.fail, b.failStatus, b.delay
		b.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if fail {
			if status == 0 {
				status = http.StatusInternalServerError
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"detail":"backend down"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *testBackend) setFail(fail bool) {
	b.mu.Lock()
	b.fail = fail
	b.mu.Unlock()
}

func (b *testBackend) setFailStatus(status int) {
	b.mu.Lock()
	b.fail = true
	b.failStatus = status
	b.mu.Unlock()
}

func newTestCoordinator(t *testing.T, baseURL string) (*Coordinator, *cache.Store, *events.Bus) {
	t.Helper()
	store := cache.New()
	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	transport := NewHTTPTransport(config.APIConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	}, auth.NewStaticProvider("test-token"))

	coord, err := NewCoordinator(transport, store, bus, 10*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(coord.Close)
	return coord, store, bus
}

func TestCachedGETServesWithoutNetworkCall(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, _, _ := newTestCoordinator(t, backend.srv.URL)

	opts := Options{UseCache: true, CacheTTL: 10 * time.Second}
	ctx := context.Background()

	if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
		t.Fatalf("first request: %v", err)
	}
	data, stale, err := coord.Request(ctx, "/orders/", opts)
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if stale {
		t.Error("fresh cache hit should not be stale")
	}
	if string(data) != `{"count":0,"results":[]}` {
		t.Errorf("unexpected cached body: %s", data)
	}
	if got := backend.hits.Load(); got != 1 {
		t.Errorf("network calls = %d, want 1 (second served from cache)", got)
	}
}

func TestBypassCacheAlwaysHitsNetwork(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, _, _ := newTestCoordinator(t, backend.srv.URL)

	opts := Options{UseCache: true, CacheTTL: time.Minute, BypassCache: true}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if got := backend.hits.Load(); got != 3 {
		t.Errorf("network calls = %d, want 3 with bypass", got)
	}
}

func TestConcurrentIdenticalRequestsShareOneFlight(t *testing.T) {
	backend := newTestBackend(t, `{"count":1,"results":[{"id":"o1","status":"pending","items":[],"total_cents":100}]}`)
	backend.mu.Lock()
	backend.delay = 100 * time.Millisecond
	backend.mu.Unlock()

	coord, _, _ := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = coord.Request(ctx, "/orders/", Options{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if got := backend.hits.Load(); got != 1 {
		t.Errorf("network calls = %d, want 1 shared flight", got)
	}
}

func TestMutationInvalidatesRelatedEntriesFirst(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, store, _ := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	getOpts := Options{UseCache: true, CacheTTL: time.Minute}
	if _, _, err := coord.Request(ctx, "/orders/", getOpts); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, ok := store.Get("GET:/orders/"); !ok {
		t.Fatal("cache entry missing after GET")
	}

	// The mutation fails, but related entries must already be gone:
	// a failed write must not leave stale reads that look fresh.
	backend.setFail(true)
	_, _, err := coord.Request(ctx, "/orders/", Options{Method: http.MethodPost, Body: map[string]string{}})
	if err == nil {
		t.Fatal("expected mutation to fail")
	}
	if _, ok := store.Get("GET:/orders/"); ok {
		t.Error("related cache entry survived a mutation")
	}
}

func TestFallbackToCacheOnNetworkFailure(t *testing.T) {
	backend := newTestBackend(t, `{"count":2,"results":[]}`)
	coord, _, bus := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	sub, err := bus.Subscribe(events.CacheFallback)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	opts := Options{UseCache: true, CacheTTL: time.Minute, FallbackToCache: true}
	if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	backend.setFail(true)
	// Bypass forces a network attempt; the failure then falls back. The
	// stale payload travels with the failure so pollers can back off.
	opts.BypassCache = true
	data, stale, err := coord.Request(ctx, "/orders/", opts)
	if !stale {
		t.Error("fallback result should be flagged stale")
	}
	if string(data) != `{"count":2,"results":[]}` {
		t.Errorf("fallback body = %s, want primed value", data)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindServer {
		t.Errorf("fallback err = %v, want the KindServer failure alongside the data", err)
	}

	select {
	case evt := <-sub.C:
		if evt.Endpoint != "/orders/" {
			t.Errorf("cache-fallback endpoint = %q", evt.Endpoint)
		}
	case <-time.After(time.Second):
		t.Error("no cache-fallback event published")
	}
}

func TestNoFallbackWithoutPriorCacheEntry(t *testing.T) {
	backend := newTestBackend(t, `{}`)
	backend.setFail(true)
	coord, _, bus := newTestCoordinator(t, backend.srv.URL)

	sub, err := bus.Subscribe(events.APIError)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	_, _, err = coord.Request(context.Background(), "/orders/", Options{FallbackToCache: true})
	if err == nil {
		t.Fatal("expected the original error when no cache entry exists")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindServer {
		t.Errorf("error = %v, want KindServer APIError", err)
	}

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Error("no api-error event published")
	}
}

func TestSuccessPublishesAPISuccessEvent(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, _, bus := newTestCoordinator(t, backend.srv.URL)

	sub, err := bus.Subscribe(events.APISuccess)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if _, _, err := coord.Request(context.Background(), "/orders/", Options{}); err != nil {
		t.Fatalf("request: %v", err)
	}

	select {
	case evt := <-sub.C:
		if evt.Endpoint != "/orders/" {
			t.Errorf("api-success endpoint = %q", evt.Endpoint)
		}
		if string(evt.Payload) != `{"count":0,"results":[]}` {
			t.Errorf("api-success payload = %s", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Error("no api-success event published")
	}
}

func TestNetworkOnlineClearsCache(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, store, bus := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	if _, _, err := coord.Request(ctx, "/orders/", Options{UseCache: true}); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if store.Len() == 0 {
		t.Fatal("cache should have an entry")
	}

	if err := bus.Publish(events.Event{Type: events.NetworkOnline}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("cache not cleared after network-online event")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNoFallbackForAuthOrValidationFailures(t *testing.T) {
	backend := newTestBackend(t, `{"count":2,"results":[]}`)
	coord, _, _ := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	opts := Options{UseCache: true, CacheTTL: time.Minute, FallbackToCache: true}
	if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	opts.BypassCache = true

	// A warm cache must not mask a rejected token: the caller needs the
	// 401 to trigger re-authentication.
	backend.setFailStatus(http.StatusUnauthorized)
	data, stale, err := coord.Request(ctx, "/orders/", opts)
	if data != nil || stale {
		t.Errorf("auth failure served stale data (stale=%v)", stale)
	}
	if !IsAuthExpired(err) {
		t.Errorf("err = %v, want auth-expired", err)
	}

	backend.setFailStatus(http.StatusUnprocessableEntity)
	data, stale, err = coord.Request(ctx, "/orders/", opts)
	if data != nil || stale {
		t.Errorf("validation failure served stale data (stale=%v)", stale)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindValidation {
		t.Errorf("err = %v, want KindValidation", err)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCacheHitCountedOnce(t *testing.T) {
	backend := newTestBackend(t, `{"count":0,"results":[]}`)
	coord, _, _ := newTestCoordinator(t, backend.srv.URL)
	ctx := context.Background()

	opts := Options{UseCache: true, CacheTTL: time.Minute}
	if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	before := counterValue(t, metrics.CacheHits)
	if _, _, err := coord.Request(ctx, "/orders/", opts); err != nil {
		t.Fatalf("cached request: %v", err)
	}
	if got := counterValue(t, metrics.CacheHits) - before; got != 1 {
		t.Errorf("cache hit increment = %v, want exactly 1", got)
	}
}
