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
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/platewise/ordersync/internal/auth"
	"github.com/platewise/ordersync/internal/cache"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/models"
)

func newTestAPI(t *testing.T, handler http.Handler) (*API, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	bus := events.NewBus()
	t.Cleanup(func() { _ = bus.Close() })
	transport := NewHTTPTransport(config.APIConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	}, auth.NewStaticProvider("test-token"))
	coord, err := NewCoordinator(transport, cache.New(), bus, 10*time.Second, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	t.Cleanup(coord.Close)
	return NewAPI(coord), &hits
}

func TestListOrdersDecodesPage(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/" {
			t.Errorf("path = %q, want /orders/", r.URL.Path)
		}
		next := "/orders/?cursor=abc"
		_ = json.NewEncoder(w).Encode(models.Page[models.Order]{
			Count: 1,
			Next:  &next,
			Results: []models.Order{
				{ID: "o1", Status: models.OrderPending, TotalCents: 1250},
			},
		})
	}))

	page, stale, err := api.ListOrders(context.Background(), "", Options{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if stale {
		t.Error("direct fetch should not be stale")
	}
	if page.Count != 1 || len(page.Results) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Results[0].ID != "o1" || page.Results[0].TotalCents != 1250 {
		t.Errorf("order = %+v", page.Results[0])
	}
	if page.Next == nil || *page.Next != "/orders/?cursor=abc" {
		t.Errorf("next = %v", page.Next)
	}
}

func TestListOrdersCursor(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cursor"); got != "abc" {
			t.Errorf("cursor = %q, want abc", got)
		}
		_ = json.NewEncoder(w).Encode(models.Page[models.Order]{})
	}))
	if _, _, err := api.ListOrders(context.Background(), "abc", Options{}); err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
}

func TestCreateOrderValidatesBeforeNetwork(t *testing.T) {
	api, hits := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.Order{ID: "o1"})
	}))

	_, err := api.CreateOrder(context.Background(), CreateOrderRequest{
		TableNumber: 4,
		Items:       nil, // at least one item required
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindValidation {
		t.Fatalf("error = %v, want KindValidation", err)
	}
	if hits.Load() != 0 {
		t.Errorf("network calls = %d, want 0 for local validation failure", hits.Load())
	}

	order, err := api.CreateOrder(context.Background(), CreateOrderRequest{
		TableNumber: 4,
		Items:       []OrderItemRequest{{MenuItemID: "m1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("valid CreateOrder: %v", err)
	}
	if order.ID != "o1" {
		t.Errorf("order ID = %q", order.ID)
	}
}

func TestUpdateOrderStatusSendsPatch(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if r.URL.Path != "/orders/o1/" {
			t.Errorf("path = %q, want /orders/o1/", r.URL.Path)
		}
		var req UpdateOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Status == nil || *req.Status != "ready" {
			t.Errorf("status = %v, want ready", req.Status)
		}
		_ = json.NewEncoder(w).Encode(models.Order{ID: "o1", Status: models.OrderReady})
	}))

	order, err := api.UpdateOrderStatus(context.Background(), "o1", models.OrderReady)
	if err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}
	if order.Status != models.OrderReady {
		t.Errorf("status = %q", order.Status)
	}
}

func TestCreatePaymentRejectsBadMethod(t *testing.T) {
	api, hits := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	_, err := api.CreatePayment(context.Background(), CreatePaymentRequest{
		OrderID:     "o1",
		Method:      "barter",
		AmountCents: 100,
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindValidation {
		t.Fatalf("error = %v, want KindValidation", err)
	}
	if hits.Load() != 0 {
		t.Error("invalid payment should not reach the network")
	}
}

func TestDecodeMalformedResponse(t *testing.T) {
	api, _ := newTestAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json at all`))
	}))
	_, _, err := api.ListOrders(context.Background(), "", Options{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != KindServer {
		t.Errorf("error = %v, want KindServer for malformed body", err)
	}
}
