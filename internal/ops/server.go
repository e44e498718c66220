// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package ops serves the local HTTP API: health, Prometheus metrics, sync
// status, order and payment mutations (applied optimistically to the session
// before the backend confirms), and operator actions (visibility, cache
// clear).
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platewise/ordersync/internal/cache"
	"github.com/platewise/ordersync/internal/client"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/models"
	"github.com/platewise/ordersync/internal/poller"
	"github.com/platewise/ordersync/internal/session"
)

// Server is the ops HTTP server, run under the supervision tree.
type Server struct {
	cfg     config.OpsConfig
	pollers *poller.Coordinator
	orders  *session.Session
	api     *client.API
	store   *cache.Store
	bus     *events.Bus

	srv *http.Server
}

// NewServer wires the routes.
func NewServer(cfg config.OpsConfig, pollers *poller.Coordinator, orders *session.Session, api *client.API, store *cache.Store, bus *events.Bus) *Server {
	s := &Server{
		cfg:     cfg,
		pollers: pollers,
		orders:  orders,
		api:     api,
		store:   store,
		bus:     bus,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/orders", s.handleOrders)
		r.Post("/orders", s.handleCreateOrder)
		r.Patch("/orders/{id}", s.handleUpdateOrder)
		r.Delete("/orders/{id}", s.handleDeleteOrder)
		r.Post("/payments", s.handleCreatePayment)
		r.Post("/visibility", s.handleVisibility)
		r.Post("/cache/clear", s.handleCacheClear)
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve runs the server until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.srv.Addr).Msg("Ops server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) String() string { return "ops-server" }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pollerStatus is the wire shape of one endpoint's scheduling state.
type pollerStatus struct {
	Endpoint          string `json:"endpoint"`
	State             string `json:"state"`
	IntervalMS        int64  `json:"interval_ms"`
	BaseIntervalMS    int64  `json:"base_interval_ms"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	LastRunAt         string `json:"last_run_at,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

type statusResponse struct {
	Pollers        []pollerStatus `json:"pollers"`
	PushConnected  bool           `json:"push_connected"`
	Stale          bool           `json:"stale"`
	PendingPatches int            `json:"pending_patches"`
	CacheEntries   int            `json:"cache_entries"`
	OrderCount     int            `json:"order_count"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	states := s.pollers.Snapshot()
	pollers := make([]pollerStatus, 0, len(states))
	for _, st := range states {
		p := pollerStatus{
			Endpoint:          st.Endpoint,
			State:             st.State.String(),
			IntervalMS:        st.Interval.Milliseconds(),
			BaseIntervalMS:    st.BaseInterval.Milliseconds(),
			ConsecutiveErrors: st.ConsecutiveErrors,
		}
		if !st.LastRunAt.IsZero() {
			p.LastRunAt = st.LastRunAt.UTC().Format(time.RFC3339)
		}
		if st.LastErr != nil {
			p.LastError = st.LastErr.Error()
		}
		pollers = append(pollers, p)
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Pollers:        pollers,
		PushConnected:  s.orders.PushConnected(),
		Stale:          s.orders.Stale(),
		PendingPatches: s.orders.PendingPatches(),
		CacheEntries:   s.store.Len(),
		OrderCount:     len(s.orders.Snapshot()),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stale":  s.orders.Stale(),
		"orders": s.orders.Snapshot(),
	})
}

// handleCreateOrder submits a new order. The order appears in the session
// view optimistically before the backend confirms; user-initiated failures
// surface in the response rather than falling back to cached data.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req client.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	patchID := s.orders.OptimisticCreate(orderFromCreate(req))
	order, err := s.api.CreateOrder(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.publishOrderEvent(events.OrderCreated, order)
	writeJSON(w, http.StatusCreated, map[string]any{"order": order, "patch_id": patchID})
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req client.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	patchID := s.orders.OptimisticUpdate(id, patchFromUpdate(req))
	order, err := s.api.UpdateOrder(r.Context(), id, req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.publishOrderEvent(events.OrderUpdated, order)
	writeJSON(w, http.StatusOK, map[string]any{"order": order, "patch_id": patchID})
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.api.DeleteOrder(r.Context(), id); err != nil {
		writeAPIError(w, err)
		return
	}
	s.publishOrderEvent(events.OrderDeleted, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	var req client.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	payment, err := s.api.CreatePayment(r.Context(), req)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"payment": payment})
}

// publishOrderEvent announces a confirmed mutation so other instances hear
// about it through the broadcaster.
func (s *Server) publishOrderEvent(eventType string, payload any) {
	if err := s.bus.PublishJSON(eventType, client.EndpointOrders, payload); err != nil {
		logging.Error().Str("type", eventType).Err(err).Msg("Failed to publish order event")
	}
}

// orderFromCreate shapes the optimistic view of a not-yet-confirmed order.
// Prices are unknown until the backend responds; the overlay carries zeros.
func orderFromCreate(req client.CreateOrderRequest) models.Order {
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, models.OrderItem{
			MenuItemID: it.MenuItemID,
			Quantity:   it.Quantity,
			Notes:      it.Notes,
		})
	}
	return models.Order{
		Status:        models.OrderPending,
		TableNumber:   req.TableNumber,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Items:         items,
		Notes:         req.Notes,
	}
}

func patchFromUpdate(req client.UpdateOrderRequest) session.OrderPatch {
	var p session.OrderPatch
	if req.Status != nil {
		status := models.OrderStatus(*req.Status)
		p.Status = &status
	}
	p.Notes = req.Notes
	if req.Items != nil {
		items := make([]models.OrderItem, 0, len(*req.Items))
		for _, it := range *req.Items {
			items = append(items, models.OrderItem{
				MenuItemID: it.MenuItemID,
				Quantity:   it.Quantity,
				Notes:      it.Notes,
			})
		}
		p.Items = items
	}
	return p
}

// writeAPIError maps the request layer's error taxonomy onto response
// statuses for user-initiated actions.
func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status != 0:
			status = apiErr.Status
		case apiErr.Kind == client.KindValidation:
			status = http.StatusBadRequest
		case apiErr.Kind == client.KindAuthExpired:
			status = http.StatusUnauthorized
		case apiErr.Kind == client.KindTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

// handleVisibility lets the operator throttle polling while the station is
// unattended, the daemon's analog of a backgrounded tab.
func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	s.pollers.SetVisibility(req.Visible)
	writeJSON(w, http.StatusOK, map[string]bool{"visible": req.Visible})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	if err := s.bus.Publish(events.Event{Type: events.CacheCleared}); err != nil {
		logging.Error().Err(err).Msg("Failed to publish cache-cleared event")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}
