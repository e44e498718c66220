// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/platewise/ordersync/internal/models"
)

// Backend endpoint paths. Trailing slashes match the backend's routing.
const (
	EndpointOrders   = "/orders/"
	EndpointMenu     = "/menu/items/"
	EndpointPayments = "/payments/"
	EndpointAudit    = "/audit/log/"
)

// API is the typed surface over the Coordinator. Read methods report
// staleness so callers can flag degraded data; mutations never serve stale
// results.
type API struct {
	coord *Coordinator
}

// NewAPI wraps a coordinator.
func NewAPI(coord *Coordinator) *API {
	return &API{coord: coord}
}

// decode runs a coordinated request and unmarshals the response.
func decode[T any](ctx context.Context, c *Coordinator, endpoint string, opts Options) (T, bool, error) {
	var out T
	data, stale, err := c.Request(ctx, endpoint, opts)
	if err != nil && !stale {
		return out, false, err
	}
	// A stale fallback resolves with the cached value; the stale flag is
	// the caller's degradation signal.
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false, &APIError{
			Kind:     KindServer,
			Endpoint: endpoint,
			Message:  "malformed response body",
			Err:      err,
		}
	}
	return out, stale, nil
}

// ListOrders fetches the orders feed. Cursor is an opaque pagination token
// from a previous page's Next field; empty means the first page.
func (a *API) ListOrders(ctx context.Context, cursor string, opts Options) (models.Page[models.Order], bool, error) {
	endpoint := EndpointOrders
	if cursor != "" {
		endpoint += "?cursor=" + url.QueryEscape(cursor)
	}
	return decode[models.Page[models.Order]](ctx, a.coord, endpoint, opts)
}

// GetOrder fetches a single order by ID.
func (a *API) GetOrder(ctx context.Context, id string, opts Options) (models.Order, bool, error) {
	return decode[models.Order](ctx, a.coord, fmt.Sprintf("%s%s/", EndpointOrders, url.PathEscape(id)), opts)
}

// CreateOrder submits a new order. User-initiated: errors propagate to the
// caller, never a stale fallback.
func (a *API) CreateOrder(ctx context.Context, req CreateOrderRequest) (models.Order, error) {
	if err := checkPayload(EndpointOrders, req); err != nil {
		return models.Order{}, err
	}
	order, _, err := decode[models.Order](ctx, a.coord, EndpointOrders, Options{
		Method: http.MethodPost,
		Body:   req,
	})
	return order, err
}

// UpdateOrder patches an existing order.
func (a *API) UpdateOrder(ctx context.Context, id string, req UpdateOrderRequest) (models.Order, error) {
	endpoint := fmt.Sprintf("%s%s/", EndpointOrders, url.PathEscape(id))
	if err := checkPayload(endpoint, req); err != nil {
		return models.Order{}, err
	}
	order, _, err := decode[models.Order](ctx, a.coord, endpoint, Options{
		Method: http.MethodPatch,
		Body:   req,
	})
	return order, err
}

// UpdateOrderStatus is the common single-field transition (e.g. preparing
// to ready).
func (a *API) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus) (models.Order, error) {
	s := string(status)
	return a.UpdateOrder(ctx, id, UpdateOrderRequest{Status: &s})
}

// DeleteOrder cancels and removes an order.
func (a *API) DeleteOrder(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("%s%s/", EndpointOrders, url.PathEscape(id))
	_, _, err := a.coord.Request(ctx, endpoint, Options{Method: http.MethodDelete})
	return err
}

// ListMenu fetches the menu feed.
func (a *API) ListMenu(ctx context.Context, opts Options) (models.Page[models.MenuItem], bool, error) {
	return decode[models.Page[models.MenuItem]](ctx, a.coord, EndpointMenu, opts)
}

// ListPayments fetches the payments feed.
func (a *API) ListPayments(ctx context.Context, opts Options) (models.Page[models.Payment], bool, error) {
	return decode[models.Page[models.Payment]](ctx, a.coord, EndpointPayments, opts)
}

// CreatePayment records a payment. User-initiated.
func (a *API) CreatePayment(ctx context.Context, req CreatePaymentRequest) (models.Payment, error) {
	if err := checkPayload(EndpointPayments, req); err != nil {
		return models.Payment{}, err
	}
	payment, _, err := decode[models.Payment](ctx, a.coord, EndpointPayments, Options{
		Method: http.MethodPost,
		Body:   req,
	})
	return payment, err
}

// ListAudit fetches the audit trail feed.
func (a *API) ListAudit(ctx context.Context, opts Options) (models.Page[models.AuditEntry], bool, error) {
	return decode[models.Page[models.AuditEntry]](ctx, a.coord, EndpointAudit, opts)
}
