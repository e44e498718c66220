// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package models defines the wire types exchanged with the order-management
// REST backend and the push channel. All monetary amounts are integer cents.
package models

import "time"

// OrderStatus enumerates the lifecycle states of an order as reported by the
// backend.
type OrderStatus string

// Order lifecycle states.
const (
	OrderPending   OrderStatus = "pending"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is a restaurant order as returned by /orders/.
type Order struct {
	ID            string      `json:"id"`
	Number        int         `json:"number,omitempty"`
	Status        OrderStatus `json:"status"`
	TableNumber   int         `json:"table_number,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	Items         []OrderItem `json:"items"`
	TotalCents    int64       `json:"total_cents"`
	Notes         string      `json:"notes,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`

	// Local marks an order that exists only as an unconfirmed optimistic
	// creation. Never set by the backend.
	Local bool `json:"local,omitempty"`
}

// OrderItem is a single line of an order.
type OrderItem struct {
	MenuItemID string `json:"menu_item_id"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitCents  int64  `json:"unit_cents"`
	Notes      string `json:"notes,omitempty"`
}

// MenuItem is an entry of the restaurant menu as returned by /menu/items/.
type MenuItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category"`
	PriceCents  int64     `json:"price_cents"`
	Available   bool      `json:"available"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PaymentStatus enumerates payment processing states.
type PaymentStatus string

// Payment processing states.
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment is a payment record as returned by /payments/.
type Payment struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id"`
	Method      string        `json:"method"`
	AmountCents int64         `json:"amount_cents"`
	Status      PaymentStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// AuditEntry is a row of the backend audit log as returned by /audit/.
type AuditEntry struct {
	ID         string            `json:"id"`
	Actor      string            `json:"actor"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource"`
	ResourceID string            `json:"resource_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}
