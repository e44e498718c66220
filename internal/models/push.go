// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package models

import "github.com/goccy/go-json"

// Push message types recognized on the websocket channel.
const (
	PushOrdersSnapshot = "orders_snapshot" // bulk replace: Data holds []Order
	PushOrderCreated   = "order_created"   // Item holds the new Order
	PushOrderUpdated   = "order_updated"   // Item holds the updated Order
	PushOrderDeleted   = "order_deleted"   // ItemID holds the removed order ID
	PushHeartbeat      = "heartbeat"
	PushHeartbeatAck   = "heartbeat_ack"
)

// PushMessage is the envelope carried on the push channel. Exactly which of
// Data, Item, and ItemID is populated depends on Type.
type PushMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Item      json.RawMessage `json:"item,omitempty"`
	ItemID    string          `json:"item_id,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}
