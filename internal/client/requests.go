// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is shared; validator instances cache struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// OrderItemRequest is one line of a new order.
type OrderItemRequest struct {
	MenuItemID string `json:"menu_item_id" validate:"required"`
	Quantity   int    `json:"quantity"     validate:"required,min=1,max=99"`
	Notes      string `json:"notes,omitempty" validate:"max=500"`
}

// CreateOrderRequest is the payload for opening a new order.
type CreateOrderRequest struct {
	TableNumber   int                `json:"table_number,omitempty"  validate:"min=0,max=999"`
	CustomerName  string             `json:"customer_name,omitempty" validate:"max=200"`
	CustomerPhone string             `json:"customer_phone,omitempty" validate:"max=32"`
	Items         []OrderItemRequest `json:"items"                   validate:"required,min=1,dive"`
	Notes         string             `json:"notes,omitempty"         validate:"max=1000"`
}

// UpdateOrderRequest patches an existing order. Nil fields are untouched.
type UpdateOrderRequest struct {
	Status *string             `json:"status,omitempty" validate:"omitempty,oneof=pending preparing ready delivered paid cancelled"`
	Items  *[]OrderItemRequest `json:"items,omitempty"  validate:"omitempty,min=1,dive"`
	Notes  *string             `json:"notes,omitempty"  validate:"omitempty,max=1000"`
}

// CreatePaymentRequest records a payment against an order.
type CreatePaymentRequest struct {
	OrderID     string `json:"order_id"     validate:"required"`
	Method      string `json:"method"       validate:"required,oneof=cash card mobile"`
	AmountCents int64  `json:"amount_cents" validate:"required,min=1"`
}

// checkPayload validates a mutation payload locally before a network call is
// spent on it. Failures are KindValidation, same as a backend 400.
func checkPayload(endpoint string, payload any) error {
	if err := validate.Struct(payload); err != nil {
		return &APIError{
			Kind:     KindValidation,
			Endpoint: endpoint,
			Message:  validationMessage(err),
			Err:      err,
		}
	}
	return nil
}

// validationMessage flattens validator output into one human-readable line.
func validationMessage(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	return fmt.Sprintf("field %s failed %s validation", fe.Field(), fe.Tag())
}
