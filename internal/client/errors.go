// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies API failures for retry and surfacing decisions.
type ErrorKind int

const (
	// KindNetwork is a transport-level failure: connection refused, DNS,
	// reset. Retryable.
	KindNetwork ErrorKind = iota

	// KindTimeout is a request that exceeded its deadline. Retryable.
	KindTimeout

	// KindAuthExpired is a 401. Never retried; retrying with the same
	// token cannot succeed.
	KindAuthExpired

	// KindValidation is a 4xx other than 401. Not retried; surfaced to
	// the caller as-is.
	KindValidation

	// KindServer is a 5xx. Retryable.
	KindServer
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAuthExpired:
		return "auth_expired"
	case KindValidation:
		return "validation"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// APIError is the typed error returned by the client for request failures.
type APIError struct {
	Kind     ErrorKind
	Status   int    // HTTP status, 0 for transport failures
	Endpoint string // request path
	Message  string // backend-provided detail, if any
	Err      error  // underlying cause
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("%s %s: %s (status %d)", e.Kind, e.Endpoint, e.Message, e.Status)
	case e.Status > 0:
		return fmt.Sprintf("%s %s: status %d", e.Kind, e.Endpoint, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	default:
		return fmt.Sprintf("%s %s", e.Kind, e.Endpoint)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: network, timeout, and
// server errors feed the polling backoff machinery; auth and validation
// errors do not.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a transient API failure.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}

// IsAuthExpired reports whether err is a 401-equivalent failure.
func IsAuthExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthExpired
}

// kindForStatus maps an HTTP status to an error kind. Callers ensure the
// status is an error status (>= 400).
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuthExpired
	case status >= 400 && status < 500:
		return KindValidation
	default:
		return KindServer
	}
}
