// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package client talks to the order-management backend. The HTTPTransport
// performs single requests; the Coordinator layers caching, in-flight
// de-duplication, stale fallback, and event publication on top of it.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/platewise/ordersync/internal/auth"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/logging"
)

// Transport performs one backend request and returns the raw response body.
type Transport interface {
	Do(ctx context.Context, method, endpoint string, body any) ([]byte, error)
}

// HTTPTransport is the direct REST transport.
type HTTPTransport struct {
	baseURL    string
	tokens     auth.TokenProvider
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPTransport builds the transport. The configured timeout is a
// backstop; per-request deadlines come from the caller's context.
func NewHTTPTransport(cfg config.APIConfig, tokens auth.TokenProvider) *HTTPTransport {
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return &HTTPTransport{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
	}
}

// errorBody is the backend's error envelope. Both `detail` (DRF style) and
// `message` are accepted.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

func (t *HTTPTransport) Do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, &APIError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
		}
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, &APIError{Kind: KindValidation, Endpoint: endpoint, Err: fmt.Errorf("encode request body: %w", err)}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := t.tokens.Token(ctx)
	if err != nil {
		// ErrNoToken and ErrTokenExpired both mean the request cannot
		// authenticate; neither is retryable with the current credential.
		return nil, &APIError{Kind: KindAuthExpired, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		kind := KindNetwork
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			kind = KindTimeout
		}
		return nil, &APIError{Kind: kind, Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: KindNetwork, Endpoint: endpoint, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			Kind:     kindForStatus(resp.StatusCode),
			Status:   resp.StatusCode,
			Endpoint: endpoint,
		}
		var eb errorBody
		if json.Unmarshal(respBody, &eb) == nil {
			if eb.Detail != "" {
				apiErr.Message = eb.Detail
			} else if eb.Message != "" {
				apiErr.Message = eb.Message
			}
		}
		if apiErr.Kind == KindAuthExpired {
			t.tokens.SignalExpired()
			logging.Warn().Str("endpoint", endpoint).Msg("Backend rejected bearer token")
		}
		return nil, apiErr
	}

	return respBody, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

var _ Transport = (*HTTPTransport)(nil)

// probeTimeout bounds the connectivity probe.
const probeTimeout = 3 * time.Second

// Ping checks backend reachability without authentication side effects
// beyond a normal request.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := t.Do(ctx, http.MethodGet, "/health/", nil)
	return err
}
