// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package client

import (
	"net/http"
	"time"
)

// Options controls a single coordinated request. The zero value is a plain
// GET with the coordinator's default timeout and no caching.
type Options struct {
	// Method defaults to GET when empty.
	Method string

	// Body is marshaled as the JSON request body for mutations.
	Body any

	// UseCache serves valid cached responses for GETs and stores fresh
	// responses on success.
	UseCache bool

	// CacheTTL is the freshness window for this request. Zero uses the
	// coordinator default.
	CacheTTL time.Duration

	// BypassCache skips the cache-read step but still stores the fresh
	// response when UseCache is set.
	BypassCache bool

	// FallbackToCache returns a stale cached value when the network call
	// fails, instead of the error.
	FallbackToCache bool

	// Timeout bounds the network call. Zero uses the coordinator default.
	Timeout time.Duration
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

func (o Options) isMutation() bool {
	return o.method() != http.MethodGet
}

// PollOptions is the standard shape for background feed polls: cached,
// stale-tolerant reads.
func PollOptions(ttl time.Duration) Options {
	return Options{
		UseCache:        true,
		CacheTTL:        ttl,
		FallbackToCache: true,
	}
}
