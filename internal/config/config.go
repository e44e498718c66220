// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package config provides layered configuration for ordersync: built-in
// defaults, an optional YAML file, and environment variable overrides, loaded
// with koanf v2.
package config

import "time"

// Config is the root configuration for the daemon.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Auth      AuthConfig      `koanf:"auth"`
	Poll      PollConfig      `koanf:"poll"`
	Push      PushConfig      `koanf:"push"`
	Session   SessionConfig   `koanf:"session"`
	Snapshot  SnapshotConfig  `koanf:"snapshot"`
	Broadcast BroadcastConfig `koanf:"broadcast"`
	Ops       OpsConfig       `koanf:"ops"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// APIConfig configures the order-management REST backend connection.
type APIConfig struct {
	// BaseURL is the backend root, e.g. https://api.example.com/v1
	BaseURL string `koanf:"base_url"`

	// Timeout is the default per-request timeout.
	Timeout time.Duration `koanf:"timeout"`

	// CacheTTL is the default freshness window for cached GET responses.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// RateLimit caps outgoing requests per second (0 disables limiting).
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the limiter's burst allowance.
	RateBurst int `koanf:"rate_burst"`

	// BreakerEnabled wraps the API client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`

	// PingInterval paces the backend connectivity probe that detects
	// offline-to-online transitions.
	PingInterval time.Duration `koanf:"ping_interval"`
}

// AuthConfig configures bearer-token handling.
type AuthConfig struct {
	// Mode selects the token provider: "static" (token from config/env) or
	// "stored" (persisted, encrypted at rest).
	Mode string `koanf:"mode"`

	// Token is the bearer token for static mode.
	Token string `koanf:"token"`

	// EncryptionSecret derives the AES key protecting stored tokens.
	// Required in stored mode.
	EncryptionSecret string `koanf:"encryption_secret"`
}

// PollConfig configures the polling coordinator.
type PollConfig struct {
	// ScanInterval is the shared scheduler tick.
	ScanInterval time.Duration `koanf:"scan_interval"`

	// OrdersInterval, MenuInterval, PaymentsInterval, AuditInterval are the
	// base poll intervals per feed.
	OrdersInterval   time.Duration `koanf:"orders_interval"`
	MenuInterval     time.Duration `koanf:"menu_interval"`
	PaymentsInterval time.Duration `koanf:"payments_interval"`
	AuditInterval    time.Duration `koanf:"audit_interval"`

	// BackoffFactor multiplies the interval after each failure.
	BackoffFactor float64 `koanf:"backoff_factor"`

	// MaxInterval bounds backoff growth.
	MaxInterval time.Duration `koanf:"max_interval"`

	// MaxRetries is the consecutive-failure count that suspends a poller.
	MaxRetries int `koanf:"max_retries"`

	// Cooldown is how long a suspended poller sleeps before auto-resuming.
	Cooldown time.Duration `koanf:"cooldown"`

	// HiddenFactor scales intervals while the application is backgrounded.
	HiddenFactor float64 `koanf:"hidden_factor"`

	// Timeout is the per-poll request timeout.
	Timeout time.Duration `koanf:"timeout"`
}

// PushConfig configures the websocket push channel.
type PushConfig struct {
	Enabled bool `koanf:"enabled"`

	// HeartbeatInterval is how often a client heartbeat is sent.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// HeartbeatTimeout forces a reconnect when no ack arrives within it.
	HeartbeatTimeout time.Duration `koanf:"heartbeat_timeout"`

	// ReconnectBaseDelay and ReconnectMaxDelay bound the backoff between
	// reconnection attempts.
	ReconnectBaseDelay time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `koanf:"reconnect_max_delay"`

	// ReconnectMaxAttempts gives up after this many consecutive failures
	// (0 = never give up).
	ReconnectMaxAttempts int `koanf:"reconnect_max_attempts"`
}

// SessionConfig configures real-time sync sessions.
type SessionConfig struct {
	// PatchTTL bounds how long an unconfirmed optimistic patch stays
	// visible.
	PatchTTL time.Duration `koanf:"patch_ttl"`

	// PersistSnapshots saves last-known-good feed data for offline starts.
	PersistSnapshots bool `koanf:"persist_snapshots"`
}

// SnapshotConfig configures the persistent store.
type SnapshotConfig struct {
	// Path is the badger directory. Empty runs in memory.
	Path string `koanf:"path"`
}

// BroadcastConfig configures the optional cross-instance relay.
type BroadcastConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// OpsConfig configures the local observability HTTP server.
type OpsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`

	// CORSOrigins are allowed origins for the status API.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
