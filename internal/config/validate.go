// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks the configuration for values that would make the daemon
// misbehave at runtime rather than fail fast at startup.
func (c *Config) Validate() error {
	var errs []string

	if c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("api.base_url %q is not a valid absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, "api.timeout must be positive")
	}
	if c.API.CacheTTL < 0 {
		errs = append(errs, "api.cache_ttl must not be negative")
	}
	if c.API.PingInterval <= 0 {
		errs = append(errs, "api.ping_interval must be positive")
	}
	if c.API.RateLimit < 0 {
		errs = append(errs, "api.rate_limit must not be negative")
	}
	if c.API.RateLimit > 0 && c.API.RateBurst < 1 {
		errs = append(errs, "api.rate_burst must be at least 1 when rate limiting is enabled")
	}

	switch c.Auth.Mode {
	case "static":
		if c.Auth.Token == "" {
			errs = append(errs, "auth.token is required in static mode")
		}
	case "stored":
		if c.Auth.EncryptionSecret == "" {
			errs = append(errs, "auth.encryption_secret is required in stored mode")
		} else if len(c.Auth.EncryptionSecret) < 16 {
			errs = append(errs, "auth.encryption_secret must be at least 16 characters")
		}
		if c.Snapshot.Path == "" {
			errs = append(errs, "snapshot.path is required in stored auth mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.mode %q is not one of: static, stored", c.Auth.Mode))
	}

	if c.Poll.ScanInterval <= 0 {
		errs = append(errs, "poll.scan_interval must be positive")
	}
	for name, d := range map[string]time.Duration{
		"poll.orders_interval":   c.Poll.OrdersInterval,
		"poll.menu_interval":     c.Poll.MenuInterval,
		"poll.payments_interval": c.Poll.PaymentsInterval,
		"poll.audit_interval":    c.Poll.AuditInterval,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.Poll.BackoffFactor < 1 {
		errs = append(errs, "poll.backoff_factor must be at least 1")
	}
	if c.Poll.MaxInterval <= 0 {
		errs = append(errs, "poll.max_interval must be positive")
	}
	if c.Poll.MaxRetries < 1 {
		errs = append(errs, "poll.max_retries must be at least 1")
	}
	if c.Poll.Cooldown <= 0 {
		errs = append(errs, "poll.cooldown must be positive")
	}
	if c.Poll.HiddenFactor < 1 {
		errs = append(errs, "poll.hidden_factor must be at least 1")
	}
	if c.Poll.Timeout <= 0 {
		errs = append(errs, "poll.timeout must be positive")
	}

	if c.Push.Enabled {
		if c.Push.HeartbeatInterval <= 0 {
			errs = append(errs, "push.heartbeat_interval must be positive")
		}
		if c.Push.HeartbeatTimeout <= c.Push.HeartbeatInterval {
			errs = append(errs, "push.heartbeat_timeout must exceed push.heartbeat_interval")
		}
		if c.Push.ReconnectBaseDelay <= 0 {
			errs = append(errs, "push.reconnect_base_delay must be positive")
		}
		if c.Push.ReconnectMaxDelay < c.Push.ReconnectBaseDelay {
			errs = append(errs, "push.reconnect_max_delay must be at least push.reconnect_base_delay")
		}
		if c.Push.ReconnectMaxAttempts < 0 {
			errs = append(errs, "push.reconnect_max_attempts must not be negative")
		}
	}

	if c.Session.PatchTTL <= 0 {
		errs = append(errs, "session.patch_ttl must be positive")
	}
	if c.Broadcast.Enabled {
		if c.Broadcast.URL == "" {
			errs = append(errs, "broadcast.url is required when broadcast is enabled")
		}
		if c.Broadcast.Subject == "" {
			errs = append(errs, "broadcast.subject is required when broadcast is enabled")
		}
	}

	if c.Ops.Enabled {
		if c.Ops.Port < 1 || c.Ops.Port > 65535 {
			errs = append(errs, fmt.Sprintf("ops.port %d is out of range 1-65535", c.Ops.Port))
		}
		if c.Ops.RateLimitReqs < 1 {
			errs = append(errs, "ops.rate_limit_reqs must be at least 1")
		}
		if c.Ops.RateLimitWindow <= 0 {
			errs = append(errs, "ops.rate_limit_window must be positive")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not a recognized level", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not one of: json, console", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
