// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in priority order.
var DefaultConfigPaths = []string{
	"ordersync.yaml",
	"ordersync.yml",
	"/etc/ordersync/config.yaml",
	"/etc/ordersync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "ORDERSYNC_CONFIG"

// envPrefix is stripped from environment variables before mapping them to
// config paths: ORDERSYNC_API_BASE_URL -> api.base_url.
const envPrefix = "ORDERSYNC_"

// Default returns a Config with all built-in defaults applied.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "",
			Timeout:        8 * time.Second,
			CacheTTL:       30 * time.Second,
			RateLimit:      10,
			RateBurst:      20,
			BreakerEnabled: true,
			PingInterval:   10 * time.Second,
		},
		Auth: AuthConfig{
			Mode: "static",
		},
		Poll: PollConfig{
			ScanInterval:     500 * time.Millisecond,
			OrdersInterval:   2 * time.Second,
			MenuInterval:     30 * time.Second,
			PaymentsInterval: 5 * time.Second,
			AuditInterval:    time.Minute,
			BackoffFactor:    2.0,
			MaxInterval:      30 * time.Second,
			MaxRetries:       3,
			Cooldown:         5 * time.Second,
			HiddenFactor:     2.0,
			Timeout:          5 * time.Second,
		},
		Push: PushConfig{
			Enabled:              true,
			HeartbeatInterval:    15 * time.Second,
			HeartbeatTimeout:     30 * time.Second,
			ReconnectBaseDelay:   time.Second,
			ReconnectMaxDelay:    30 * time.Second,
			ReconnectMaxAttempts: 0, // keep trying
		},
		Session: SessionConfig{
			PatchTTL:         10 * time.Second,
			PersistSnapshots: true,
		},
		Snapshot: SnapshotConfig{
			Path: "", // in-memory unless configured
		},
		Broadcast: BroadcastConfig{
			Enabled: false,
			URL:     "nats://127.0.0.1:4222",
			Subject: "ordersync.broadcast",
		},
		Ops: OpsConfig{
			Enabled:         true,
			Host:            "127.0.0.1",
			Port:            9180,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load reads configuration from three layers, later layers overriding
// earlier ones:
//  1. built-in defaults
//  2. optional YAML config file
//  3. ORDERSYNC_* environment variables
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when set via env vars.
var sliceConfigPaths = []string{
	"ops.cors_origins",
}

// processSliceFields converts comma-separated env strings into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransform maps ORDERSYNC_* variables to koanf paths. The first segment
// selects the section; the rest becomes a snake_case key:
//
//	ORDERSYNC_API_BASE_URL    -> api.base_url
//	ORDERSYNC_POLL_MAX_RETRIES -> poll.max_retries
//	ORDERSYNC_OPS_PORT        -> ops.port
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	sections := []string{"api", "auth", "poll", "push", "session", "snapshot", "broadcast", "ops", "logging"}
	for _, section := range sections {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	// Unrecognized variables are ignored by Unmarshal.
	return key
}
