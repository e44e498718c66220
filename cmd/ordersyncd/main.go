// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// ordersyncd keeps a waitstation's local view of the restaurant backend in
// sync: background polling with backoff, websocket push, an offline-tolerant
// cache, and a local ops API.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platewise/ordersync/internal/auth"
	"github.com/platewise/ordersync/internal/cache"
	"github.com/platewise/ordersync/internal/client"
	"github.com/platewise/ordersync/internal/clock"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/events"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/ops"
	"github.com/platewise/ordersync/internal/poller"
	"github.com/platewise/ordersync/internal/session"
	"github.com/platewise/ordersync/internal/snapshot"
	"github.com/platewise/ordersync/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("base_url", cfg.API.BaseURL).Msg("Starting ordersyncd")

	// Persistent store: feed snapshots and encrypted credentials.
	var snaps *snapshot.Store
	if cfg.Snapshot.Path != "" {
		snaps, err = snapshot.Open(cfg.Snapshot.Path)
	} else {
		snaps, err = snapshot.OpenInMemory()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer func() { _ = snaps.Close() }()

	tokens, err := buildTokenProvider(cfg, snaps)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build token provider")
	}

	bus := events.NewBus()
	defer func() { _ = bus.Close() }()

	store := cache.New()

	httpTransport := client.NewHTTPTransport(cfg.API, tokens)
	var transport client.Transport = httpTransport
	if cfg.API.BreakerEnabled {
		transport = client.NewBreakerTransport(httpTransport)
	}

	coord, err := client.NewCoordinator(transport, store, bus, cfg.API.CacheTTL, cfg.API.Timeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build request coordinator")
	}
	defer coord.Close()
	api := client.NewAPI(coord)

	pollers := poller.NewCoordinator(cfg.Poll, clock.Real{})

	orders := session.New(session.Config{
		Coordinator: coord,
		Poller:      pollers,
		Snapshots:   snaps,
		Bus:         bus,
		Session:     cfg.Session,
		Interval:    cfg.Poll.OrdersInterval,
		CacheTTL:    cfg.API.CacheTTL,
	})

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(pollers)
	tree.AddSyncService(orders)

	// The probe bypasses the breaker so recovery is seen while it is open.
	tree.AddSyncService(client.NewConnectivityWatcher(httpTransport, bus, cfg.API.PingInterval))

	// Secondary feeds keep the cache warm and surface on the status API.
	for _, f := range []struct {
		endpoint string
		interval time.Duration
	}{
		{client.EndpointMenu, cfg.Poll.MenuInterval},
		{client.EndpointPayments, cfg.Poll.PaymentsInterval},
		{client.EndpointAudit, cfg.Poll.AuditInterval},
	} {
		tree.AddSyncService(newFeedService(pollers, coord, f.endpoint, f.interval, cfg.API.CacheTTL))
	}

	if cfg.Push.Enabled {
		wsURL, err := session.DeriveWSURL(cfg.API.BaseURL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to derive websocket URL")
		}
		push := session.NewPushChannel(wsURL, tokens, cfg.Push, orders.HandlePush, orders.SetPushConnected)
		tree.AddSyncService(push)
	}

	if cfg.Broadcast.Enabled {
		bcfg := events.DefaultBroadcasterConfig()
		bcfg.URL = cfg.Broadcast.URL
		if cfg.Broadcast.Subject != "" {
			bcfg.Subject = cfg.Broadcast.Subject
		}
		tree.AddSyncService(events.NewBroadcaster(bus, bcfg))
	}

	if cfg.Ops.Enabled {
		tree.AddAPIService(ops.NewServer(cfg.Ops, pollers, orders, api, store, bus))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("ordersyncd stopped")
}

func buildTokenProvider(cfg *config.Config, snaps *snapshot.Store) (auth.TokenProvider, error) {
	switch cfg.Auth.Mode {
	case "stored":
		enc, err := config.NewCredentialEncryptor(cfg.Auth.EncryptionSecret)
		if err != nil {
			return nil, err
		}
		return auth.NewStoredProvider(snaps, enc)
	default:
		return auth.NewStaticProvider(cfg.Auth.Token), nil
	}
}
