// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package main

import (
	"context"
	"time"

	"github.com/platewise/ordersync/internal/client"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/poller"
)

// feedService owns a background poll subscription for a secondary feed
// (menu, payments, audit). The poll itself warms the cache and publishes
// api-success events; the service just drains and logs updates.
type feedService struct {
	pollers  *poller.Coordinator
	coord    *client.Coordinator
	endpoint string
	interval time.Duration
	cacheTTL time.Duration
}

func newFeedService(pollers *poller.Coordinator, coord *client.Coordinator, endpoint string, interval, cacheTTL time.Duration) *feedService {
	return &feedService{
		pollers:  pollers,
		coord:    coord,
		endpoint: endpoint,
		interval: interval,
		cacheTTL: cacheTTL,
	}
}

func (f *feedService) Serve(ctx context.Context) error {
	sub := f.pollers.Subscribe(f.endpoint, f.interval, func(ctx context.Context) ([]byte, error) {
		data, _, err := f.coord.Request(ctx, f.endpoint, client.PollOptions(f.cacheTTL))
		return data, err
	})
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-sub.C:
			if !ok {
				return nil
			}
			if u.Err != nil {
				logging.Debug().Str("endpoint", f.endpoint).Err(u.Err).Msg("Feed poll failed")
			}
		}
	}
}

func (f *feedService) String() string { return "feed" + f.endpoint }
