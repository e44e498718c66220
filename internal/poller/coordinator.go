// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platewise/ordersync/internal/client"
	"github.com/platewise/ordersync/internal/clock"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
)

// FetchFunc performs one poll of an endpoint and returns the raw payload.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Update is delivered to every subscriber after each poll execution.
// Exactly one of Data and Err is meaningful.
type Update struct {
	Endpoint string
	Data     []byte
	Err      error
}

// Subscription is one consumer's handle on a polled endpoint.
type Subscription struct {
	// C delivers poll results. Slow consumers miss updates rather than
	// stalling the scheduler.
	C <-chan Update

	cancel func()
	once   sync.Once
}

// Unsubscribe detaches the consumer. The last unsubscribe for an endpoint
// destroys its poller state; an in-flight poll result is then discarded.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// endpointPoller is the coordinator's record for one distinct endpoint.
type endpointPoller struct {
	state   *EndpointState
	fetch   FetchFunc
	subs    map[string]chan Update
	running bool
	forced  bool
}

// Coordinator multiplexes any number of subscribers onto one poller per
// distinct endpoint. A single scheduler tick scans all endpoints and runs
// whichever are due.
type Coordinator struct {
	cfg config.PollConfig
	clk clock.Clock

	mu      sync.Mutex
	pollers map[string]*endpointPoller
	hidden  bool
}

// NewCoordinator builds an idle coordinator; Serve starts the scheduler.
func NewCoordinator(cfg config.PollConfig, clk clock.Clock) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		cfg:     cfg,
		clk:     clk,
		pollers: make(map[string]*endpointPoller),
	}
}

func (c *Coordinator) backoff() Backoff {
	return Backoff{
		Factor:      c.cfg.BackoffFactor,
		MaxInterval: c.cfg.MaxInterval,
		MaxRetries:  c.cfg.MaxRetries,
		Cooldown:    c.cfg.Cooldown,
	}
}

// Subscribe registers a consumer for an endpoint. The first subscriber's
// interval and fetch function win; later subscribers share the existing
// poller regardless of the interval they ask for.
func (c *Coordinator) Subscribe(endpoint string, interval time.Duration, fetch FetchFunc) *Subscription {
	id := uuid.NewString()
	ch := make(chan Update, 4)

	c.mu.Lock()
	p, ok := c.pollers[endpoint]
	if !ok {
		p = &endpointPoller{
			state: newEndpointState(endpoint, interval),
			fetch: fetch,
			subs:  make(map[string]chan Update),
		}
		c.pollers[endpoint] = p
		metrics.PollerState.WithLabelValues(endpoint).Set(0)
		metrics.PollerInterval.WithLabelValues(endpoint).Set(interval.Seconds())
		logging.Info().Str("endpoint", endpoint).Dur("interval", interval).Msg("Poller created")
	}
	p.subs[id] = ch
	metrics.PollerSubscribers.WithLabelValues(endpoint).Set(float64(len(p.subs)))
	c.mu.Unlock()

	return &Subscription{
		C:      ch,
		cancel: func() { c.unsubscribe(endpoint, id) },
	}
}

func (c *Coordinator) unsubscribe(endpoint, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pollers[endpoint]
	if !ok {
		return
	}
	if ch, ok := p.subs[id]; ok {
		delete(p.subs, id)
		close(ch)
	}
	metrics.PollerSubscribers.WithLabelValues(endpoint).Set(float64(len(p.subs)))

	if len(p.subs) == 0 {
		delete(c.pollers, endpoint)
		metrics.PollerState.DeleteLabelValues(endpoint)
		metrics.PollerInterval.DeleteLabelValues(endpoint)
		logging.Info().Str("endpoint", endpoint).Msg("Poller destroyed, last subscriber gone")
	}
}

// SetVisibility scales poll frequency with application visibility. Going
// hidden widens every effective interval by the configured factor; becoming
// visible restores full speed and forces one immediate out-of-cycle poll per
// active endpoint.
func (c *Coordinator) SetVisibility(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasHidden := c.hidden
	c.hidden = !visible
	if visible && wasHidden {
		for _, p := range c.pollers {
			if p.state.State != Suspended {
				p.forced = true
			}
		}
		logging.Debug().Msg("Visibility restored; forcing immediate polls")
	}
}

// Serve runs the scheduler until ctx is canceled. It satisfies the
// supervision tree's service contract.
func (c *Coordinator) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()

	logging.Info().Dur("scan_interval", c.cfg.ScanInterval).Msg("Polling coordinator started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Polling coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
			c.scan(ctx)
		}
	}
}

func (c *Coordinator) String() string { return "polling-coordinator" }

// scan runs one scheduler pass: resume cooled-down suspensions, then launch
// every due endpoint that is not already mid-flight.
func (c *Coordinator) scan(ctx context.Context) {
	now := c.clk.Now()
	hiddenFactor := 1.0
	c.mu.Lock()
	if c.hidden {
		hiddenFactor = c.cfg.HiddenFactor
	}

	for endpoint, p := range c.pollers {
		if p.state.maybeResume(now, c.cfg.Cooldown) {
			metrics.PollerState.WithLabelValues(endpoint).Set(0)
			metrics.PollerInterval.WithLabelValues(endpoint).Set(p.state.Interval.Seconds())
			logging.Info().Str("endpoint", endpoint).Msg("Poller resumed after cooldown")
		}
		if p.state.State == Suspended {
			continue
		}
		if !p.forced && !p.state.due(now, hiddenFactor) {
			continue
		}
		if p.running {
			// A previous execution is still in flight; never stack
			// requests for the same endpoint.
			metrics.PollsTotal.WithLabelValues(endpoint, "skipped_overlap").Inc()
			continue
		}
		p.running = true
		p.forced = false
		p.state.LastRunAt = now
		go c.execute(ctx, endpoint, p.fetch)
	}
	c.mu.Unlock()
}

// execute performs one poll outside the coordinator lock and applies the
// result. If the poller was destroyed while the request was in flight, the
// result is dropped.
func (c *Coordinator) execute(ctx context.Context, endpoint string, fetch FetchFunc) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	data, err := fetch(reqCtx)
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pollers[endpoint]
	if !ok {
		return
	}
	p.running = false

	switch {
	case err == nil:
		p.state.recordSuccess()
		metrics.PollsTotal.WithLabelValues(endpoint, "success").Inc()
	case client.IsAuthExpired(err):
		// Retrying with the same token cannot succeed; park the
		// endpoint until the cooldown gives a rotated token a chance.
		p.state.suspend(c.clk.Now(), err)
		metrics.PollsTotal.WithLabelValues(endpoint, "failure").Inc()
		logging.Warn().Str("endpoint", endpoint).Err(err).Msg("Poll suspended on auth failure")
	default:
		p.state.recordFailure(c.clk.Now(), c.backoff(), err)
		metrics.PollsTotal.WithLabelValues(endpoint, "failure").Inc()
		if p.state.State == Suspended {
			logging.Warn().
				Str("endpoint", endpoint).
				Int("consecutive_errors", p.state.ConsecutiveErrors).
				Err(err).
				Msg("Poll suspended after repeated failures")
		} else {
			logging.Debug().
				Str("endpoint", endpoint).
				Dur("interval", p.state.Interval).
				Err(err).
				Msg("Poll failed, backing off")
		}
	}
	metrics.PollerState.WithLabelValues(endpoint).Set(stateGauge(p.state.State))
	metrics.PollerInterval.WithLabelValues(endpoint).Set(p.state.Interval.Seconds())

	update := Update{Endpoint: endpoint, Data: data, Err: err}
	for _, ch := range p.subs {
		select {
		case ch <- update:
		default:
			// Subscriber is not keeping up; it will get the next one.
		}
	}
}

// Snapshot returns a copy of every endpoint's scheduling state, for the
// status API.
func (c *Coordinator) Snapshot() []EndpointState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]EndpointState, 0, len(c.pollers))
	for _, p := range c.pollers {
		out = append(out, *p.state)
	}
	return out
}

func stateGauge(s State) float64 {
	switch s {
	case Active:
		return 0
	case BackingOff:
		return 1
	case Suspended:
		return 2
	default:
		return -1
	}
}
