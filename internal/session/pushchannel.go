// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/platewise/ordersync/internal/auth"
	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/metrics"
	"github.com/platewise/ordersync/internal/models"
)

// ErrReconnectExhausted is returned by Serve when the attempt budget runs
// out. The supervision tree decides whether to restart the channel.
var ErrReconnectExhausted = errors.New("push channel reconnect attempts exhausted")

// PushChannel maintains the websocket to the backend's order feed. It
// reconnects with jittered exponential backoff, sends application-level
// heartbeats, and forces a reconnect when acks stop arriving — the standard
// defense against silently-dead connections.
type PushChannel struct {
	wsURL  string
	tokens auth.TokenProvider
	cfg    config.PushConfig

	onMessage func(models.PushMessage)
	onState   func(connected bool)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	lastAck   time.Time
}

// DeriveWSURL maps the REST base URL onto the websocket endpoint:
// https://host/v1 becomes wss://host/v1/ws/orders/.
func DeriveWSURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/orders/"
	return u.String(), nil
}

// NewPushChannel builds an unconnected channel. onMessage receives every
// decoded push message; onState fires on connect and disconnect.
func NewPushChannel(wsURL string, tokens auth.TokenProvider, cfg config.PushConfig,
	onMessage func(models.PushMessage), onState func(connected bool)) *PushChannel {
	return &PushChannel{
		wsURL:     wsURL,
		tokens:    tokens,
		cfg:       cfg,
		onMessage: onMessage,
		onState:   onState,
	}
}

// IsConnected reports whether the websocket is currently up.
func (p *PushChannel) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Serve runs the connect-read-reconnect loop until ctx is canceled or the
// attempt budget is exhausted.
func (p *PushChannel) Serve(ctx context.Context) error {
	delay := p.cfg.ReconnectBaseDelay
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := p.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			// The dial succeeded, so the budget and backoff start over.
			delay = p.cfg.ReconnectBaseDelay
			attempts = 0
		}

		attempts++
		if p.cfg.ReconnectMaxAttempts > 0 && attempts >= p.cfg.ReconnectMaxAttempts {
			logging.Error().Int("attempts", attempts).Err(err).Msg("Push channel giving up")
			return ErrReconnectExhausted
		}

		// Full jitter keeps a fleet of clients from reconnecting in
		// lockstep after a backend restart.
		wait := time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
		logging.Info().Dur("delay", wait).Err(err).Msg("Push channel reconnecting")
		metrics.PushReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		delay *= 2
		if delay > p.cfg.ReconnectMaxDelay {
			delay = p.cfg.ReconnectMaxDelay
		}
	}
}

func (p *PushChannel) String() string { return "push-channel" }

// runConnection dials and pumps one websocket connection to completion.
// connected reports whether the dial succeeded at all.
func (p *PushChannel) runConnection(ctx context.Context) (connected bool, _ error) {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return false, fmt.Errorf("push channel token: %w", err)
	}

	u, err := url.Parse(p.wsURL)
	if err != nil {
		return false, fmt.Errorf("parse ws URL: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	p.setConnected(conn)
	logging.Info().Str("url", p.wsURL).Msg("Push channel connected")

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.heartbeatLoop(connCtx, conn)

	readErr := p.readLoop(conn)
	p.setDisconnected()
	return true, readErr
}

func (p *PushChannel) setConnected(conn *websocket.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.connected = true
	p.lastAck = time.Now()
	p.mu.Unlock()

	metrics.PushConnected.Set(1)
	if p.onState != nil {
		p.onState(true)
	}
}

func (p *PushChannel) setDisconnected() {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.mu.Unlock()

	metrics.PushConnected.Set(0)
	if wasConnected && p.onState != nil {
		p.onState(false)
	}
}

// readLoop decodes frames until the connection dies.
func (p *PushChannel) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("websocket read: %w", err)
		}

		var msg models.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logging.Warn().Err(err).Msg("Dropping undecodable push message")
			continue
		}
		metrics.PushMessages.WithLabelValues(msg.Type).Inc()

		if msg.Type == models.PushHeartbeatAck {
			p.mu.Lock()
			p.lastAck = time.Now()
			p.mu.Unlock()
			continue
		}

		if p.onMessage != nil {
			p.onMessage(msg)
		}
	}
}

// heartbeatLoop sends heartbeats and closes the connection when the backend
// stops acknowledging them, which unblocks the read loop and triggers a
// reconnect.
func (p *PushChannel) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			sinceAck := time.Since(p.lastAck)
			p.mu.Unlock()

			if sinceAck > p.cfg.HeartbeatTimeout {
				logging.Warn().Dur("since_ack", sinceAck).Msg("Heartbeat ack overdue, forcing reconnect")
				metrics.PushHeartbeatTimeouts.Inc()
				_ = conn.Close()
				return
			}

			beat := models.PushMessage{Type: models.PushHeartbeat, Timestamp: time.Now().UnixMilli()}
			if err := conn.WriteJSON(beat); err != nil {
				logging.Debug().Err(err).Msg("Heartbeat write failed")
				_ = conn.Close()
				return
			}
		}
	}
}
