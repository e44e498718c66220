// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package auth supplies bearer tokens to the API client. Two providers are
// available: a static token from configuration, and a stored token persisted
// encrypted at rest that can be rotated without restarting the daemon.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/logging"
	"github.com/platewise/ordersync/internal/snapshot"
)

var (
	// ErrNoToken indicates no credential is available.
	ErrNoToken = errors.New("no bearer token available")

	// ErrTokenExpired indicates the token's exp claim has passed or the
	// backend rejected it with 401.
	ErrTokenExpired = errors.New("bearer token expired")
)

// TokenProvider yields the bearer token for outgoing API requests.
type TokenProvider interface {
	// Token returns a token believed to be valid, or ErrNoToken /
	// ErrTokenExpired.
	Token(ctx context.Context) (string, error)

	// SignalExpired records that the backend rejected the current token.
	// Subsequent Token calls fail until a new token is set.
	SignalExpired()
}

// StaticProvider serves a fixed token from configuration.
type StaticProvider struct {
	mu      sync.RWMutex
	token   string
	expired bool
}

// NewStaticProvider returns a provider for a configured token.
func NewStaticProvider(token string) *StaticProvider {
	return &StaticProvider{token: token}
}

func (p *StaticProvider) Token(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.token == "" {
		return "", ErrNoToken
	}
	if p.expired {
		return "", ErrTokenExpired
	}
	if err := checkExpiry(p.token); err != nil {
		return "", err
	}
	return p.token, nil
}

func (p *StaticProvider) SignalExpired() {
	p.mu.Lock()
	p.expired = true
	p.mu.Unlock()
	logging.Warn().Msg("Static bearer token rejected by backend; manual rotation required")
}

// credentialName is the snapshot-store key under which the token lives.
const credentialName = "api-token"

// StoredProvider persists the token encrypted in the snapshot store so it
// survives restarts and can be rotated at runtime via SetToken.
type StoredProvider struct {
	store     *snapshot.Store
	encryptor *config.CredentialEncryptor

	mu      sync.RWMutex
	cached  string
	expired bool
}

// NewStoredProvider loads any previously stored token into memory.
func NewStoredProvider(store *snapshot.Store, encryptor *config.CredentialEncryptor) (*StoredProvider, error) {
	p := &StoredProvider{store: store, encryptor: encryptor}

	sealed, err := store.GetCredential(credentialName)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		// First run; SetToken will populate it.
	case err != nil:
		return nil, fmt.Errorf("load stored credential: %w", err)
	default:
		token, err := encryptor.Decrypt(string(sealed))
		if err != nil {
			// Wrong secret or corrupted store entry. Drop it rather
			// than fail every request with the same error.
			logging.Warn().Err(err).Msg("Discarding undecryptable stored credential")
			if delErr := store.DeleteCredential(credentialName); delErr != nil {
				logging.Error().Err(delErr).Msg("Failed to delete stored credential")
			}
		} else {
			p.cached = token
			logging.Info().
				Str("credential", config.MaskCredential(token)).
				Msg("Restored stored API credential")
		}
	}

	return p, nil
}

func (p *StoredProvider) Token(_ context.Context) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == "" {
		return "", ErrNoToken
	}
	if p.expired {
		return "", ErrTokenExpired
	}
	if err := checkExpiry(p.cached); err != nil {
		return "", err
	}
	return p.cached, nil
}

// SetToken encrypts and persists a new token, clearing any expired flag.
func (p *StoredProvider) SetToken(token string) error {
	if token == "" {
		return ErrNoToken
	}

	sealed, err := p.encryptor.Encrypt(token)
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}
	if err := p.store.SetCredential(credentialName, []byte(sealed)); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	p.mu.Lock()
	p.cached = token
	p.expired = false
	p.mu.Unlock()

	logging.Info().
		Str("credential", config.MaskCredential(token)).
		Msg("Stored API credential updated")
	return nil
}

func (p *StoredProvider) SignalExpired() {
	p.mu.Lock()
	p.expired = true
	p.mu.Unlock()
	logging.Warn().Msg("Stored bearer token rejected by backend; awaiting rotation")
}

// checkExpiry inspects a JWT exp claim without verifying the signature.
// Verification is the backend's job; this only avoids sending requests that
// are certain to fail. Opaque (non-JWT) tokens pass through untouched.
func checkExpiry(token string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil // not a JWT
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}
