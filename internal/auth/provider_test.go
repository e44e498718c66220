// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platewise/ordersync/internal/config"
	"github.com/platewise/ordersync/internal/snapshot"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "waitstation-1",
		"exp": exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestStaticProviderServesToken(t *testing.T) {
	p := NewStaticProvider("opaque-token")
	got, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "opaque-token" {
		t.Errorf("Token = %q, want opaque-token", got)
	}
}

func TestStaticProviderEmpty(t *testing.T) {
	p := NewStaticProvider("")
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("Token = %v, want ErrNoToken", err)
	}
}

func TestStaticProviderSignalExpired(t *testing.T) {
	p := NewStaticProvider("opaque-token")
	p.SignalExpired()
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Token after SignalExpired = %v, want ErrTokenExpired", err)
	}
}

func TestStaticProviderDetectsJWTExpiry(t *testing.T) {
	p := NewStaticProvider(signedToken(t, time.Now().Add(-time.Minute)))
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expired JWT = %v, want ErrTokenExpired", err)
	}

	p = NewStaticProvider(signedToken(t, time.Now().Add(time.Hour)))
	if _, err := p.Token(context.Background()); err != nil {
		t.Errorf("valid JWT = %v, want nil", err)
	}
}

func newStoredProvider(t *testing.T) (*StoredProvider, *snapshot.Store, *config.CredentialEncryptor) {
	t.Helper()
	store, err := snapshot.OpenInMemory()
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	enc, err := config.NewCredentialEncryptor("a-test-secret-with-length")
	if err != nil {
		t.Fatalf("new encryptor: %v", err)
	}

	p, err := NewStoredProvider(store, enc)
	if err != nil {
		t.Fatalf("NewStoredProvider: %v", err)
	}
	return p, store, enc
}

func TestStoredProviderLifecycle(t *testing.T) {
	p, store, enc := newStoredProvider(t)

	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Fatalf("fresh provider = %v, want ErrNoToken", err)
	}

	if err := p.SetToken("rotated-token"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	got, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if got != "rotated-token" {
		t.Errorf("Token = %q, want rotated-token", got)
	}

	// The persisted value must be encrypted, not the raw token.
	sealed, err := store.GetCredential("api-token")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if string(sealed) == "rotated-token" {
		t.Error("credential stored in plaintext")
	}
	if plain, err := enc.Decrypt(string(sealed)); err != nil || plain != "rotated-token" {
		t.Errorf("stored credential decrypts to %q (%v), want rotated-token", plain, err)
	}

	// A new provider over the same store restores the token.
	p2, err := NewStoredProvider(store, enc)
	if err != nil {
		t.Fatalf("NewStoredProvider (restore): %v", err)
	}
	if got, err := p2.Token(context.Background()); err != nil || got != "rotated-token" {
		t.Errorf("restored Token = %q (%v), want rotated-token", got, err)
	}
}

func TestStoredProviderSignalExpiredClearedByRotation(t *testing.T) {
	p, _, _ := newStoredProvider(t)
	if err := p.SetToken("first"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}

	p.SignalExpired()
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("after SignalExpired = %v, want ErrTokenExpired", err)
	}

	if err := p.SetToken("second"); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if got, err := p.Token(context.Background()); err != nil || got != "second" {
		t.Errorf("after rotation = %q (%v), want second", got, err)
	}
}

func TestStoredProviderDiscardsUndecryptableCredential(t *testing.T) {
	store, err := snapshot.OpenInMemory()
	if err != nil {
		t.Fatalf("open snapshot store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	enc1, _ := config.NewCredentialEncryptor("secret-one-long-enough")
	enc2, _ := config.NewCredentialEncryptor("secret-two-long-enough")

	sealed, err := enc1.Encrypt("old-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if err := store.SetCredential("api-token", []byte(sealed)); err != nil {
		t.Fatalf("SetCredential: %v", err)
	}

	p, err := NewStoredProvider(store, enc2)
	if err != nil {
		t.Fatalf("NewStoredProvider: %v", err)
	}
	if _, err := p.Token(context.Background()); !errors.Is(err, ErrNoToken) {
		t.Errorf("undecryptable credential = %v, want ErrNoToken", err)
	}
	if _, err := store.GetCredential("api-token"); !errors.Is(err, snapshot.ErrNotFound) {
		t.Errorf("stale credential should be deleted, got: %v", err)
	}
}
