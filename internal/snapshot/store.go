// ordersync - Restaurant Order Data Synchronization
// Copyright 2026 Platewise
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/platewise/ordersync

// Package snapshot persists small key-value state across process restarts:
// last-known-good copies of feed data for offline fallback, and encrypted
// credentials. It is the durable analog of the web client's local storage,
// with the same contract: best effort, JSON values, plain string keys.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/platewise/ordersync/internal/metrics"
)

// Key prefixes inside the badger keyspace.
const (
	feedKeyPrefix       = "feed:"
	credentialKeyPrefix = "credential:"
)

// ErrNotFound is returned when no value exists for the requested key.
var ErrNotFound = errors.New("snapshot: not found")

// envelope wraps a stored feed snapshot with its save time so consumers can
// surface staleness.
type envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Store is a badger-backed persistent key-value store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-persistent store. Used in tests and when no data
// directory is configured.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open in-memory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveFeed stores v as the last-known-good snapshot for feed.
func (s *Store) SaveFeed(feed string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("snapshot: marshal feed %s: %w", feed, err)
	}
	env, err := json.Marshal(envelope{SavedAt: time.Now(), Data: data})
	if err != nil {
		return fmt.Errorf("snapshot: marshal envelope for %s: %w", feed, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(feedKeyPrefix+feed), env)
	})
	if err != nil {
		return fmt.Errorf("snapshot: save feed %s: %w", feed, err)
	}
	metrics.SnapshotWrites.WithLabelValues(feed).Inc()
	return nil
}

// LoadFeed unmarshals the last-known-good snapshot for feed into out and
// returns when it was saved. Returns ErrNotFound when no snapshot exists.
func (s *Store) LoadFeed(feed string, out any) (time.Time, error) {
	var env envelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(feedKeyPrefix + feed))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get feed: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return time.Time{}, err
		}
		return time.Time{}, fmt.Errorf("snapshot: load feed %s: %w", feed, err)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return time.Time{}, fmt.Errorf("snapshot: decode feed %s: %w", feed, err)
	}
	return env.SavedAt, nil
}

// DeleteFeed removes the snapshot for feed. Deleting a missing feed is a
// no-op.
func (s *Store) DeleteFeed(feed string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(feedKeyPrefix + feed))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("snapshot: delete feed %s: %w", feed, err)
	}
	return nil
}

// SetCredential stores an opaque credential blob (callers encrypt before
// storing).
func (s *Store) SetCredential(name string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(credentialKeyPrefix+name), data)
	})
	if err != nil {
		return fmt.Errorf("snapshot: set credential %s: %w", name, err)
	}
	return nil
}

// GetCredential returns a stored credential blob, or ErrNotFound.
func (s *Store) GetCredential(name string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(credentialKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("snapshot: get credential %s: %w", name, err)
	}
	return data, nil
}

// DeleteCredential removes a stored credential. Missing names are a no-op.
func (s *Store) DeleteCredential(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(credentialKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("snapshot: delete credential %s: %w", name, err)
	}
	return nil
}
