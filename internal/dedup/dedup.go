// Sitelens - Privacy-First Web Analytics
// Copyright 2026 Sitelens Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sitelens/sitelens

// Package dedup suppresses repeated unique events. A unique event is
// recorded at most once per (project, event name, session) within the
// retention window; later occurrences are dropped.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/sitelens/sitelens/internal/logging"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("dedup store is closed")

// DefaultTTL matches the daily session rotation. A unique event can
// recur at most once per day per visitor.
const DefaultTTL = 24 * time.Hour

// Key identifies a unique event occurrence.
type Key struct {
	ProjectID string
	EventName string
	SessionID string
}

func (k Key) bytes(prefix []byte) []byte {
	b := make([]byte, 0, len(prefix)+len(k.ProjectID)+len(k.EventName)+len(k.SessionID)+2)
	b = append(b, prefix...)
	b = append(b, k.ProjectID...)
	b = append(b, '|')
	b = append(b, k.EventName...)
	b = append(b, '|')
	b = append(b, k.SessionID...)
	return b
}

// Store tracks which unique events have already been seen.
type Store interface {
	// Observe records the key if unseen and reports whether it was
	// already present. The first call for a key returns false, later
	// calls within the TTL return true.
	Observe(ctx context.Context, key Key, ttl time.Duration) (bool, error)

	// Close releases resources.
	Close() error
}

// MemoryStore is an in-memory store for testing. Entries are lost on
// restart, so production uses BadgerStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   func() time.Time
	closed  bool
}

// NewMemoryStore creates an in-memory dedup store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]time.Time),
		clock:   time.Now,
	}
}

// Observe records the key if unseen.
func (s *MemoryStore) Observe(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	now := s.clock()
	k := string(key.bytes(nil))
	if expiry, ok := s.entries[k]; ok && now.Before(expiry) {
		return true, nil
	}

	s.entries[k] = now.Add(ttl)
	return false, nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// BadgerStore is a BadgerDB-backed dedup store. Entries carry a TTL so
// Badger expires them during compaction without an explicit sweep.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte

	mu     sync.RWMutex
	closed bool
}

// NewBadgerStore opens a BadgerDB at path for dedup tracking.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for dedup: %w", err)
	}

	return NewBadgerStoreWithDB(db), nil
}

// NewBadgerStoreWithDB wraps an existing BadgerDB instance. The caller
// retains ownership of the database; Close only marks the store closed.
func NewBadgerStoreWithDB(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: []byte("dedup:"),
	}
}

// Observe atomically records the key if unseen.
func (s *BadgerStore) Observe(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return false, ErrStoreClosed
	}
	s.mu.RUnlock()

	k := key.bytes(s.prefix)
	seen := false

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			// Badger hides expired entries from Get, so any hit is live.
			seen = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		e := badger.NewEntry(k, nil).WithTTL(ttl)
		return txn.SetEntry(e)
	})
	if err != nil {
		return false, fmt.Errorf("dedup observe: %w", err)
	}

	return seen, nil
}

// Close marks the store closed. The underlying database is shared and
// closed by its owner.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// GC is a background value log garbage collector for the dedup database.
// Expired entries free disk space only after GC runs.
//
// GC implements suture.Service.
type GC struct {
	db       *badger.DB
	interval time.Duration
}

// NewGC creates a garbage collector polling at the given interval.
// An interval of zero defaults to ten minutes.
func NewGC(db *badger.DB, interval time.Duration) *GC {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GC{db: db, interval: interval}
}

// Serve runs GC cycles until the context is cancelled.
func (g *GC) Serve(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// ErrNoRewrite means nothing to reclaim, which is the common case.
			if err := g.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Debug().Err(err).Msg("dedup value log GC")
			}
		}
	}
}

// String names the service in supervisor logs.
func (g *GC) String() string {
	return "dedup-gc"
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*BadgerStore)(nil)
