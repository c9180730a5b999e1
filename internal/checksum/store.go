// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package checksum

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// entryTTL ages out cache entries for files that stopped existing, so
// deletions do not accumulate forever.
const entryTTL = 30 * 24 * time.Hour

// Entry is one cached checksum plus the stat fields that decide
// whether it is still current.
type Entry struct {
	Checksum   string    `json:"checksum"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	ComputedAt time.Time `json:"computed_at"`
}

// Store persists checksums between runs, keyed by source and item.
type Store interface {
	Get(ctx context.Context, sourceID, item string) (Entry, bool, error)
	Put(ctx context.Context, sourceID, item string, entry Entry) error
	Delete(ctx context.Context, sourceID, item string) error
	Close() error
}

// BadgerStore is the persistent production store.
type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// OpenBadger opens a BadgerDB at dir dedicated to the checksum cache.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Suppress BadgerDB logs
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checksum cache at %s: %w", dir, err)
	}
	return &BadgerStore{db: db, ownsDB: true}, nil
}

// NewBadgerStore wraps a BadgerDB instance shared with other
// components. Close becomes a no-op; the owner closes the DB.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func makeKey(sourceID, item string) []byte {
	return []byte("cs:" + sourceID + ":" + item)
}

func (s *BadgerStore) Get(_ context.Context, sourceID, item string) (Entry, bool, error) {
	var entry Entry
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get(makeKey(sourceID, item))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &entry); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read checksum cache: %w", err)
	}
	return entry, found, nil
}

func (s *BadgerStore) Put(_ context.Context, sourceID, item string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode checksum entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(makeKey(sourceID, item), data).WithTTL(entryTTL)
		return txn.SetEntry(e)
	})
}

func (s *BadgerStore) Delete(_ context.Context, sourceID, item string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(makeKey(sourceID, item))
	})
}

// Close closes the underlying DB when this store opened it.
func (s *BadgerStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// Memory keeps entries in a map. Used by tests and one-shot scans
// where persistence buys nothing.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry)}
}

func (m *Memory) Get(_ context.Context, sourceID, item string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[sourceID+"\x00"+item]
	return entry, ok, nil
}

func (m *Memory) Put(_ context.Context, sourceID, item string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sourceID+"\x00"+item] = entry
	return nil
}

func (m *Memory) Delete(_ context.Context, sourceID, item string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sourceID+"\x00"+item)
	return nil
}

func (m *Memory) Close() error { return nil }
