// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package checksum

import (
	"context"
	"io/fs"
	"time"

	"github.com/tomtom215/chronovault/internal/logging"
)

// Service combines hashing with the persistent store so repeated scans
// skip re-reading files whose size and modification time are unchanged.
type Service struct {
	hasher *Hasher
	store  Store
}

// NewService builds a service. A nil hasher gets defaults; a nil store
// gets an in-memory one.
func NewService(hasher *Hasher, store Store) *Service {
	if hasher == nil {
		hasher = NewHasher(DefaultCompositeThreshold)
	}
	if store == nil {
		store = NewMemory()
	}
	return &Service{hasher: hasher, store: store}
}

// FileChecksum returns the checksum for path. Cache failures fall back
// to hashing; they never fail the scan.
func (s *Service) FileChecksum(ctx context.Context, sourceID, path string, info fs.FileInfo) (string, error) {
	entry, ok, err := s.store.Get(ctx, sourceID, path)
	if err != nil {
		logging.Debug().Err(err).Str("path", path).Msg("Checksum cache read failed")
	} else if ok && entry.Size == info.Size() && entry.ModTime.Equal(info.ModTime()) {
		return entry.Checksum, nil
	}

	sum, err := s.hasher.File(path, info)
	if err != nil {
		return "", err
	}

	if putErr := s.store.Put(ctx, sourceID, path, Entry{
		Checksum:   sum,
		Size:       info.Size(),
		ModTime:    info.ModTime(),
		ComputedAt: time.Now().UTC(),
	}); putErr != nil {
		logging.Warn().Err(putErr).Str("path", path).Msg("Checksum cache write failed")
	}
	return sum, nil
}

// Forget drops the cached entry for an item, used when a tracker
// observes a deletion.
func (s *Service) Forget(ctx context.Context, sourceID, path string) {
	if err := s.store.Delete(ctx, sourceID, path); err != nil {
		logging.Debug().Err(err).Str("path", path).Msg("Checksum cache delete failed")
	}
}

// Hasher exposes the underlying hasher for callers that checksum
// non-file content.
func (s *Service) Hasher() *Hasher {
	return s.hasher
}

func (s *Service) Close() error {
	return s.store.Close()
}
