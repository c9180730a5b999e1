// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package tracker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/fault"
)

// SnapshotStore persists snapshots as one JSON file each, named so
// lexical order equals creation order.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore creates the snapshot directory if needed.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if dir == "" {
		return nil, fault.New(fault.InvalidArgument, "tracker.NewSnapshotStore", "empty snapshot directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory %s: %w", dir, err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) snapshotPath(snap *IncrementalSnapshot) string {
	name := fmt.Sprintf("%020d-%s.json", snap.CreatedAt.UnixNano(), snap.SnapshotID)
	return filepath.Join(s.dir, snap.SourceID, name)
}

// Save writes one snapshot atomically. The previous snapshot of the
// same source is never touched.
func (s *SnapshotStore) Save(ctx context.Context, snap *IncrementalSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateSourceID(snap.SourceID); err != nil {
		return err
	}

	path := s.snapshotPath(snap)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create source directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot %s: %w", snap.SnapshotID, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write snapshot %s: %w", snap.SnapshotID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize snapshot %s: %w", snap.SnapshotID, err)
	}
	return nil
}

// Latest returns the most recently persisted snapshot for a source, or
// a NotFound error when the source has never been snapshotted.
func (s *SnapshotStore) Latest(ctx context.Context, sourceID string) (*IncrementalSnapshot, error) {
	names, err := s.sortedNames(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fault.Errorf(fault.NotFound, "tracker.SnapshotStore.Latest", "no snapshot for source %s", sourceID)
	}
	return s.load(sourceID, names[len(names)-1])
}

// History returns every persisted snapshot for a source in creation
// order. An unknown source yields an empty history, not an error.
func (s *SnapshotStore) History(ctx context.Context, sourceID string) ([]*IncrementalSnapshot, error) {
	names, err := s.sortedNames(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	snapshots := make([]*IncrementalSnapshot, 0, len(names))
	for _, name := range names {
		snap, err := s.load(sourceID, name)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (s *SnapshotStore) sortedNames(ctx context.Context, sourceID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateSourceID(sourceID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, sourceID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.FromOS("tracker.SnapshotStore", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *SnapshotStore) load(sourceID, name string) (*IncrementalSnapshot, error) {
	path := filepath.Join(s.dir, sourceID, name)
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from a validated source id and a directory listing
	if err != nil {
		return nil, fault.FromOS("tracker.SnapshotStore.load", err)
	}
	var snap IncrementalSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", name, err)
	}
	return &snap, nil
}
