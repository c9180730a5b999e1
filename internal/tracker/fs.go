// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package tracker

import (
	"context"
	"io/fs"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/checksum"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
)

// FileSystem tracks a directory tree. Exclude patterns use path.Match
// syntax and apply to both the slash-relative path and the base name,
// before any hashing happens.
type FileSystem struct {
	sourceID  string
	root      string
	excludes  []string
	checksums *checksum.Service
	store     *SnapshotStore
}

var _ Tracker = (*FileSystem)(nil)

// NewFileSystem validates the source id and exclude patterns up front.
func NewFileSystem(sourceID, root string, excludes []string, checksums *checksum.Service, store *SnapshotStore) (*FileSystem, error) {
	if err := ValidateSourceID(sourceID); err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fault.New(fault.InvalidArgument, "tracker.NewFileSystem", "empty root directory")
	}
	for _, pattern := range excludes {
		if _, err := path.Match(pattern, "probe"); err != nil {
			return nil, fault.Errorf(fault.InvalidArgument, "tracker.NewFileSystem", "bad exclude pattern %q", pattern)
		}
	}
	if checksums == nil {
		checksums = checksum.NewService(nil, nil)
	}
	return &FileSystem{
		sourceID:  sourceID,
		root:      root,
		excludes:  excludes,
		checksums: checksums,
		store:     store,
	}, nil
}

func (t *FileSystem) SourceID() string { return t.sourceID }

// Root returns the tracked directory, the path base backup archives
// are built from.
func (t *FileSystem) Root() string { return t.root }

func (t *FileSystem) CreateSnapshot(ctx context.Context) (*IncrementalSnapshot, error) {
	items, totalSize, skipped, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}

	snap := &IncrementalSnapshot{
		SnapshotID:   uuid.New().String(),
		SourceID:     t.sourceID,
		BackupLevel:  LevelFull,
		CreatedAt:    time.Now().UTC(),
		FilesTracked: len(items),
		TotalSize:    totalSize,
		ChecksumMap:  checksumsOnly(items),
		Metadata: map[string]string{
			"source_type": "filesystem",
			"root":        t.root,
		},
	}
	if skipped > 0 {
		snap.Metadata["skipped_items"] = strconv.Itoa(skipped)
	}

	if err := t.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	logging.Info().
		Str("source", t.sourceID).
		Str("snapshot", snap.SnapshotID).
		Int("files", snap.FilesTracked).
		Int64("bytes", snap.TotalSize).
		Msg("Filesystem snapshot created")
	return snap, nil
}

func (t *FileSystem) DetectChanges(ctx context.Context) ([]ChangeRecord, error) {
	prev, err := t.store.Latest(ctx, t.sourceID)
	if err != nil {
		return nil, err
	}
	items, _, _, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	changes := diffItems(prev, items, time.Now().UTC())
	for _, change := range changes {
		if change.Kind == ChangeDeleted {
			t.checksums.Forget(ctx, t.sourceID, filepath.Join(t.root, filepath.FromSlash(change.Item)))
		}
	}
	return changes, nil
}

// scan walks the tree. Per-file failures are logged and skipped so one
// unreadable file never fails the whole pass; an inaccessible root is
// fatal.
func (t *FileSystem) scan(ctx context.Context) (map[string]itemInfo, int64, int, error) {
	items := make(map[string]itemInfo)
	var totalSize int64
	skipped := 0

	walkErr := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == t.root {
				return err
			}
			logging.Warn().Err(err).Str("path", p).Msg("Skipping unreadable entry")
			skipped++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(t.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && t.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if t.excluded(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			logging.Warn().Err(infoErr).Str("path", p).Msg("Skipping entry without stat")
			skipped++
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		sum, sumErr := t.checksums.FileChecksum(ctx, t.sourceID, p, info)
		if sumErr != nil {
			logging.Warn().Err(sumErr).Str("path", p).Msg("Skipping unreadable file")
			skipped++
			return nil
		}

		items[rel] = itemInfo{Checksum: sum, Size: info.Size()}
		totalSize += info.Size()
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, 0, 0, walkErr
		}
		return nil, 0, 0, fault.FromOS("tracker.FileSystem.scan", walkErr)
	}
	return items, totalSize, skipped, nil
}

func (t *FileSystem) excluded(rel string) bool {
	base := path.Base(rel)
	for _, pattern := range t.excludes {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
