// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package tracker

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
)

func writeFile(t *testing.T, root, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		t.Fatalf("failed to create parent directory: %v", err)
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

func newFSTracker(t *testing.T, root string, excludes []string) *FileSystem {
	t.Helper()
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create snapshot store: %v", err)
	}
	tr, err := NewFileSystem("fs-src", root, excludes, nil, store)
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	return tr
}

func TestFileSystemSnapshotAndDiff(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "file1.txt", bytes.Repeat([]byte("a"), 100))
	writeFile(t, root, "file2.bin", bytes.Repeat([]byte("b"), 2<<20))
	writeFile(t, root, "file3.bin", bytes.Repeat([]byte("c"), 10<<20))

	tr := newFSTracker(t, root, nil)

	snap, err := tr.CreateSnapshot(ctx)
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if snap.FilesTracked != 3 {
		t.Errorf("expected 3 files tracked, got %d", snap.FilesTracked)
	}
	wantSize := int64(100 + 2<<20 + 10<<20)
	if snap.TotalSize != wantSize {
		t.Errorf("expected total size %d, got %d", wantSize, snap.TotalSize)
	}
	if snap.BackupLevel != LevelFull {
		t.Errorf("expected level %s, got %s", LevelFull, snap.BackupLevel)
	}
	oldSum1 := snap.ChecksumMap["file1.txt"]
	oldSum2 := snap.ChecksumMap["file2.bin"]
	if oldSum1 == "" || oldSum2 == "" {
		t.Fatalf("expected checksums for all files, got %v", snap.ChecksumMap)
	}

	writeFile(t, root, "file1.txt", bytes.Repeat([]byte("a"), 150))
	if err := os.Remove(filepath.Join(root, "file2.bin")); err != nil {
		t.Fatalf("failed to remove file2: %v", err)
	}

	changes, err := tr.DetectChanges(ctx)
	if err != nil {
		t.Fatalf("DetectChanges failed: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected exactly 2 changes, got %d: %+v", len(changes), changes)
	}

	mod := changes[0]
	if mod.Item != "file1.txt" || mod.Kind != ChangeModified {
		t.Errorf("expected file1.txt modified, got %s %s", mod.Item, mod.Kind)
	}
	if mod.Size != 150 {
		t.Errorf("expected modified size 150, got %d", mod.Size)
	}
	if mod.Checksum == oldSum1 {
		t.Error("expected modified file to carry a new checksum")
	}

	del := changes[1]
	if del.Item != "file2.bin" || del.Kind != ChangeDeleted {
		t.Errorf("expected file2.bin deleted, got %s %s", del.Item, del.Kind)
	}
	if del.Checksum != oldSum2 {
		t.Errorf("expected deleted record to carry the last known checksum %s, got %s", oldSum2, del.Checksum)
	}
	if del.Size != 0 {
		t.Errorf("expected deleted size 0, got %d", del.Size)
	}
}

func TestFileSystemSnapshotIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("alpha"))
	writeFile(t, root, "sub/b.txt", []byte("beta"))

	tr := newFSTracker(t, root, nil)

	first, err := tr.CreateSnapshot(ctx)
	if err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}
	second, err := tr.CreateSnapshot(ctx)
	if err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}

	if first.SnapshotID == second.SnapshotID {
		t.Error("expected distinct snapshot ids")
	}
	if !reflect.DeepEqual(first.ChecksumMap, second.ChecksumMap) {
		t.Errorf("expected identical checksum maps, got %v vs %v", first.ChecksumMap, second.ChecksumMap)
	}
	if first.TotalSize != second.TotalSize {
		t.Errorf("expected identical sizes, got %d vs %d", first.TotalSize, second.TotalSize)
	}

	changes, err := tr.DetectChanges(ctx)
	if err != nil {
		t.Fatalf("DetectChanges failed: %v", err)
	}
	if len(changes) != 0 {
		t.Errorf("expected no changes on an untouched tree, got %+v", changes)
	}
}

func TestFileSystemExcludes(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	writeFile(t, root, "keep.txt", []byte("kept"))
	writeFile(t, root, "skip.log", []byte("skipped"))
	writeFile(t, root, "tmp/scratch.txt", []byte("scratch"))
	writeFile(t, root, "logs/app.log", []byte("rotated"))

	tr := newFSTracker(t, root, []string{"*.log", "tmp"})

	snap, err := tr.CreateSnapshot(ctx)
	if err != nil {
		t.Fatalf("CreateSnapshot failed: %v", err)
	}
	if snap.FilesTracked != 1 {
		t.Errorf("expected 1 file tracked, got %d: %v", snap.FilesTracked, snap.ChecksumMap)
	}
	if _, ok := snap.ChecksumMap["keep.txt"]; !ok {
		t.Errorf("expected keep.txt in checksum map, got %v", snap.ChecksumMap)
	}
}

func TestDetectChangesWithoutBaseline(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", []byte("alpha"))

	tr := newFSTracker(t, root, nil)

	_, err := tr.DetectChanges(context.Background())
	if err == nil {
		t.Fatal("expected error for source without baseline")
	}
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestCreateSnapshotMissingRoot(t *testing.T) {
	tr := newFSTracker(t, filepath.Join(t.TempDir(), "absent"), nil)

	_, err := tr.CreateSnapshot(context.Background())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestSnapshotStoreHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := &IncrementalSnapshot{
		SnapshotID:   "snap-a",
		SourceID:     "src",
		BackupLevel:  LevelFull,
		CreatedAt:    base,
		FilesTracked: 1,
		TotalSize:    10,
		ChecksumMap:  map[string]string{"a": "1"},
	}
	newer := &IncrementalSnapshot{
		SnapshotID:   "snap-b",
		SourceID:     "src",
		BackupLevel:  LevelFull,
		CreatedAt:    base.Add(time.Hour),
		FilesTracked: 2,
		TotalSize:    20,
		ChecksumMap:  map[string]string{"a": "1", "b": "2"},
	}

	// Save out of order; retrieval order must come from creation time.
	if err := store.Save(ctx, newer); err != nil {
		t.Fatalf("failed to save newer snapshot: %v", err)
	}
	if err := store.Save(ctx, older); err != nil {
		t.Fatalf("failed to save older snapshot: %v", err)
	}

	reopened, err := NewSnapshotStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}

	latest, err := reopened.Latest(ctx, "src")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.SnapshotID != "snap-b" {
		t.Errorf("expected latest snap-b, got %s", latest.SnapshotID)
	}

	history, err := reopened.History(ctx, "src")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots in history, got %d", len(history))
	}
	if history[0].SnapshotID != "snap-a" || history[1].SnapshotID != "snap-b" {
		t.Errorf("expected ascending history, got %s then %s", history[0].SnapshotID, history[1].SnapshotID)
	}

	empty, err := reopened.History(ctx, "unknown")
	if err != nil {
		t.Fatalf("History for unknown source failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty history for unknown source, got %d", len(empty))
	}

	if _, err := reopened.Latest(ctx, "unknown"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound for unknown source, got %v", err)
	}
}

func TestDiffItems(t *testing.T) {
	prev := &IncrementalSnapshot{
		ChecksumMap: map[string]string{"a": "1", "b": "2", "c": "3"},
	}
	current := map[string]itemInfo{
		"a": {Checksum: "1", Size: 5},
		"b": {Checksum: "9", Size: 7},
		"d": {Checksum: "4", Size: 1},
	}
	now := time.Now().UTC()

	changes := diffItems(prev, current, now)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %d: %+v", len(changes), changes)
	}

	want := []struct {
		item string
		kind ChangeKind
		sum  string
		size int64
	}{
		{"b", ChangeModified, "9", 7},
		{"c", ChangeDeleted, "3", 0},
		{"d", ChangeCreated, "4", 1},
	}
	for i, w := range want {
		got := changes[i]
		if got.Item != w.item || got.Kind != w.kind || got.Checksum != w.sum || got.Size != w.size {
			t.Errorf("change %d: expected %+v, got %+v", i, w, got)
		}
		if !got.Timestamp.Equal(now) {
			t.Errorf("change %d: expected timestamp %v, got %v", i, now, got.Timestamp)
		}
	}
}

func TestNewFileSystemValidation(t *testing.T) {
	store, err := NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	tests := []struct {
		name     string
		sourceID string
		root     string
		excludes []string
	}{
		{"bad source id", "has space", "/srv/data", nil},
		{"empty root", "src", "", nil},
		{"bad pattern", "src", "/srv/data", []string{"["}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFileSystem(tt.sourceID, tt.root, tt.excludes, nil, store)
			if !fault.IsKind(err, fault.InvalidArgument) {
				t.Errorf("expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestValidateSourceID(t *testing.T) {
	valid := []string{"app", "pg-main", "db.prod", "A2", "0x1"}
	for _, id := range valid {
		if err := ValidateSourceID(id); err != nil {
			t.Errorf("expected %q to be valid, got %v", id, err)
		}
	}

	invalid := []string{"", "-lead", ".hidden", "has space", "a/b", "semi;colon"}
	for _, id := range invalid {
		if err := ValidateSourceID(id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}
