// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/tracker"
)

func writeSourceFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create parent dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, string, *metrics.Capture) {
	t.Helper()
	store, err := tracker.NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}
	root := t.TempDir()
	fs, err := tracker.NewFileSystem("docs", root, nil, nil, store)
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	sink := metrics.NewCapture()
	cfg := Config{
		SnapshotDir: t.TempDir(),
		Policy:      DefaultPlanPolicy(),
		Compression: compression.Config{Algorithm: compression.AlgorithmGzip, Level: 1},
	}
	orch, err := NewOrchestrator(cfg, store, nil, nil, sink, nil)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	if err := orch.RegisterSource(fs); err != nil {
		t.Fatalf("failed to register source: %v", err)
	}
	return orch, root, sink
}

func TestRegisterSource(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	if err := orch.RegisterSource(nil); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for nil tracker, got %v", err)
	}

	store, err := tracker.NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}
	dup, err := tracker.NewFileSystem("docs", t.TempDir(), nil, nil, store)
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	if err := orch.RegisterSource(dup); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for duplicate source, got %v", err)
	}

	other, err := tracker.NewFileSystem("archive", t.TempDir(), nil, nil, store)
	if err != nil {
		t.Fatalf("failed to build tracker: %v", err)
	}
	if err := orch.RegisterSource(other); err != nil {
		t.Fatalf("failed to register second source: %v", err)
	}
	sources := orch.Sources()
	if len(sources) != 2 || sources[0] != "archive" || sources[1] != "docs" {
		t.Errorf("expected sorted sources [archive docs], got %v", sources)
	}
}

func TestCreateFullSnapshotAndDetectChanges(t *testing.T) {
	orch, root, sink := newTestOrchestrator(t)
	ctx := context.Background()

	writeSourceFile(t, root, "notes.txt", "hello")
	writeSourceFile(t, root, "sub/data.bin", strings.Repeat("x", 4096))

	snap, err := orch.CreateFullSnapshot(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}
	if snap.FilesTracked != 2 {
		t.Errorf("expected 2 files tracked, got %d", snap.FilesTracked)
	}
	if snap.BackupLevel != tracker.LevelFull {
		t.Errorf("expected full level, got %s", snap.BackupLevel)
	}
	if sink.CounterCount("backup_snapshots_created_total") != 1 {
		t.Errorf("expected 1 snapshot counter increment, got %d", sink.CounterCount("backup_snapshots_created_total"))
	}

	writeSourceFile(t, root, "notes.txt", "hello world")
	writeSourceFile(t, root, "new.txt", "fresh")

	changes, err := orch.DetectChanges(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to detect changes: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].Item != "new.txt" || changes[0].Kind != tracker.ChangeCreated {
		t.Errorf("expected new.txt created, got %+v", changes[0])
	}
	if changes[1].Item != "notes.txt" || changes[1].Kind != tracker.ChangeModified {
		t.Errorf("expected notes.txt modified, got %+v", changes[1])
	}
	if sink.CounterCount("backup_changes_detected_total") != 2 {
		t.Errorf("expected 2 change counter increments, got %d", sink.CounterCount("backup_changes_detected_total"))
	}
}

func TestDetectChangesWithoutBaseline(t *testing.T) {
	orch, root, _ := newTestOrchestrator(t)
	writeSourceFile(t, root, "a.txt", "content")

	_, err := orch.DetectChanges(context.Background(), "docs")
	if !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound without a baseline, got %v", err)
	}
}

func TestGetBackupPlanNoBaseline(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)

	plan, err := orch.GetBackupPlan(context.Background(), "docs")
	if err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	if plan.Level != tracker.LevelFull {
		t.Errorf("expected full level without baseline, got %s", plan.Level)
	}
	if plan.Reason != "no baseline snapshot exists" {
		t.Errorf("unexpected reason %q", plan.Reason)
	}
	if plan.BaselineID != "" {
		t.Errorf("expected empty baseline id, got %s", plan.BaselineID)
	}
}

func TestGetBackupPlanLevels(t *testing.T) {
	orch, root, _ := newTestOrchestrator(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		writeSourceFile(t, root, filepath.Join("files", string(rune('a'+i))+".txt"), strings.Repeat("v", 100))
	}
	snap, err := orch.CreateFullSnapshot(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}

	plan, err := orch.GetBackupPlan(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	if plan.Level != tracker.LevelIncremental {
		t.Errorf("expected incremental with no changes, got %s (%s)", plan.Level, plan.Reason)
	}
	if plan.BaselineID != snap.SnapshotID {
		t.Errorf("expected baseline %s, got %s", snap.SnapshotID, plan.BaselineID)
	}
	if plan.ChangeCount != 0 {
		t.Errorf("expected 0 changes, got %d", plan.ChangeCount)
	}

	// Two of ten files changed: past the differential threshold.
	writeSourceFile(t, root, "files/a.txt", "changed-a")
	writeSourceFile(t, root, "files/b.txt", "changed-b")
	plan, err = orch.GetBackupPlan(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	if plan.Level != tracker.LevelDifferential {
		t.Errorf("expected differential at ratio 0.20, got %s (%s)", plan.Level, plan.Reason)
	}
	if plan.ChangeCount != 2 {
		t.Errorf("expected 2 changes, got %d", plan.ChangeCount)
	}

	// Four of ten changed: past the full threshold.
	writeSourceFile(t, root, "files/c.txt", "changed-c")
	writeSourceFile(t, root, "files/d.txt", "changed-d")
	plan, err = orch.GetBackupPlan(ctx, "docs")
	if err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	if plan.Level != tracker.LevelFull {
		t.Errorf("expected full at ratio 0.40, got %s (%s)", plan.Level, plan.Reason)
	}
}

func TestUnknownSource(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t)
	ctx := context.Background()

	if _, err := orch.CreateFullSnapshot(ctx, "nope"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound from snapshot, got %v", err)
	}
	if _, err := orch.DetectChanges(ctx, "nope"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound from detect, got %v", err)
	}
	if _, err := orch.GetBackupPlan(ctx, "nope"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected NotFound from plan, got %v", err)
	}
}

func TestOperationGuard(t *testing.T) {
	orch, root, _ := newTestOrchestrator(t)
	writeSourceFile(t, root, "a.txt", "content")

	if err := orch.beginOp("docs"); err != nil {
		t.Fatalf("failed to claim slot: %v", err)
	}
	defer orch.endOp("docs")

	_, err := orch.CreateFullSnapshot(context.Background(), "docs")
	if !fault.IsKind(err, fault.AlreadyInProgress) {
		t.Errorf("expected AlreadyInProgress, got %v", err)
	}
}

type stubTracker struct{ id string }

func (s stubTracker) SourceID() string { return s.id }
func (s stubTracker) CreateSnapshot(context.Context) (*tracker.IncrementalSnapshot, error) {
	return nil, fault.New(fault.Internal, "stub", "not implemented")
}
func (s stubTracker) DetectChanges(context.Context) ([]tracker.ChangeRecord, error) {
	return nil, fault.New(fault.Internal, "stub", "not implemented")
}

func TestCreateBaseBackupRequiresFilesystemSource(t *testing.T) {
	store, err := tracker.NewSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}
	backend, err := newLocalBackend(t)
	if err != nil {
		t.Fatalf("failed to build backend: %v", err)
	}
	cfg := Config{
		SnapshotDir: t.TempDir(),
		Policy:      DefaultPlanPolicy(),
		Compression: compression.Config{Algorithm: compression.AlgorithmNone},
	}
	orch, err := NewOrchestrator(cfg, store, backend, nil, nil, nil)
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	if err := orch.RegisterSource(stubTracker{id: "pg-main"}); err != nil {
		t.Fatalf("failed to register source: %v", err)
	}

	_, err = orch.CreateBaseBackup(context.Background(), "pg-main")
	if !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for non-filesystem source, got %v", err)
	}
}

func TestCreateBaseBackupRequiresBackend(t *testing.T) {
	orch, root, _ := newTestOrchestrator(t)
	writeSourceFile(t, root, "a.txt", "content")

	_, err := orch.CreateBaseBackup(context.Background(), "docs")
	if !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument without a backend, got %v", err)
	}
}
