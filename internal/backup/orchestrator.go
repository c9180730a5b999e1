// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package backup decides when a source needs a full, differential, or
// incremental backup, and produces the base backup archives recovery
// starts from. Trackers do the scanning; this package owns the policy
// and the archive pipeline.
package backup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tomtom215/chronovault/internal/bandwidth"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/tracker"
)

// Orchestrator coordinates snapshots, change detection, planning, and
// base backup creation across registered sources. One mutating
// operation runs per source at a time.
type Orchestrator struct {
	cfg     Config
	store   *tracker.SnapshotStore
	backend storage.Backend
	enc     *encryption.Service
	limiter *bandwidth.Limiter
	sink    metrics.Sink
	bus     events.Publisher

	mu       sync.Mutex
	trackers map[string]tracker.Tracker
	inFlight map[string]bool
}

// NewOrchestrator wires the orchestrator. backend and enc may be nil
// when base backup archiving is not used; sink and bus may be nil.
func NewOrchestrator(cfg Config, store *tracker.SnapshotStore, backend storage.Backend, enc *encryption.Service, sink metrics.Sink, bus events.Publisher) (*Orchestrator, error) {
	if cfg.Policy == (PlanPolicy{}) {
		cfg.Policy = DefaultPlanPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fault.New(fault.InvalidArgument, "backup.NewOrchestrator", "snapshot store is required")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		enc:      enc,
		limiter:  bandwidth.NewLimiter(cfg.UploadRateBytes),
		sink:     sink,
		bus:      bus,
		trackers: make(map[string]tracker.Tracker),
		inFlight: make(map[string]bool),
	}, nil
}

// RegisterSource adds a tracker under its source id.
func (o *Orchestrator) RegisterSource(t tracker.Tracker) error {
	if t == nil {
		return fault.New(fault.InvalidArgument, "backup.RegisterSource", "nil tracker")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.trackers[t.SourceID()]; exists {
		return fault.Errorf(fault.InvalidArgument, "backup.RegisterSource", "source %s already registered", t.SourceID())
	}
	o.trackers[t.SourceID()] = t
	logging.Info().Str("source", t.SourceID()).Msg("Backup source registered")
	return nil
}

// Sources lists registered source ids in sorted order.
func (o *Orchestrator) Sources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.trackers))
	for id := range o.trackers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (o *Orchestrator) tracker(sourceID string) (tracker.Tracker, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.trackers[sourceID]
	if !ok {
		return nil, fault.Errorf(fault.NotFound, "backup.Orchestrator", "source %s is not registered", sourceID)
	}
	return t, nil
}

// beginOp claims the per-source operation slot.
func (o *Orchestrator) beginOp(sourceID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[sourceID] {
		return fault.Errorf(fault.AlreadyInProgress, "backup.Orchestrator", "an operation is already running for source %s", sourceID)
	}
	o.inFlight[sourceID] = true
	return nil
}

func (o *Orchestrator) endOp(sourceID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sourceID)
}

// CreateFullSnapshot scans a source and persists a new full snapshot.
func (o *Orchestrator) CreateFullSnapshot(ctx context.Context, sourceID string) (*tracker.IncrementalSnapshot, error) {
	t, err := o.tracker(sourceID)
	if err != nil {
		return nil, err
	}
	if err := o.beginOp(sourceID); err != nil {
		return nil, err
	}
	defer o.endOp(sourceID)

	start := time.Now()
	snap, err := t.CreateSnapshot(ctx)
	if err != nil {
		_ = o.bus.Publish(ctx, events.Failure(events.TypeSnapshotCreated, sourceID, err, nil))
		return nil, err
	}

	o.sink.RecordCounter("backup_snapshots_created_total", metrics.Tags{"source": sourceID})
	o.sink.RecordHistogram("backup_snapshot_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"source": sourceID})
	_ = o.bus.Publish(ctx, events.Success(events.TypeSnapshotCreated, sourceID, map[string]string{
		"snapshot_id": snap.SnapshotID,
		"files":       strconv.Itoa(snap.FilesTracked),
		"bytes":       strconv.FormatInt(snap.TotalSize, 10),
	}))
	return snap, nil
}

// DetectChanges rescans a source against its latest snapshot. A source
// without a baseline yields NotFound.
func (o *Orchestrator) DetectChanges(ctx context.Context, sourceID string) ([]tracker.ChangeRecord, error) {
	t, err := o.tracker(sourceID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	changes, err := t.DetectChanges(ctx)
	if err != nil {
		if !fault.IsKind(err, fault.NotFound) {
			_ = o.bus.Publish(ctx, events.Failure(events.TypeChangesDetected, sourceID, err, nil))
		}
		return nil, err
	}

	counts := make(map[tracker.ChangeKind]int)
	for _, change := range changes {
		counts[change.Kind]++
		o.sink.RecordCounter("backup_changes_detected_total", metrics.Tags{"source": sourceID, "kind": string(change.Kind)})
	}
	o.sink.RecordHistogram("backup_change_detection_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"source": sourceID})
	_ = o.bus.Publish(ctx, events.Success(events.TypeChangesDetected, sourceID, map[string]string{
		"created":  strconv.Itoa(counts[tracker.ChangeCreated]),
		"modified": strconv.Itoa(counts[tracker.ChangeModified]),
		"deleted":  strconv.Itoa(counts[tracker.ChangeDeleted]),
	}))
	return changes, nil
}

// GetBackupPlan recommends the level of the next backup. A source with
// no snapshot history plans a full backup rather than erroring.
func (o *Orchestrator) GetBackupPlan(ctx context.Context, sourceID string) (*BackupPlan, error) {
	t, err := o.tracker(sourceID)
	if err != nil {
		return nil, err
	}

	history, err := o.store.History(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	plan := &BackupPlan{
		SourceID:  sourceID,
		DecidedAt: time.Now().UTC(),
	}

	var latest, lastFull *tracker.IncrementalSnapshot
	if len(history) > 0 {
		latest = history[len(history)-1]
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].BackupLevel == tracker.LevelFull {
				lastFull = history[i]
				break
			}
		}
	}

	if latest == nil || lastFull == nil {
		plan.Level = tracker.LevelFull
		plan.Reason = "no baseline snapshot exists"
		o.recordPlan(ctx, plan)
		return plan, nil
	}

	changes, err := t.DetectChanges(ctx)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			plan.Level = tracker.LevelFull
			plan.Reason = "no baseline snapshot exists"
			o.recordPlan(ctx, plan)
			return plan, nil
		}
		return nil, err
	}

	plan.BaselineID = latest.SnapshotID
	plan.ChangeCount = len(changes)
	plan.ChangeBytes = changeBytes(changes)
	plan.ChangeRatio = changeRatio(len(changes), latest.FilesTracked)
	plan.Level, plan.Reason = o.cfg.Policy.Decide(plan.DecidedAt.Sub(lastFull.CreatedAt), plan.ChangeRatio)

	o.recordPlan(ctx, plan)
	return plan, nil
}

// CreateBaseBackup takes a fresh full snapshot of a filesystem source
// and archives it to durable storage. Database sources are covered by
// registering a filesystem tracker over their data directory.
func (o *Orchestrator) CreateBaseBackup(ctx context.Context, sourceID string) (*BaseBackup, error) {
	if o.backend == nil {
		return nil, fault.New(fault.InvalidArgument, "backup.CreateBaseBackup", "no storage backend configured")
	}
	t, err := o.tracker(sourceID)
	if err != nil {
		return nil, err
	}
	fs, ok := t.(*tracker.FileSystem)
	if !ok {
		return nil, fault.Errorf(fault.InvalidArgument, "backup.CreateBaseBackup", "source %s is not a filesystem source; base backups archive filesystem sources", sourceID)
	}
	if err := o.beginOp(sourceID); err != nil {
		return nil, err
	}
	defer o.endOp(sourceID)

	archiver, err := NewArchiver(o.cfg, o.backend, o.enc, o.limiter)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	snap, err := fs.CreateSnapshot(ctx)
	if err != nil {
		_ = o.bus.Publish(ctx, events.Failure(events.TypeBaseBackupCreated, sourceID, err, nil))
		return nil, err
	}

	record, err := archiver.Create(ctx, fs.Root(), snap)
	if err != nil {
		_ = o.bus.Publish(ctx, events.Failure(events.TypeBaseBackupCreated, sourceID, err, nil))
		return nil, err
	}

	o.sink.RecordCounter("backup_base_backups_total", metrics.Tags{"source": sourceID})
	o.sink.RecordHistogram("backup_base_backup_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"source": sourceID})
	_ = o.bus.Publish(ctx, events.Success(events.TypeBaseBackupCreated, sourceID, map[string]string{
		"backup_id":   record.ID,
		"snapshot_id": record.SnapshotID,
		"bytes":       strconv.FormatInt(record.Size, 10),
		"files":       strconv.Itoa(record.FileCount),
	}))
	return record, nil
}

func (o *Orchestrator) recordPlan(ctx context.Context, plan *BackupPlan) {
	o.sink.RecordCounter("backup_plan_evaluations_total", metrics.Tags{"level": string(plan.Level)})
	_ = o.bus.Publish(ctx, events.Success(events.TypePlanEvaluated, plan.SourceID, map[string]string{
		"level":        string(plan.Level),
		"reason":       plan.Reason,
		"change_count": strconv.Itoa(plan.ChangeCount),
		"change_ratio": fmt.Sprintf("%.4f", plan.ChangeRatio),
	}))
	logging.Info().
		Str("source", plan.SourceID).
		Str("level", string(plan.Level)).
		Int("changes", plan.ChangeCount).
		Float64("ratio", plan.ChangeRatio).
		Msg("Backup plan evaluated")
}
