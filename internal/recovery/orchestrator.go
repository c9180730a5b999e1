// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/txlog"
)

// Orchestrator drives recovery operations through their state machine.
// One mutex guards the operation map; no phase holds it across file or
// network I/O.
type Orchestrator struct {
	cfg      Config
	catalog  *backup.Catalog
	manager  *txlog.Manager
	enc      *encryption.Service
	replayer Replayer
	sink     metrics.Sink
	bus      events.Publisher

	mu      sync.Mutex
	ops     map[string]*RecoveryOperation
	cancels map[string]context.CancelFunc
}

// NewOrchestrator wires the orchestrator. manager may be nil when log
// replay is not needed; enc may be nil when backups are not encrypted;
// sink and bus may be nil.
func NewOrchestrator(cfg Config, catalog *backup.Catalog, manager *txlog.Manager, enc *encryption.Service, sink metrics.Sink, bus events.Publisher) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if catalog == nil {
		return nil, fault.New(fault.InvalidArgument, "recovery.NewOrchestrator", "base backup catalog is required")
	}

	var replayer Replayer
	if cfg.Replayer == ReplayerCommand {
		cr, err := NewCommandReplayer(cfg.ReplayCommand)
		if err != nil {
			return nil, err
		}
		replayer = cr
	} else {
		replayer = StageReplayer{}
	}

	if sink == nil {
		sink = metrics.Nop{}
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Orchestrator{
		cfg:      cfg,
		catalog:  catalog,
		manager:  manager,
		enc:      enc,
		replayer: replayer,
		sink:     sink,
		bus:      bus,
		ops:      make(map[string]*RecoveryOperation),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// CreateRecoveryOperation registers a new operation in Pending. An
// empty target database defaults to the source.
func (o *Orchestrator) CreateRecoveryOperation(recoveryType RecoveryType, target txlog.RecoveryPoint, sourceDB, targetDB string) (*RecoveryOperation, error) {
	if !recoveryType.Valid() {
		return nil, fault.Errorf(fault.InvalidArgument, "recovery.CreateRecoveryOperation", "unknown recovery type %q", recoveryType)
	}
	if target.Timestamp.IsZero() {
		return nil, fault.New(fault.InvalidArgument, "recovery.CreateRecoveryOperation", "recovery target timestamp is required")
	}
	if sourceDB == "" {
		return nil, fault.New(fault.InvalidArgument, "recovery.CreateRecoveryOperation", "source identifier is required")
	}
	if targetDB == "" {
		targetDB = sourceDB
	}

	op := &RecoveryOperation{
		OperationID: uuid.New().String(),
		Type:        recoveryType,
		Target:      target,
		SourceDB:    sourceDB,
		TargetDB:    targetDB,
		Status:      StatusPending,
		StartedAt:   time.Now().UTC(),
	}

	o.mu.Lock()
	o.ops[op.OperationID] = op
	o.mu.Unlock()

	logging.Info().
		Str("operation", op.OperationID).
		Str("type", string(recoveryType)).
		Str("source", sourceDB).
		Time("target", target.Timestamp).
		Msg("Recovery operation created")
	return op.Clone(), nil
}

// GetOperation returns a copy of the operation record.
func (o *Orchestrator) GetOperation(operationID string) (*RecoveryOperation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[operationID]
	if !ok {
		return nil, fault.Errorf(fault.NotFound, "recovery.GetOperation", "operation %s not found", operationID)
	}
	return op.Clone(), nil
}

// Operations returns copies of every tracked operation, oldest first.
func (o *Orchestrator) Operations() []*RecoveryOperation {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*RecoveryOperation, 0, len(o.ops))
	for _, op := range o.ops {
		out = append(out, op.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Cancel stops an operation. Pending operations cancel cleanly; an
// executing operation is cancelled best-effort through its context and
// ends up Cancelled or Failed depending on how far it got.
func (o *Orchestrator) Cancel(operationID string) error {
	o.mu.Lock()
	op, ok := o.ops[operationID]
	if !ok {
		o.mu.Unlock()
		return fault.Errorf(fault.NotFound, "recovery.Cancel", "operation %s not found", operationID)
	}
	switch {
	case op.Status == StatusPending:
		now := time.Now().UTC()
		op.Status = StatusCancelled
		op.CurrentStep = "cancelled"
		op.EndedAt = &now
		o.mu.Unlock()
		logging.Info().Str("operation", operationID).Msg("Recovery operation cancelled")
		return nil
	case op.Status.Terminal():
		status := op.Status
		o.mu.Unlock()
		return fault.Errorf(fault.InvalidArgument, "recovery.Cancel", "operation %s already finished as %s", operationID, status)
	default:
		cancel := o.cancels[operationID]
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	}
}

// restorePlan is resolved during Preparing, before any data moves.
type restorePlan struct {
	record    *backup.BaseBackup
	segments  []*txlog.LogSegment
	selection []string
}

// restoreOutcome carries what the restore phase produced into
// validation.
type restoreOutcome struct {
	restoredPath    string
	restoredBytes   int64
	filesRestored   int
	segmentsApplied int
	achieved        time.Time
	baseBackupID    string
}

// ExecuteRecovery runs one operation to a terminal state. It blocks
// until the operation finishes; run it in a goroutine for asynchronous
// execution and follow progress via GetOperation.
func (o *Orchestrator) ExecuteRecovery(ctx context.Context, operationID string) error {
	runCtx, op, err := o.begin(ctx, operationID)
	if err != nil {
		return err
	}
	defer o.endExecution(operationID)

	start := time.Now()
	_ = o.bus.Publish(runCtx, events.Success(events.TypeRecoveryStarted, operationID, map[string]string{
		"recovery_type": string(op.Type),
		"source":        op.SourceDB,
		"target_time":   op.Target.Timestamp.Format(time.RFC3339),
	}))
	logging.Info().
		Str("operation", operationID).
		Str("type", string(op.Type)).
		Time("target", op.Target.Timestamp).
		Msg("Starting recovery")

	ws, err := newWorkspace(o.cfg.WorkspaceDir, operationID)
	if err != nil {
		return o.fail(runCtx, operationID, op, start, nil, err)
	}

	plan, err := o.prepare(runCtx, op)
	if err != nil {
		if runCtx.Err() != nil {
			return o.abort(runCtx, operationID, op, start, ws)
		}
		return o.fail(runCtx, operationID, op, start, ws, err)
	}
	if runCtx.Err() != nil {
		return o.abort(runCtx, operationID, op, start, ws)
	}

	if err := o.transition(operationID, StatusRestoring); err != nil {
		return o.fail(runCtx, operationID, op, start, ws, err)
	}
	res, err := o.restore(runCtx, op, ws, plan)
	if err != nil {
		return o.fail(runCtx, operationID, op, start, ws, err)
	}

	if err := o.transition(operationID, StatusValidating); err != nil {
		return o.fail(runCtx, operationID, op, start, ws, err)
	}
	o.setStep(operationID, "validating restored data", 80)
	if err := o.validateOutcome(operationID, op, res); err != nil {
		return o.fail(runCtx, operationID, op, start, ws, err)
	}

	o.complete(runCtx, operationID, op, start, res)
	return nil
}

// begin claims a Pending operation for execution.
func (o *Orchestrator) begin(ctx context.Context, operationID string) (context.Context, *RecoveryOperation, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[operationID]
	if !ok {
		return nil, nil, fault.Errorf(fault.NotFound, "recovery.ExecuteRecovery", "operation %s not found", operationID)
	}
	if op.Status.Terminal() {
		return nil, nil, fault.Errorf(fault.InvalidArgument, "recovery.ExecuteRecovery",
			"operation %s already finished as %s", operationID, op.Status)
	}
	if op.Status != StatusPending {
		return nil, nil, fault.Errorf(fault.AlreadyInProgress, "recovery.ExecuteRecovery",
			"operation %s is already executing", operationID)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancels[operationID] = cancel
	op.Status = StatusPreparing
	op.CurrentStep = "creating recovery workspace"
	op.Progress = 10
	return runCtx, op.Clone(), nil
}

func (o *Orchestrator) endExecution(operationID string) {
	o.mu.Lock()
	cancel := o.cancels[operationID]
	delete(o.cancels, operationID)
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// prepare resolves everything the restore phase needs: the base
// backup, the segments to replay, and any selection filter. Nothing is
// downloaded or written yet.
func (o *Orchestrator) prepare(ctx context.Context, op *RecoveryOperation) (*restorePlan, error) {
	plan := &restorePlan{}
	target := op.Target.Timestamp

	switch op.Type {
	case TypeFullRestore, TypeIncrementalRestore, TypeSelectiveRestore:
		o.setStep(op.OperationID, "locating base backup", 10)
		record, err := o.selectBaseBackup(ctx, op.SourceDB, target)
		if err != nil {
			return nil, err
		}
		plan.record = record

		if op.Type == TypeSelectiveRestore {
			selection := splitSelection(op.Target.Metadata["paths"])
			if len(selection) == 0 {
				return nil, fault.New(fault.InvalidArgument, "recovery.prepare",
					"selective restore requires paths in the target point metadata")
			}
			plan.selection = selection
		}
		if op.Type == TypeFullRestore && len(op.Target.LogFiles) > 0 {
			segments, err := o.prepareSegments(ctx, op, record.CreatedAt)
			if err != nil {
				return nil, err
			}
			plan.segments = segments
		}
	case TypeTransactionReplay:
		if len(op.Target.LogFiles) == 0 {
			return nil, fault.New(fault.InvalidArgument, "recovery.prepare", "recovery point references no log segments")
		}
		segments, err := o.prepareSegments(ctx, op, time.Time{})
		if err != nil {
			return nil, err
		}
		plan.segments = segments
	default:
		return nil, fault.Errorf(fault.InvalidArgument, "recovery.prepare", "unknown recovery type %q", op.Type)
	}

	o.setStep(op.OperationID, "recovery plan resolved", 20)
	return plan, nil
}

// selectBaseBackup scans newest-first for the latest base backup at or
// before the target. A miss is a hard failure, never a fallback.
func (o *Orchestrator) selectBaseBackup(ctx context.Context, sourceID string, target time.Time) (*backup.BaseBackup, error) {
	records, err := o.catalog.List(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].CreatedAt.After(target) {
			return records[i], nil
		}
	}
	return nil, fault.Errorf(fault.NotFound, "recovery.selectBaseBackup",
		"no suitable base backup for %s at or before %s", sourceID, target.Format(time.RFC3339))
}

// prepareSegments validates integrity of the point's referenced
// segments and resolves their catalog entries in replay order. A
// degraded integrity report blocks the recovery.
func (o *Orchestrator) prepareSegments(ctx context.Context, op *RecoveryOperation, after time.Time) ([]*txlog.LogSegment, error) {
	if o.manager == nil {
		return nil, fault.New(fault.InvalidArgument, "recovery.prepare", "no transaction log manager configured for log replay")
	}

	o.setStep(op.OperationID, "validating log integrity", 10)
	report, err := txlog.ValidateLogIntegrity(ctx, op.Target.LogFiles)
	if err != nil {
		return nil, err
	}
	if !report.Healthy() {
		return nil, fault.Errorf(fault.IntegrityCheckFailed, "recovery.prepare",
			"log catalog degraded: %d corrupted, %d missing segments", len(report.Corrupted), len(report.Missing))
	}

	all, err := o.manager.Segments(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(op.Target.LogFiles))
	for _, path := range op.Target.LogFiles {
		want[path] = struct{}{}
	}

	matched := 0
	segments := make([]*txlog.LogSegment, 0, len(op.Target.LogFiles))
	for _, seg := range all {
		if _, ok := want[seg.SourcePath]; !ok {
			continue
		}
		matched++
		// Segments covered by the base backup add nothing.
		if !after.IsZero() && !seg.CreatedAt.After(after) {
			continue
		}
		segments = append(segments, seg)
	}
	if matched == 0 {
		return nil, fault.Errorf(fault.NotFound, "recovery.prepare",
			"none of the %d log segments referenced by the recovery point are in the catalog", len(op.Target.LogFiles))
	}
	return segments, nil
}

// restore executes the plan inside the workspace.
func (o *Orchestrator) restore(ctx context.Context, op *RecoveryOperation, ws *Workspace, plan *restorePlan) (*restoreOutcome, error) {
	res := &restoreOutcome{restoredPath: ws.DataDir}

	if plan.record != nil {
		o.setStep(op.OperationID, "fetching base backup", 20)
		archivePath := filepath.Join(ws.StageDir, filepath.Base(plan.record.StorageKey))
		if err := o.catalog.Fetch(ctx, plan.record, archivePath); err != nil {
			return nil, err
		}

		restored, files, err := o.extractBase(ctx, op, ws, plan.record, archivePath, plan.selection)
		if err != nil {
			return nil, err
		}
		res.restoredBytes = restored
		res.filesRestored = files
		res.baseBackupID = plan.record.ID
		res.achieved = plan.record.CreatedAt
		o.update(op.OperationID, func(live *RecoveryOperation) { live.RestoredBytes = restored })
		o.setStep(op.OperationID, "base backup extracted", 40)
	} else {
		res.restoredPath = ws.SegmentsDir
	}

	if len(plan.segments) > 0 {
		o.setStep(op.OperationID, "replaying log segments", 40)
		applied, err := o.replayer.Replay(ctx, ws, plan.segments, op.Target.Timestamp)
		res.segmentsApplied = applied
		o.update(op.OperationID, func(live *RecoveryOperation) { live.TransactionsReplayed = applied })
		if err != nil {
			return nil, err
		}
		res.achieved = achievedTime(plan.segments[:applied], op.Target.Timestamp, res.achieved)
	}

	o.setStep(op.OperationID, "restore finished", 80)
	return res, nil
}

// extractBase decrypts the fetched archive when needed and expands it
// into the workspace data directory.
func (o *Orchestrator) extractBase(ctx context.Context, op *RecoveryOperation, ws *Workspace, record *backup.BaseBackup, archivePath string, selection []string) (int64, int, error) {
	if record.Encrypted {
		if o.enc == nil {
			return 0, 0, fault.Errorf(fault.InvalidArgument, "recovery.restore",
				"base backup %s is encrypted but no encryption service is configured", record.ID)
		}
		if record.Encryption != nil {
			if err := encryption.WriteMetadata(encryption.MetadataPath(archivePath), record.Encryption); err != nil {
				return 0, 0, err
			}
		}
		plain := strings.TrimSuffix(archivePath, ".enc")
		if plain == archivePath {
			plain = archivePath + ".plain"
		}
		o.setStep(op.OperationID, "decrypting base backup", 20)
		if err := o.enc.DecryptFile(ctx, archivePath, plain, ""); err != nil {
			return 0, 0, err
		}
		archivePath = plain
	}

	o.setStep(op.OperationID, "extracting base backup", 20)
	return extractArchive(ctx, archivePath, record.Compression, ws.DataDir, selection)
}

// validateOutcome confirms the restored path exists and the achieved
// time never exceeds the target. Recovering short is reported as a
// warning.
func (o *Orchestrator) validateOutcome(operationID string, op *RecoveryOperation, res *restoreOutcome) error {
	info, err := os.Stat(res.restoredPath)
	if err != nil || !info.IsDir() {
		return fault.Errorf(fault.Internal, "recovery.validate", "restored data path %s is missing", res.restoredPath)
	}
	target := op.Target.Timestamp
	if res.achieved.After(target) {
		return fault.Errorf(fault.Internal, "recovery.validate",
			"achieved recovery time %s exceeds the requested target %s",
			res.achieved.Format(time.RFC3339), target.Format(time.RFC3339))
	}

	validation := map[string]string{
		"data_path_exists": "true",
		"restored_path":    res.restoredPath,
		"target_time":      target.Format(time.RFC3339),
		"achieved_time":    res.achieved.Format(time.RFC3339),
		"files_restored":   strconv.Itoa(res.filesRestored),
		"segments_applied": strconv.Itoa(res.segmentsApplied),
	}
	if res.baseBackupID != "" {
		validation["base_backup"] = res.baseBackupID
	}

	o.update(operationID, func(live *RecoveryOperation) {
		live.Validation = validation
		if res.achieved.Before(target) {
			live.Warnings = append(live.Warnings, fmt.Sprintf("recovered to %s, %s short of the requested target",
				res.achieved.Format(time.RFC3339), target.Sub(res.achieved)))
		}
	})
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, operationID string, op *RecoveryOperation, start time.Time, res *restoreOutcome) {
	now := time.Now().UTC()
	o.update(operationID, func(live *RecoveryOperation) {
		live.Status = StatusCompleted
		live.CurrentStep = "completed"
		live.Progress = 100
		live.EndedAt = &now
	})

	o.sink.RecordCounter("recovery_operations_total", metrics.Tags{"type": string(op.Type), "outcome": "success"})
	o.sink.RecordHistogram("recovery_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"type": string(op.Type)})
	_ = o.bus.Publish(ctx, events.Success(events.TypeRecoveryFinished, operationID, map[string]string{
		"achieved_time":    res.achieved.Format(time.RFC3339),
		"segments_applied": strconv.Itoa(res.segmentsApplied),
	}))
	logging.Info().
		Str("operation", operationID).
		Str("type", string(op.Type)).
		Time("achieved", res.achieved).
		Int("segments", res.segmentsApplied).
		Msg("Recovery completed")
}

// fail discards the workspace and marks the operation Failed with the
// cause preserved for postmortem.
func (o *Orchestrator) fail(ctx context.Context, operationID string, op *RecoveryOperation, start time.Time, ws *Workspace, cause error) error {
	if ws != nil {
		if err := ws.Discard(); err != nil {
			logging.Warn().Err(err).Str("operation", operationID).Msg("Failed to discard recovery workspace")
		}
	}
	now := time.Now().UTC()
	o.update(operationID, func(live *RecoveryOperation) {
		live.Status = StatusFailed
		live.CurrentStep = "failed"
		live.EndedAt = &now
		live.Errors = append(live.Errors, cause.Error())
	})

	o.sink.RecordCounter("recovery_operations_total", metrics.Tags{"type": string(op.Type), "outcome": "failure"})
	o.sink.RecordHistogram("recovery_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"type": string(op.Type)})
	_ = o.bus.Publish(ctx, events.Failure(events.TypeRecoveryFinished, operationID, cause, map[string]string{
		"recovery_type": string(op.Type),
	}))
	logging.Error().Err(cause).Str("operation", operationID).Msg("Recovery failed")
	return cause
}

// abort handles cancellation before restoring began: the workspace is
// discarded and the operation ends Cancelled.
func (o *Orchestrator) abort(ctx context.Context, operationID string, op *RecoveryOperation, start time.Time, ws *Workspace) error {
	if ws != nil {
		_ = ws.Discard()
	}
	now := time.Now().UTC()
	o.update(operationID, func(live *RecoveryOperation) {
		if live.Status.CanTransitionTo(StatusCancelled) {
			live.Status = StatusCancelled
			live.CurrentStep = "cancelled"
		} else {
			live.Status = StatusFailed
			live.CurrentStep = "failed"
			live.Errors = append(live.Errors, "recovery cancelled; workspace discarded")
		}
		live.EndedAt = &now
	})

	o.sink.RecordCounter("recovery_operations_total", metrics.Tags{"type": string(op.Type), "outcome": "cancelled"})
	o.sink.RecordHistogram("recovery_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"type": string(op.Type)})
	_ = o.bus.Publish(ctx, events.New(events.TypeRecoveryFinished, operationID, "cancelled", nil))
	logging.Info().Str("operation", operationID).Msg("Recovery cancelled")
	return ctx.Err()
}

// transition moves the live record through the state machine.
func (o *Orchestrator) transition(operationID string, next OperationStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[operationID]
	if !ok {
		return fault.Errorf(fault.NotFound, "recovery.transition", "operation %s not found", operationID)
	}
	if !op.Status.CanTransitionTo(next) {
		return fault.Errorf(fault.Internal, "recovery.transition",
			"operation %s cannot move from %s to %s", operationID, op.Status, next)
	}
	op.Status = next
	return nil
}

// update runs fn on the live record under the lock.
func (o *Orchestrator) update(operationID string, fn func(*RecoveryOperation)) {
	o.mu.Lock()
	if op, ok := o.ops[operationID]; ok {
		fn(op)
	}
	o.mu.Unlock()
}

// setStep labels the current step and raises progress, never lowering
// it.
func (o *Orchestrator) setStep(operationID, step string, progress int) {
	o.update(operationID, func(op *RecoveryOperation) {
		op.CurrentStep = step
		if progress > op.Progress {
			op.Progress = progress
		}
	})
}

// achievedTime is the recovery timestamp the applied segments reach,
// clamped to the target. With no segments the base backup time stands.
func achievedTime(applied []*txlog.LogSegment, target, base time.Time) time.Time {
	achieved := base
	if n := len(applied); n > 0 {
		achieved = applied[n-1].CreatedAt
	}
	if achieved.After(target) {
		achieved = target
	}
	return achieved
}

// splitSelection parses the comma-separated path list carried in
// recovery point metadata.
func splitSelection(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
