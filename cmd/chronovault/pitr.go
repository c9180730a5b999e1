// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/recovery"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/txlog"
)

var pitrCmd = &cobra.Command{
	Use:   "pitr",
	Short: "Point-in-time recovery",
}

var pitrListPointsCmd = &cobra.Command{
	Use:   "list-points",
	Short: "List reachable recovery points",
	Long: `List-points scans the shipped segment archive and synthesizes the
points an operator can restore to, one per granularity tick across
each segment's span. Without --since the window opens at the earliest
segment; without --until it closes at the newest.`,
	Example: `  chronovault pitr list-points
  chronovault pitr list-points --since 2026-03-01T00:00:00Z --until 2026-03-01T12:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runPitrListPoints,
}

var pitrRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore a source to a point in time",
	Long: `Restore selects the newest base backup at or before --target-time,
extracts it into an isolated workspace, and replays shipped log
segments up to the target. The achieved recovery time never exceeds
the requested target. Work happens in the workspace only; promoting
the restored data into service is the operator's step.

The final operation record is written under the workspace so
"pitr status" can inspect it later.`,
	Example: `  chronovault pitr restore --target-time 2026-03-01T11:55:00Z --source pg-main
  chronovault pitr restore --target-time 2026-03-01T11:55:00Z \
      --source pg-main --target pg-main-recovered --type transaction_replay`,
	Args: cobra.NoArgs,
	RunE: runPitrRestore,
}

var pitrStatusCmd = &cobra.Command{
	Use:     "status <operation-id>",
	Short:   "Inspect a recovery operation",
	Example: `  chronovault pitr status 6f1c2a4e-9b0d-4b7e-8a3f-2d5c6e7f8a9b`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPitrStatus,
}

var (
	pitrSince      string
	pitrUntil      string
	pitrTargetTime string
	pitrSource     string
	pitrTarget     string
	pitrType       string
)

func init() {
	pitrListPointsCmd.Flags().StringVar(&pitrSince, "since", "", "window start (RFC3339)")
	pitrListPointsCmd.Flags().StringVar(&pitrUntil, "until", "", "window end (RFC3339)")

	pitrRestoreCmd.Flags().StringVar(&pitrTargetTime, "target-time", "", "recovery target (RFC3339)")
	pitrRestoreCmd.Flags().StringVar(&pitrSource, "source", "", "source identifier to restore")
	pitrRestoreCmd.Flags().StringVar(&pitrTarget, "target", "", "target database or location (default: the source)")
	pitrRestoreCmd.Flags().StringVar(&pitrType, "type", string(recovery.TypeFullRestore),
		"recovery type (full_restore, transaction_replay, incremental_restore, selective_restore)")
	_ = pitrRestoreCmd.MarkFlagRequired("target-time")
	_ = pitrRestoreCmd.MarkFlagRequired("source")

	pitrCmd.AddCommand(pitrListPointsCmd)
	pitrCmd.AddCommand(pitrRestoreCmd)
	pitrCmd.AddCommand(pitrStatusCmd)
	rootCmd.AddCommand(pitrCmd)
}

func runPitrListPoints(cmd *cobra.Command, args []string) error {
	if !cfg.ShippingConfigured() {
		return fault.New(fault.InvalidArgument, "cli.pitrListPoints",
			"transaction log shipping is not configured; no recovery points exist")
	}

	var since, until time.Time
	var err error
	if pitrSince != "" {
		if since, err = parseTimeFlag("since", pitrSince); err != nil {
			return err
		}
	}
	if pitrUntil != "" {
		if until, err = parseTimeFlag("until", pitrUntil); err != nil {
			return err
		}
	}

	manager, err := txlog.NewManager(cfg.TxLog)
	if err != nil {
		return err
	}
	points, err := manager.GetAvailableRecoveryPoints(cmd.Context(), since, until)
	if err != nil {
		return err
	}

	if len(points) == 0 {
		fmt.Println("No recovery points in the requested window")
		return nil
	}

	fmt.Printf("%d recovery point(s)\n\n", len(points))
	fmt.Printf("  %-25s %-14s %s\n", "TIMESTAMP", "LSN", "SEGMENTS NEEDED")
	for _, p := range points {
		lsn := p.LSN
		if lsn == "" {
			lsn = "-"
		}
		fmt.Printf("  %-25s %-14s %d\n", p.Timestamp.Format(time.RFC3339), lsn, len(p.LogFiles))
	}
	return nil
}

func runPitrRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	target, err := parseTimeFlag("target-time", pitrTargetTime)
	if err != nil {
		return err
	}
	rtype := recovery.RecoveryType(pitrType)
	if !rtype.Valid() {
		return fault.Errorf(fault.InvalidArgument, "cli.pitrRestore", "unknown recovery type %q", pitrType)
	}

	bus, closeBus, err := newAuditPublisher(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	orch, err := buildRecoveryOrchestrator(ctx, bus)
	if err != nil {
		return err
	}

	// Prefer a real recovery point at or before the target; segments
	// then carry their replay list. Without any shipped segments the
	// target time alone drives base backup selection.
	point := txlog.RecoveryPoint{Timestamp: target}
	if cfg.ShippingConfigured() {
		manager, mgrErr := txlog.NewManager(cfg.TxLog)
		if mgrErr != nil {
			return mgrErr
		}
		points, ptsErr := manager.GetAvailableRecoveryPoints(ctx, time.Time{}, target)
		if ptsErr != nil && !fault.IsKind(ptsErr, fault.NotFound) {
			return ptsErr
		}
		if len(points) > 0 {
			point = points[len(points)-1]
		}
	}

	op, err := orch.CreateRecoveryOperation(rtype, point, pitrSource, pitrTarget)
	if err != nil {
		return err
	}
	fmt.Printf("Recovery operation %s created, restoring to %s...\n",
		op.OperationID, target.Format(time.RFC3339))

	execErr := orch.ExecuteRecovery(ctx, op.OperationID)

	final, getErr := orch.GetOperation(op.OperationID)
	if getErr == nil {
		if saveErr := saveOperationRecord(final); saveErr != nil {
			logging.Warn().Err(saveErr).Str("operation", op.OperationID).
				Msg("Failed to persist operation record")
		}
	}

	if execErr != nil {
		fmt.Printf("✗ Recovery failed\n\n")
		if final != nil {
			printOperation(final)
		}
		return execErr
	}

	fmt.Printf("✓ Recovery completed\n\n")
	if final != nil {
		printOperation(final)
	}
	return nil
}

func runPitrStatus(cmd *cobra.Command, args []string) error {
	op, err := loadOperationRecord(args[0])
	if err != nil {
		return err
	}
	printOperation(op)
	return nil
}

// buildRecoveryOrchestrator wires the restore pipeline: the base
// backup catalog over the storage backend, the segment manager when
// shipping is configured, and decryption when any artifact kind is
// encrypted.
func buildRecoveryOrchestrator(ctx context.Context, bus events.Publisher) (*recovery.Orchestrator, error) {
	backend, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, err
	}
	catalog := backup.NewCatalog(backend)

	var manager *txlog.Manager
	if cfg.ShippingConfigured() {
		if manager, err = txlog.NewManager(cfg.TxLog); err != nil {
			return nil, err
		}
	}

	var enc *encryption.Service
	if cfg.Backup.Encrypt || cfg.TxLog.Encrypt {
		if enc, err = newEncryptionService(ctx, bus); err != nil {
			return nil, err
		}
	}
	return recovery.NewOrchestrator(cfg.Recovery, catalog, manager, enc, metrics.Nop{}, bus)
}

func parseTimeFlag(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fault.Errorf(fault.InvalidArgument, "cli.parseTimeFlag",
			"--%s must be RFC3339 (e.g. 2026-03-01T12:00:00Z): %v", name, err)
	}
	return t, nil
}

func printOperation(op *recovery.RecoveryOperation) {
	fmt.Printf("Recovery operation %s\n\n", op.OperationID)
	fmt.Printf("  Type:      %s\n", op.Type)
	fmt.Printf("  Status:    %s\n", op.Status)
	fmt.Printf("  Progress:  %d%%\n", op.Progress)
	if op.CurrentStep != "" {
		fmt.Printf("  Step:      %s\n", op.CurrentStep)
	}
	fmt.Printf("  Source:    %s\n", op.SourceDB)
	fmt.Printf("  Target:    %s\n", op.TargetDB)
	fmt.Printf("  Requested: %s\n", op.Target.Timestamp.Format(time.RFC3339))
	if achieved, ok := op.Validation["achieved_time"]; ok {
		fmt.Printf("  Achieved:  %s\n", achieved)
	}
	if restored, ok := op.Validation["restored_path"]; ok {
		fmt.Printf("  Data path: %s\n", restored)
	}
	fmt.Printf("  Restored:  %s\n", formatBytes(op.RestoredBytes))
	if op.TransactionsReplayed > 0 {
		fmt.Printf("  Replayed:  %d segment(s)\n", op.TransactionsReplayed)
	}
	fmt.Printf("  Started:   %s\n", op.StartedAt.Format(time.RFC3339))
	if op.EndedAt != nil {
		fmt.Printf("  Ended:     %s\n", op.EndedAt.Format(time.RFC3339))
	}
	for _, warning := range op.Warnings {
		fmt.Printf("  Warning:   %s\n", warning)
	}
	for _, opErr := range op.Errors {
		fmt.Printf("  Error:     %s\n", opErr)
	}
}

func operationRecordPath(id string) string {
	return filepath.Join(cfg.Recovery.WorkspaceDir, "operations", id+".json")
}

// saveOperationRecord persists the final operation state so a later
// "pitr status" in a fresh process can read it.
func saveOperationRecord(op *recovery.RecoveryOperation) error {
	path := operationRecordPath(op.OperationID)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fault.FromOS("cli.saveOperationRecord", err)
	}
	data, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return fault.Wrap(fault.Internal, "cli.saveOperationRecord", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fault.FromOS("cli.saveOperationRecord", err)
	}
	return nil
}

func loadOperationRecord(id string) (*recovery.RecoveryOperation, error) {
	data, err := os.ReadFile(operationRecordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Errorf(fault.NotFound, "cli.loadOperationRecord",
				"no record for operation %s", id)
		}
		return nil, fault.FromOS("cli.loadOperationRecord", err)
	}
	op := &recovery.RecoveryOperation{}
	if err := json.Unmarshal(data, op); err != nil {
		return nil, fault.Wrap(fault.Internal, "cli.loadOperationRecord", err)
	}
	return op, nil
}
