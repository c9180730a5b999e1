// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Plan and create base backups",
}

var backupPlanCmd = &cobra.Command{
	Use:   "plan <source>",
	Short: "Recommend the next backup level for a source",
	Long: `Plan diffs the source against its baseline and applies the configured
policy: full when the last full backup is too old or too much changed,
differential on moderate churn, incremental otherwise. Planning never
writes anything.`,
	Example: `  chronovault backup plan pg-main`,
	Args:    cobra.ExactArgs(1),
	RunE:    runBackupPlan,
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <source>",
	Short: "Write a base backup archive of a source",
	Long: `Create captures a fresh snapshot, packs the source into a compressed
tar archive, optionally encrypts it, and uploads it to the configured
storage backend. The archive becomes a restore candidate for
point-in-time recovery.`,
	Example: `  chronovault backup create pg-main
  chronovault backup create media-library`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupCreate,
}

func init() {
	backupCmd.AddCommand(backupPlanCmd)
	backupCmd.AddCommand(backupCreateCmd)
	rootCmd.AddCommand(backupCmd)
}

func runBackupPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bus, closeBus, err := newAuditPublisher(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	orch, cleanup, err := buildOrchestrator(ctx, bus, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	plan, err := orch.GetBackupPlan(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("✓ Backup plan for %s\n\n", plan.SourceID)
	fmt.Printf("  Level:         %s\n", plan.Level)
	fmt.Printf("  Reason:        %s\n", plan.Reason)
	fmt.Printf("  Changed items: %d (ratio %.2f)\n", plan.ChangeCount, plan.ChangeRatio)
	fmt.Printf("  Changed bytes: %s\n", formatBytes(plan.ChangeBytes))
	if plan.BaselineID != "" {
		fmt.Printf("  Baseline:      %s\n", plan.BaselineID)
	}
	fmt.Printf("  Decided:       %s\n", plan.DecidedAt.Format(time.RFC3339))
	return nil
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bus, closeBus, err := newAuditPublisher(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	orch, cleanup, err := buildOrchestrator(ctx, bus, args[0])
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Creating base backup of %s...\n", args[0])
	rec, err := orch.CreateBaseBackup(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("✓ Base backup created\n\n")
	fmt.Printf("  Backup ID:   %s\n", rec.ID)
	fmt.Printf("  Source:      %s\n", rec.SourceID)
	fmt.Printf("  Storage key: %s\n", rec.StorageKey)
	fmt.Printf("  Size:        %s\n", formatBytes(rec.Size))
	fmt.Printf("  Files:       %d\n", rec.FileCount)
	fmt.Printf("  Checksum:    %s\n", rec.Checksum)
	fmt.Printf("  Compression: %s\n", rec.Compression)
	if rec.Encrypted && rec.Encryption != nil {
		fmt.Printf("  Encrypted:   yes (key %s)\n", rec.Encryption.KeyID)
	}
	fmt.Printf("  Created:     %s\n", rec.CreatedAt.Format(time.RFC3339))
	return nil
}
