// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/tracker"
)

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Inspect changes since the last snapshot",
}

var changesDetectCmd = &cobra.Command{
	Use:   "detect <source>",
	Short: "Diff a source against its baseline snapshot",
	Long: `Detect rescans the source and reports every item that was created,
modified, or deleted since the most recent snapshot. A snapshot must
exist first; run "chronovault snapshot create" to establish one.`,
	Example: `  chronovault changes detect pg-main`,
	Args:    cobra.ExactArgs(1),
	RunE:    runChangesDetect,
}

func init() {
	changesCmd.AddCommand(changesDetectCmd)
	rootCmd.AddCommand(changesCmd)
}

func runChangesDetect(cmd *cobra.Command, args []string) error {
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

	records, err := orch.DetectChanges(ctx, args[0])
	if err != nil {
		return err
	}

	var created, modified, deleted int
	var changedBytes int64
	for _, rec := range records {
		switch rec.Kind {
		case tracker.ChangeCreated:
			created++
		case tracker.ChangeModified:
			modified++
		case tracker.ChangeDeleted:
			deleted++
		}
		changedBytes += rec.Size
	}

	if len(records) == 0 {
		fmt.Printf("✓ No changes since the last snapshot of %s\n", args[0])
		return nil
	}

	fmt.Printf("✓ Change detection complete\n\n")
	fmt.Printf("  Source:        %s\n", args[0])
	fmt.Printf("  Changes:       %d (%d created, %d modified, %d deleted)\n",
		len(records), created, modified, deleted)
	fmt.Printf("  Changed bytes: %s\n\n", formatBytes(changedBytes))
	for _, rec := range records {
		fmt.Printf("  %-9s %s\n", rec.Kind, rec.Item)
	}
	return nil
}
