// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/txlog"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Transaction log shipping and verification",
}

var logVerifyCmd = &cobra.Command{
	Use:   "verify <segment>...",
	Short: "Check log segments for corruption",
	Long: `Verify classifies each segment as valid, corrupted, or missing by
probing both ends of the file. A degraded result exits with the
integrity failure code, so recovery scripts can refuse to proceed on
damaged segments.`,
	Example: `  chronovault log verify /var/lib/chronovault/wal-archive/000000010000000000000042
  chronovault log verify /archive/*.zst`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLogVerify,
}

func init() {
	logCmd.AddCommand(logVerifyCmd)
	rootCmd.AddCommand(logCmd)
}

func runLogVerify(cmd *cobra.Command, args []string) error {
	report, err := txlog.ValidateLogIntegrity(cmd.Context(), args)
	if err != nil {
		return err
	}

	if report.Healthy() {
		fmt.Printf("✓ All %d segment(s) verified\n", len(report.Valid))
		return nil
	}

	fmt.Printf("✗ Verification failed (%s)\n\n", report.OverallStatus)
	fmt.Printf("  Valid:     %d\n", len(report.Valid))
	fmt.Printf("  Corrupted: %d\n", len(report.Corrupted))
	for _, path := range report.Corrupted {
		fmt.Printf("    %s\n", path)
	}
	fmt.Printf("  Missing:   %d\n", len(report.Missing))
	for _, path := range report.Missing {
		fmt.Printf("    %s\n", path)
	}
	return fault.Errorf(fault.IntegrityCheckFailed, "cli.logVerify",
		"%d of %d segment(s) failed verification",
		len(report.Corrupted)+len(report.Missing), len(args))
}
