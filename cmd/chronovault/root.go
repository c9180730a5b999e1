// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/audit"
	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/checksum"
	"github.com/tomtom215/chronovault/internal/config"
	"github.com/tomtom215/chronovault/internal/database"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/secrets"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/tracker"
)

var (
	// cfgFile is the config file path from --config. Empty means the
	// default search order (CHRONOVAULT_CONFIG, then DefaultConfigPaths).
	cfgFile string

	// cfg is loaded once in PersistentPreRunE and read by every command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "chronovault",
	Short: "Incremental backup and point-in-time recovery",
	Long: `Chronovault tracks filesystem and database sources with content
checksums, ships transaction log segments to durable storage, and
restores a source to any available point in time.

Configuration is layered: built-in defaults, then an optional YAML
config file, then CHRONOVAULT_* environment variables (highest
priority). Every command exits non-zero on failure with an exit code
derived from the error kind.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.LoadFile(cfgFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		logging.Init(cfg.Logging)
		return nil
	},
}

// Execute runs the command tree under a signal-aware context. SIGINT
// and SIGTERM cancel the context, which long-running commands such as
// "log ship start" treat as a graceful shutdown request.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(fault.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default searches chronovault.yaml, /etc/chronovault/config.yaml)")
}

// newAuditPublisher returns the event publisher commands hand to the
// components they drive. With the audit trail enabled the publisher is
// a live bus drained by a recorder into the JSONL store; the returned
// cleanup stops the recorder and closes the bus and store. With audit
// disabled events are discarded.
//
// Callers defer the cleanup after any component cleanups, so events
// published while components shut down still reach the trail.
func newAuditPublisher(ctx context.Context) (events.Publisher, func(), error) {
	if !cfg.Audit.Enabled {
		return events.Discard{}, func() {}, nil
	}

	store, err := audit.NewFileStore(cfg.Audit.Dir)
	if err != nil {
		return nil, nil, err
	}
	bus := events.NewBus()
	recorder := audit.NewRecorder(cfg.Audit, store, bus)
	if err := recorder.Start(ctx); err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		recorder.Stop()
		_ = bus.Close()
		_ = store.Close()
	}
	return bus, cleanup, nil
}

// newChecksumService opens the configured checksum cache. Without a
// cache directory the cache is in-memory and every run rehashes.
func newChecksumService() (*checksum.Service, func(), error) {
	hasher := checksum.NewHasher(cfg.Checksum.CompositeThreshold)
	if cfg.Checksum.CacheDir == "" {
		return checksum.NewService(hasher, checksum.NewMemory()), func() {}, nil
	}

	store, err := checksum.OpenBadger(cfg.Checksum.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	return checksum.NewService(hasher, store), func() { _ = store.Close() }, nil
}

// newEncryptionService loads the key store from the configured key
// directory. Key lifecycle events go to bus.
func newEncryptionService(ctx context.Context, bus events.Publisher) (*encryption.Service, error) {
	provider, err := secrets.NewFileProvider(filepath.Join(cfg.Encryption.KeyDir, secrets.DefaultFileName))
	if err != nil {
		return nil, err
	}
	return encryption.NewService(ctx, cfg.Encryption, provider, metrics.Nop{}, bus)
}

// buildOrchestrator assembles the backup orchestrator with only the
// named source registered, so a broken definition for one source never
// blocks operations on another. The returned cleanup closes the
// checksum cache and any database connection the tracker holds.
func buildOrchestrator(ctx context.Context, bus events.Publisher, sourceID string) (*backup.Orchestrator, func(), error) {
	src, ok := cfg.Source(sourceID)
	if !ok {
		return nil, nil, fault.Errorf(fault.NotFound, "cli.buildOrchestrator", "source %q is not configured", sourceID)
	}

	snapshots, err := tracker.NewSnapshotStore(cfg.Backup.SnapshotDir)
	if err != nil {
		return nil, nil, err
	}
	checksums, closeChecksums, err := newChecksumService()
	if err != nil {
		return nil, nil, err
	}

	closers := []func(){closeChecksums}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	backend, err := storage.New(cfg.Storage)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var enc *encryption.Service
	if cfg.Backup.Encrypt {
		enc, err = newEncryptionService(ctx, bus)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	orch, err := backup.NewOrchestrator(cfg.Backup, snapshots, backend, enc, metrics.Nop{}, bus)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	t, closeTracker, err := openTracker(src, checksums, snapshots)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if closeTracker != nil {
		closers = append(closers, closeTracker)
	}
	if err := orch.RegisterSource(t); err != nil {
		cleanup()
		return nil, nil, err
	}
	return orch, cleanup, nil
}

// openTracker builds the tracker for one configured source. Database
// sources return a closer for the underlying connection.
func openTracker(src config.SourceConfig, checksums *checksum.Service, snapshots *tracker.SnapshotStore) (tracker.Tracker, func(), error) {
	switch src.Type {
	case "filesystem":
		t, err := tracker.NewFileSystem(src.ID, src.Root, src.Excludes, checksums, snapshots)
		if err != nil {
			return nil, nil, err
		}
		return t, nil, nil

	case "database":
		db, err := database.Open(src.Database)
		if err != nil {
			return nil, nil, err
		}
		t, err := tracker.NewDatabase(src.ID, db.Conn(), src.Tables, snapshots)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return t, func() { _ = db.Close() }, nil

	default:
		return nil, nil, fault.Errorf(fault.InvalidArgument, "cli.openTracker", "source %q has unsupported type %q", src.ID, src.Type)
	}
}

// formatBytes renders a byte count for terminal output.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for rem := n / unit; rem >= unit; rem /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
