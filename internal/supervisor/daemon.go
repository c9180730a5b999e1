// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// This file implements the ship daemon: assembly and supervision of the
// long-running transaction log shipping stack.
//
// Architecture:
//   - Daemon builds every component from the loaded configuration
//   - Components run under the supervisor tree for fault isolation
//   - Optional components (streamer, audit, metrics, encryption) are
//     wired only when their configuration enables them
//
// Example Usage:
//
//	daemon, err := supervisor.NewDaemon(cfg)
//	if err != nil {
//	    log.Fatal("Failed to create ship daemon:", err)
//	}
//
//	// Blocks until the context is canceled
//	if err := daemon.Run(ctx); err != nil {
//	    log.Error().Err(err).Msg("Ship daemon failed")
//	}
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomtom215/chronovault/internal/audit"
	"github.com/tomtom215/chronovault/internal/config"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/secrets"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/supervisor/services"
	"github.com/tomtom215/chronovault/internal/txlog"
)

// Errors for the ship daemon
var (
	ErrNilConfig             = errors.New("configuration cannot be nil")
	ErrDaemonAlreadyRunning  = errors.New("ship daemon is already running")
	ErrShippingNotConfigured = errors.New("transaction log shipping is not configured")
)

// DaemonStatus is a snapshot of what the daemon supervises.
type DaemonStatus struct {
	Running   bool       `json:"running"`
	SourceID  string     `json:"source_id"`
	WatchDir  string     `json:"watch_dir"`
	Streaming bool       `json:"streaming"`
	Audit     bool       `json:"audit"`
	Metrics   bool       `json:"metrics"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Daemon assembles the transaction log shipping stack from configuration
// and runs it under the supervisor tree.
//
// The supervised components are:
//   - segment shipper (shipping layer, always)
//   - retention sweeper (shipping layer, always)
//   - log streamer (shipping layer, when txlog.stream.enabled)
//   - audit recorder (platform layer, when audit.enabled)
//   - metrics server (platform layer, when metrics.enabled)
//
// Thread Safety:
//   - Run may be called from any goroutine but only one Run is active
//   - Status is safe to call concurrently with Run
type Daemon struct {
	cfg *config.Config

	mu        sync.Mutex
	running   bool
	startedAt time.Time
}

// NewDaemon creates a ship daemon for the given configuration.
//
// The configuration must have shipping configured: txlog.source_id and
// txlog.watch_dir set together. Everything else is optional.
func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if !cfg.ShippingConfigured() {
		return nil, ErrShippingNotConfigured
	}
	return &Daemon{cfg: cfg}, nil
}

// Status returns a snapshot of the daemon state.
func (d *Daemon) Status() DaemonStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := DaemonStatus{
		Running:   d.running,
		SourceID:  d.cfg.TxLog.SourceID,
		WatchDir:  d.cfg.TxLog.WatchDir,
		Streaming: d.cfg.TxLog.Stream.Enabled,
		Audit:     d.cfg.Audit.Enabled,
		Metrics:   d.cfg.Metrics.Enabled,
	}
	if d.running {
		started := d.startedAt
		status.StartedAt = &started
	}
	return status
}

// Run assembles the shipping stack and supervises it until the context
// is canceled. Context cancellation is the normal shutdown path and
// returns nil; any other supervisor error is returned as a failure.
//
// Returns ErrDaemonAlreadyRunning if another Run is active.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return ErrDaemonAlreadyRunning
	}
	d.running = true
	d.startedAt = time.Now()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	backend, err := storage.New(d.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}

	sink, metricsSrv := d.buildMetrics()

	// The bus exists only when something consumes it. Without the audit
	// recorder, components publish into a discard sink.
	var publisher events.Publisher = events.Discard{}
	var recorder *audit.Recorder
	if d.cfg.Audit.Enabled {
		store, serr := audit.NewFileStore(d.cfg.Audit.Dir)
		if serr != nil {
			return fmt.Errorf("failed to open audit store: %w", serr)
		}
		defer func() { _ = store.Close() }()

		bus := events.NewBus()
		defer func() { _ = bus.Close() }()

		recorder = audit.NewRecorder(d.cfg.Audit, store, bus)
		publisher = bus
	}

	var enc *encryption.Service
	if d.cfg.TxLog.Encrypt {
		provider, perr := secrets.NewFileProvider(filepath.Join(d.cfg.Encryption.KeyDir, secrets.DefaultFileName))
		if perr != nil {
			return fmt.Errorf("failed to open secrets provider: %w", perr)
		}
		enc, err = encryption.NewService(ctx, d.cfg.Encryption, provider, sink, publisher)
		if err != nil {
			return fmt.Errorf("failed to initialize encryption: %w", err)
		}
	}

	shipper, err := txlog.NewShipper(d.cfg.TxLog, backend, enc, sink, publisher)
	if err != nil {
		return fmt.Errorf("failed to create segment shipper: %w", err)
	}

	sweeper, err := txlog.NewRetention(d.cfg.TxLog, backend, shipper.Catalog(), sink)
	if err != nil {
		return fmt.Errorf("failed to create retention sweeper: %w", err)
	}

	var streamer *txlog.Streamer
	if d.cfg.TxLog.Stream.Enabled {
		streamer, err = txlog.NewStreamer(d.cfg.TxLog, sink)
		if err != nil {
			return fmt.Errorf("failed to create log streamer: %w", err)
		}
	}

	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("failed to create supervisor tree: %w", err)
	}

	tree.AddShippingService(services.NewShipperService(shipper))
	tree.AddShippingService(services.NewRetentionService(sweeper))
	if streamer != nil {
		tree.AddShippingService(services.NewStreamerService(streamer))
	}
	if recorder != nil {
		tree.AddPlatformService(services.NewAuditRecorderService(recorder))
	}
	if metricsSrv != nil {
		tree.AddPlatformService(services.NewMetricsServerService(metricsSrv, 5*time.Second))
	}

	logging.Info().
		Str("source_id", d.cfg.TxLog.SourceID).
		Str("watch_dir", d.cfg.TxLog.WatchDir).
		Bool("streaming", streamer != nil).
		Bool("audit", recorder != nil).
		Bool("metrics", metricsSrv != nil).
		Msg("Ship daemon starting")

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("supervisor tree failed: %w", err)
	}

	logging.Info().Str("source_id", d.cfg.TxLog.SourceID).Msg("Ship daemon stopped")
	return nil
}

// buildMetrics returns the sink components record into and, when the
// endpoint is enabled, the HTTP server exposing the Prometheus registry.
func (d *Daemon) buildMetrics() (metrics.Sink, *http.Server) {
	if !d.cfg.Metrics.Enabled {
		return metrics.Nop{}, nil
	}

	sink := metrics.NewPrometheusSink()

	mux := http.NewServeMux()
	mux.Handle("/metrics", sink.Handler())

	server := &http.Server{
		Addr:              d.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return sink, server
}
