// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/storage"
)

// Retention sweeps shipped segments out of storage and the archive
// directory once they age past the retention window, and trims the
// in-memory catalog on a shorter leash.
type Retention struct {
	cfg     Config
	backend storage.Backend
	catalog *SegmentCatalog
	sink    metrics.Sink

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRetention wires the sweep task. The catalog is shared with the
// shipper so bookkeeping pruning acts on live entries.
func NewRetention(cfg Config, backend storage.Backend, catalog *SegmentCatalog, sink metrics.Sink) (*Retention, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fault.New(fault.InvalidArgument, "txlog.NewRetention", "storage backend is required")
	}
	if catalog == nil {
		catalog = NewSegmentCatalog()
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Retention{cfg: cfg, backend: backend, catalog: catalog, sink: sink}, nil
}

// Start launches the sweep loop.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.mu.Unlock()

	logging.Info().
		Str("source", r.cfg.SourceID).
		Dur("retention", r.cfg.Retention).
		Dur("interval", r.cfg.SweepInterval).
		Msg("Starting retention sweep")

	r.wg.Add(1)
	go r.sweepLoop(runCtx)
	return nil
}

// Stop cancels the sweep loop and waits for it to finish.
func (r *Retention) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	logging.Info().Str("source", r.cfg.SourceID).Msg("Retention sweep stopped")
}

func (r *Retention) sweepLoop(ctx context.Context) {
	defer r.wg.Done()

	r.sweep(ctx)

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep applies the retention window to stored and local segments,
// then prunes catalog bookkeeping. Individual removal errors are
// logged and skipped so one bad object never stalls the sweep.
func (r *Retention) sweep(ctx context.Context) {
	now := time.Now().UTC()
	cutoff := now.Add(-r.cfg.Retention)

	removed := r.sweepStored(ctx, cutoff)
	local := r.sweepLocal(ctx, cutoff)
	pruned := r.catalog.Prune(now.Add(-r.cfg.BookkeepingTTL))

	r.sink.RecordGauge("txlog_catalog_segments", float64(r.catalog.Len()), metrics.Tags{"source": r.cfg.SourceID})
	if removed > 0 || local > 0 || pruned > 0 {
		logging.Info().
			Str("source", r.cfg.SourceID).
			Int("stored_removed", removed).
			Int("local_removed", local).
			Int("catalog_pruned", pruned).
			Msg("Retention sweep finished")
	}
}

// sweepStored removes stored artifacts and their records past the
// cutoff.
func (r *Retention) sweepStored(ctx context.Context, cutoff time.Time) int {
	prefix := segmentPrefix + r.cfg.SourceID + "/"
	objects, err := r.backend.List(ctx, prefix)
	if err != nil {
		logging.Warn().Err(err).Str("prefix", prefix).Msg("Failed to list stored segments")
		return 0
	}

	removed := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return removed
		}
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := r.backend.Remove(ctx, obj.Key); err != nil {
			logging.Warn().Err(err).Str("key", obj.Key).Msg("Failed to remove expired segment")
			continue
		}
		removed++
		r.sink.RecordCounter("txlog_retention_removed_total", metrics.Tags{"source": r.cfg.SourceID, "scope": "stored"})
	}
	return removed
}

// sweepLocal removes archive-directory files past the cutoff along
// with their sidecars, and clears sidecars whose segment is gone.
func (r *Retention) sweepLocal(ctx context.Context, cutoff time.Time) int {
	entries, err := os.ReadDir(r.cfg.WatchDir)
	if err != nil {
		logging.Warn().Err(err).Str("dir", r.cfg.WatchDir).Msg("Failed to read archive directory")
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(r.cfg.WatchDir, name)

		if isSidecar(name) {
			base := strings.TrimSuffix(path, sidecarSuffix)
			if _, err := os.Stat(base); os.IsNotExist(err) {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					logging.Warn().Err(err).Str("sidecar", name).Msg("Failed to remove orphan sidecar")
				}
			}
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logging.Warn().Err(err).Str("segment", name).Msg("Failed to remove expired local segment")
			continue
		}
		if err := os.Remove(SidecarPath(path)); err != nil && !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("segment", name).Msg("Failed to remove segment sidecar")
		}
		removed++
		r.sink.RecordCounter("txlog_retention_removed_total", metrics.Tags{"source": r.cfg.SourceID, "scope": "local"})
	}
	return removed
}
