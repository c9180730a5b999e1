// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/bandwidth"
	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/storage"
)

// segmentPrefix is the storage namespace for shipped segments.
const segmentPrefix = "segments/"

// segmentKey names stored segments so lexical order equals sequence
// order within a source.
func segmentKey(sourceID string, seq uint64, name, ext string) string {
	return fmt.Sprintf("%s%s/%020d-%s%s", segmentPrefix, sourceID, seq, name, ext)
}

// storedSegment is the record uploaded next to each artifact. It
// carries what the local sidecar cannot: the metadata needed to
// decrypt the stored copy.
type storedSegment struct {
	Segment        *LogSegment                    `json:"segment"`
	Encryption     *encryption.EncryptionMetadata `json:"encryption,omitempty"`
	StoredChecksum string                         `json:"stored_checksum"`
	StoredSize     int64                          `json:"stored_size"`
}

// Shipper watches the archive directory and moves each new segment
// through compress, optionally encrypt, and upload. Failures are
// terminal per segment; a failed file is retried only after an
// operator removes its sidecar.
type Shipper struct {
	cfg     Config
	backend storage.Backend
	enc     *encryption.Service
	catalog *SegmentCatalog
	limiter *bandwidth.Limiter
	sink    metrics.Sink
	bus     events.Publisher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewShipper wires the shipper. enc may be nil when encryption is off;
// sink and bus may be nil.
func NewShipper(cfg Config, backend storage.Backend, enc *encryption.Service, sink metrics.Sink, bus events.Publisher) (*Shipper, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fault.New(fault.InvalidArgument, "txlog.NewShipper", "storage backend is required")
	}
	if cfg.Encrypt && enc == nil {
		return nil, fault.New(fault.InvalidArgument, "txlog.NewShipper", "encryption enabled but no encryption service configured")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Shipper{
		cfg:     cfg,
		backend: backend,
		enc:     enc,
		catalog: NewSegmentCatalog(),
		limiter: bandwidth.NewLimiter(cfg.UploadRateBytes),
		sink:    sink,
		bus:     bus,
	}, nil
}

// Catalog exposes the shared segment bookkeeping.
func (s *Shipper) Catalog() *SegmentCatalog {
	return s.catalog
}

// Start launches the poll loop.
func (s *Shipper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	logging.Info().
		Str("source", s.cfg.SourceID).
		Str("dir", s.cfg.WatchDir).
		Dur("interval", s.cfg.PollInterval).
		Msg("Starting log shipper")

	s.wg.Add(1)
	go s.pollLoop(runCtx)
	return nil
}

// Stop cancels the poll loop and waits for it to finish.
func (s *Shipper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logging.Info().Str("source", s.cfg.SourceID).Msg("Log shipper stopped")
}

// pollLoop scans on a fixed interval, accelerated by filesystem
// notifications when the watcher is available.
func (s *Shipper) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	var fsEvents chan fsnotify.Event
	var fsErrors chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn().Err(err).Msg("Filesystem watch unavailable; relying on polling")
	} else {
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(s.cfg.WatchDir); err != nil {
			logging.Warn().Err(err).Str("dir", s.cfg.WatchDir).Msg("Failed to watch archive directory; relying on polling")
		} else {
			fsEvents = watcher.Events
			fsErrors = watcher.Errors
		}
	}

	s.scan(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		case ev := <-fsEvents:
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				s.scan(ctx)
			}
		case watchErr := <-fsErrors:
			logging.Warn().Err(watchErr).Msg("Archive directory watch error")
		}
	}
}

// scan processes every unhandled segment in the archive directory.
// ReadDir returns names sorted, so WAL-style segments ship in
// sequence order.
func (s *Shipper) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.cfg.WatchDir)
	if err != nil {
		logging.Error().Err(err).Str("dir", s.cfg.WatchDir).Msg("Failed to read archive directory")
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isSidecar(name) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(s.cfg.WatchDir, name)
		if _, err := os.Stat(SidecarPath(path)); err == nil {
			continue
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			logging.Warn().Err(infoErr).Str("segment", name).Msg("Skipping segment without stat")
			continue
		}
		seg, isNew := s.catalog.Observe(path, info, LogType(s.cfg.LogType))
		if !isNew {
			continue
		}
		s.process(ctx, seg)
	}
}

// process moves one segment from observed through completed or failed.
func (s *Shipper) process(ctx context.Context, seg *LogSegment) {
	start := time.Now()
	if err := s.catalog.MarkArchiving(seg.SourcePath); err != nil {
		logging.Error().Err(err).Str("segment", seg.SourcePath).Msg("Failed to claim segment")
		return
	}

	stored, err := s.archiveSegment(ctx, seg)
	if err != nil {
		s.fail(ctx, seg, err)
		return
	}

	if err := s.catalog.MarkCompleted(seg.SourcePath, stored.Segment.BackupPath, stored.Segment.Checksum); err != nil {
		s.fail(ctx, seg, err)
		return
	}
	if err := WriteSidecar(SidecarPath(seg.SourcePath), seg); err != nil {
		logging.Warn().Err(err).Str("segment", seg.SourcePath).Msg("Failed to write segment sidecar")
	}

	s.sink.RecordCounter("txlog_segments_shipped_total", metrics.Tags{"source": s.cfg.SourceID})
	s.sink.RecordHistogram("txlog_segment_ship_duration_seconds", time.Since(start).Seconds(), metrics.Tags{"source": s.cfg.SourceID})
	s.sink.RecordHistogram("txlog_segment_bytes", float64(stored.StoredSize), metrics.Tags{"source": s.cfg.SourceID})
	_ = s.bus.Publish(ctx, events.Success(events.TypeSegmentArchived, s.cfg.SourceID, map[string]string{
		"segment_id": seg.SegmentID,
		"sequence":   strconv.FormatUint(seg.Sequence, 10),
		"key":        seg.BackupPath,
	}))
	logging.Info().
		Str("source", s.cfg.SourceID).
		Str("segment", filepath.Base(seg.SourcePath)).
		Str("key", seg.BackupPath).
		Int64("bytes", stored.StoredSize).
		Msg("Segment shipped")
}

// archiveSegment compresses, optionally encrypts, and uploads one
// segment, then stores its record next to the artifact.
func (s *Shipper) archiveSegment(ctx context.Context, seg *LogSegment) (*storedSegment, error) {
	stage, err := os.MkdirTemp("", "chronovault-segment-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stage) }()

	name := filepath.Base(seg.SourcePath)
	ext := compression.Ext(s.cfg.Compression.Algorithm)
	artifact := filepath.Join(stage, name+ext)

	sourceSum, err := s.compressTo(seg.SourcePath, artifact)
	if err != nil {
		return nil, err
	}
	seg.Checksum = sourceSum

	record := &storedSegment{Segment: seg}
	if s.cfg.Encrypt {
		encPath := artifact + ".enc"
		meta, err := s.enc.EncryptFile(ctx, artifact, encPath, "", "", false)
		if err != nil {
			return nil, err
		}
		record.Encryption = meta
		artifact = encPath
		ext += ".enc"
	}

	storedSum, storedSize, err := fileDigest(artifact)
	if err != nil {
		return nil, err
	}
	record.StoredChecksum = storedSum
	record.StoredSize = storedSize
	seg.BackupPath = segmentKey(s.cfg.SourceID, seg.Sequence, name, ext)

	if err := s.upload(ctx, artifact, seg.BackupPath, storedSize); err != nil {
		return nil, err
	}

	// The artifact is durable once Put returns, so the uploaded record
	// describes a completed segment even though the catalog has not
	// transitioned yet.
	now := time.Now().UTC()
	seg.Status = StatusCompleted
	seg.ArchivedAt = &now

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode segment record: %w", err)
	}
	if err := s.backend.Put(ctx, seg.BackupPath+".json", bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("failed to store segment record: %w", err)
	}
	return record, nil
}

// compressTo copies the segment through the configured compressor,
// hashing the raw bytes as they stream.
func (s *Shipper) compressTo(srcPath, destPath string) (string, error) {
	src, err := os.Open(srcPath) //nolint:gosec // G304: path comes from the watched directory scan
	if err != nil {
		return "", fault.FromOS("txlog.Shipper", err)
	}
	defer func() { _ = src.Close() }()

	dest, err := os.Create(destPath) //nolint:gosec // G304: path is inside a fresh staging directory
	if err != nil {
		return "", fmt.Errorf("failed to create staged segment: %w", err)
	}

	comp, err := compression.NewWriter(dest, s.cfg.Compression.Algorithm, s.cfg.Compression.Level)
	if err != nil {
		_ = dest.Close()
		return "", err
	}

	hasher := sha256.New()
	_, copyErr := io.Copy(comp, io.TeeReader(src, hasher))
	closeErr := comp.Close()
	if err := dest.Close(); closeErr == nil {
		closeErr = err
	}
	if copyErr != nil {
		return "", fmt.Errorf("failed to compress segment: %w", copyErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to finalize staged segment: %w", closeErr)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *Shipper) upload(ctx context.Context, path, key string, size int64) error {
	f, err := os.Open(path) //nolint:gosec // G304: path is inside the staging directory
	if err != nil {
		return fault.FromOS("txlog.Shipper.upload", err)
	}
	defer func() { _ = f.Close() }()

	var reader io.Reader = f
	if s.limiter.Enabled() {
		reader = s.limiter.Reader(ctx, f)
	}
	if err := s.backend.Put(ctx, key, reader, size); err != nil {
		return fmt.Errorf("failed to upload segment: %w", err)
	}
	return nil
}

// fail records a terminal failure on the catalog and in a durable
// sidecar so no later poll retries the segment by itself.
func (s *Shipper) fail(ctx context.Context, seg *LogSegment, cause error) {
	if err := s.catalog.MarkFailed(seg.SourcePath, cause); err != nil {
		logging.Error().Err(err).Str("segment", seg.SourcePath).Msg("Failed to record segment failure")
	}
	seg.Status = StatusFailed
	if seg.Metadata == nil {
		seg.Metadata = make(map[string]string)
	}
	seg.Metadata["error"] = cause.Error()
	if err := WriteSidecar(SidecarPath(seg.SourcePath), seg); err != nil {
		logging.Warn().Err(err).Str("segment", seg.SourcePath).Msg("Failed to write failure sidecar")
	}

	s.sink.RecordCounter("txlog_segments_failed_total", metrics.Tags{"source": s.cfg.SourceID})
	_ = s.bus.Publish(ctx, events.Failure(events.TypeSegmentFailed, s.cfg.SourceID, cause, map[string]string{
		"segment": filepath.Base(seg.SourcePath),
	}))
	logging.Error().Err(cause).
		Str("source", s.cfg.SourceID).
		Str("segment", filepath.Base(seg.SourcePath)).
		Msg("Segment shipping failed")
}

// fileDigest returns the SHA-256 hex digest and size of a file.
func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is inside the staging directory
	if err != nil {
		return "", 0, fault.FromOS("txlog.fileDigest", err)
	}
	defer func() { _ = f.Close() }()

	hasher := sha256.New()
	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
