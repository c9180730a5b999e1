// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/bandwidth"
	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/tracker"
)

// baseBackupPrefix is the storage namespace for base backup archives
// and their sidecar records.
const baseBackupPrefix = "base/"

// ManifestEntry names the bookkeeping record written as the final tar
// entry of every base backup archive. Restores skip it.
const ManifestEntry = "backup-metadata.json"

// BaseBackup describes one stored archive. Recovery selects the newest
// record whose CreatedAt does not exceed the requested target time.
type BaseBackup struct {
	ID          string                         `json:"id"`
	SourceID    string                         `json:"source_id"`
	SnapshotID  string                         `json:"snapshot_id"`
	CreatedAt   time.Time                      `json:"created_at"`
	Size        int64                          `json:"size"`
	FileCount   int                            `json:"file_count"`
	Checksum    string                         `json:"checksum"`
	Compression string                         `json:"compression"`
	Encrypted   bool                           `json:"encrypted"`
	Encryption  *encryption.EncryptionMetadata `json:"encryption,omitempty"`
	StorageKey  string                         `json:"storage_key"`
}

// ArchiveFile is one manifest entry, checksummed as it was written.
type ArchiveFile struct {
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Checksum string    `json:"checksum"`
}

// archiveManifest is the final tar entry, tying the archive to the
// snapshot it was cut from.
type archiveManifest struct {
	BackupID   string        `json:"backup_id"`
	SourceID   string        `json:"source_id"`
	SnapshotID string        `json:"snapshot_id"`
	CreatedAt  time.Time     `json:"created_at"`
	Files      []ArchiveFile `json:"files"`
}

// baseBackupKey names archives so lexical order equals creation order
// within a source.
func baseBackupKey(sourceID, id string, createdAt time.Time, ext string) string {
	return fmt.Sprintf("%s%s/%020d-%s%s", baseBackupPrefix, sourceID, createdAt.UnixNano(), id, ext)
}

// Archiver builds base backup archives and uploads them to durable
// storage.
type Archiver struct {
	cfg     Config
	backend storage.Backend
	enc     *encryption.Service
	limiter *bandwidth.Limiter
}

// NewArchiver validates that encryption is available when configured.
func NewArchiver(cfg Config, backend storage.Backend, enc *encryption.Service, limiter *bandwidth.Limiter) (*Archiver, error) {
	if backend == nil {
		return nil, fault.New(fault.InvalidArgument, "backup.NewArchiver", "storage backend is required")
	}
	if cfg.Encrypt && enc == nil {
		return nil, fault.New(fault.InvalidArgument, "backup.NewArchiver", "encryption enabled but no encryption service configured")
	}
	if err := compression.Validate(cfg.Compression.Algorithm); err != nil {
		return nil, err
	}
	return &Archiver{cfg: cfg, backend: backend, enc: enc, limiter: limiter}, nil
}

// archiveWriters stacks file, compression, and tar writers.
type archiveWriters struct {
	tarWriter *tar.Writer
	closers   []io.Closer
}

// Close closes all writers in reverse order, returning the first error.
func (aw *archiveWriters) Close() error {
	var firstErr error
	for i := len(aw.closers) - 1; i >= 0; i-- {
		if err := aw.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Archiver) setupWriters(path string) (*archiveWriters, error) {
	outFile, err := os.Create(path) //nolint:gosec // G304: path is inside a fresh staging directory
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file: %w", err)
	}

	aw := &archiveWriters{closers: []io.Closer{outFile}}

	compWriter, err := compression.NewWriter(outFile, a.cfg.Compression.Algorithm, a.cfg.Compression.Level)
	if err != nil {
		_ = outFile.Close()
		return nil, err
	}
	aw.closers = append(aw.closers, compWriter)

	aw.tarWriter = tar.NewWriter(compWriter)
	aw.closers = append(aw.closers, aw.tarWriter)
	return aw, nil
}

// Create archives the snapshot's items from root, optionally encrypts
// the result, uploads it, and stores the BaseBackup record alongside.
func (a *Archiver) Create(ctx context.Context, root string, snap *tracker.IncrementalSnapshot) (*BaseBackup, error) {
	if snap == nil {
		return nil, fault.New(fault.InvalidArgument, "backup.Archiver.Create", "nil snapshot")
	}

	stage, err := os.MkdirTemp("", "chronovault-base-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(stage) }()

	record := &BaseBackup{
		ID:          uuid.New().String(),
		SourceID:    snap.SourceID,
		SnapshotID:  snap.SnapshotID,
		CreatedAt:   time.Now().UTC(),
		Compression: a.cfg.Compression.Algorithm,
		Encrypted:   a.cfg.Encrypt,
	}

	plainPath := filepath.Join(stage, "base.tar"+compression.Ext(a.cfg.Compression.Algorithm))
	manifest, err := a.writeArchive(ctx, plainPath, root, snap, record)
	if err != nil {
		return nil, err
	}
	record.FileCount = len(manifest.Files)

	uploadPath := plainPath
	ext := ".tar" + compression.Ext(a.cfg.Compression.Algorithm)
	if a.cfg.Encrypt {
		encPath := plainPath + ".enc"
		meta, err := a.enc.EncryptFile(ctx, plainPath, encPath, "", "", false)
		if err != nil {
			return nil, err
		}
		record.Encryption = meta
		uploadPath = encPath
		ext += ".enc"
	}

	sum, size, err := hashFile(uploadPath)
	if err != nil {
		return nil, err
	}
	record.Checksum = sum
	record.Size = size
	record.StorageKey = baseBackupKey(record.SourceID, record.ID, record.CreatedAt, ext)

	if err := a.upload(ctx, uploadPath, record.StorageKey, size); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode base backup record: %w", err)
	}
	if err := a.backend.Put(ctx, record.StorageKey+".json", bytes.NewReader(data), int64(len(data))); err != nil {
		return nil, fmt.Errorf("failed to store base backup record: %w", err)
	}

	logging.Info().
		Str("source", record.SourceID).
		Str("backup", record.ID).
		Int("files", record.FileCount).
		Int64("bytes", record.Size).
		Msg("Base backup created")
	return record, nil
}

// writeArchive tars the snapshot's items plus the manifest. Items that
// vanished since the snapshot are logged and skipped.
func (a *Archiver) writeArchive(ctx context.Context, path, root string, snap *tracker.IncrementalSnapshot, record *BaseBackup) (*archiveManifest, error) {
	aw, err := a.setupWriters(path)
	if err != nil {
		return nil, err
	}

	manifest := &archiveManifest{
		BackupID:   record.ID,
		SourceID:   record.SourceID,
		SnapshotID: snap.SnapshotID,
		CreatedAt:  record.CreatedAt,
	}

	items := make([]string, 0, len(snap.ChecksumMap))
	for item := range snap.ChecksumMap {
		items = append(items, item)
	}
	sort.Strings(items)

	writeErr := func() error {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			src := filepath.Join(root, filepath.FromSlash(item))
			if err := addFileToArchive(aw.tarWriter, src, item, manifest); err != nil {
				if os.IsNotExist(err) {
					logging.Warn().Str("item", item).Msg("Item vanished since snapshot; skipping")
					continue
				}
				return err
			}
		}
		return addManifestToArchive(aw.tarWriter, manifest)
	}()

	closeErr := aw.Close()
	if writeErr != nil {
		return nil, writeErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", closeErr)
	}
	return manifest, nil
}

func (a *Archiver) upload(ctx context.Context, path, key string, size int64) error {
	f, err := os.Open(path) //nolint:gosec // G304: path is inside the staging directory
	if err != nil {
		return fault.FromOS("backup.Archiver.upload", err)
	}
	defer func() { _ = f.Close() }()

	var reader io.Reader = f
	if a.limiter.Enabled() {
		reader = a.limiter.Reader(ctx, f)
	}
	if err := a.backend.Put(ctx, key, reader, size); err != nil {
		return fmt.Errorf("failed to upload archive: %w", err)
	}
	return nil
}

// addFileToArchive streams one file into the tar, checksumming as it
// copies.
func addFileToArchive(tw *tar.Writer, srcPath, destPath string, manifest *archiveManifest) error {
	file, err := os.Open(srcPath) //nolint:gosec // G304: path joins the tracked root with a snapshot item
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", srcPath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", srcPath, err)
	}
	header.Name = destPath

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", srcPath, err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tw, hasher), file); err != nil {
		return fmt.Errorf("failed to copy %s into archive: %w", srcPath, err)
	}

	manifest.Files = append(manifest.Files, ArchiveFile{
		Path:     destPath,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	})
	return nil
}

func addManifestToArchive(tw *tar.Writer, manifest *archiveManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	header := &tar.Header{
		Name:    ManifestEntry,
		Size:    int64(len(data)),
		Mode:    0o640,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// hashFile returns the SHA-256 hex digest and size of a file.
func hashFile(path string) (string, int64, error) {
	file, err := os.Open(path) //nolint:gosec // G304: path is inside the staging directory
	if err != nil {
		return "", 0, fault.FromOS("backup.hashFile", err)
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	size, err := io.Copy(hasher, file)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}
