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
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/secrets"
	"github.com/tomtom215/chronovault/internal/storage"
)

func newShipperConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SourceID = "pg-main"
	cfg.WatchDir = t.TempDir()
	cfg.Compression = compression.Config{Algorithm: compression.AlgorithmGzip, Level: 1}
	return cfg
}

func newSegmentEncryption(t *testing.T) *encryption.Service {
	t.Helper()
	ctx := context.Background()
	cfg := encryption.DefaultConfig()
	cfg.KeyDir = t.TempDir()
	svc, err := encryption.NewService(ctx, cfg, secrets.NewMemory(), nil, nil)
	if err != nil {
		t.Fatalf("failed to build encryption service: %v", err)
	}
	if _, err := svc.GenerateEncryptionKey(ctx, "", encryption.AlgorithmAESGCM, 0); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return svc
}

// fetchObject reads a stored object fully.
func fetchObject(t *testing.T, backend storage.Backend, key string) []byte {
	t.Helper()
	rc, err := backend.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("failed to get %s: %v", key, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read %s: %v", key, err)
	}
	return data
}

func fetchRecord(t *testing.T, backend storage.Backend, key string) *storedSegment {
	t.Helper()
	var record storedSegment
	if err := json.Unmarshal(fetchObject(t, backend, key), &record); err != nil {
		t.Fatalf("failed to decode record %s: %v", key, err)
	}
	return &record
}

func TestShipperScanShipsNewSegments(t *testing.T) {
	ctx := context.Background()
	cfg := newShipperConfig(t)
	backend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to build backend: %v", err)
	}
	sink := metrics.NewCapture()

	shipper, err := NewShipper(cfg, backend, nil, sink, nil)
	if err != nil {
		t.Fatalf("failed to build shipper: %v", err)
	}

	contents := map[string]string{
		"000000010000000000000001": "first segment payload",
		"000000010000000000000002": "second segment payload",
	}
	for name, content := range contents {
		writeSegmentFile(t, cfg.WatchDir, name, content)
	}
	writeSegmentFile(t, cfg.WatchDir, "000000010000000000000003.tmp", "still being written")

	shipper.scan(ctx)

	for name, content := range contents {
		path := filepath.Join(cfg.WatchDir, name)
		seg, ok := shipper.Catalog().Get(path)
		if !ok {
			t.Fatalf("expected %s in the catalog", name)
		}
		if seg.Status != StatusCompleted {
			t.Fatalf("expected %s completed, got %s", name, seg.Status)
		}
		wantSum := sha256.Sum256([]byte(content))
		if seg.Checksum != hex.EncodeToString(wantSum[:]) {
			t.Errorf("%s: expected source checksum %x, got %s", name, wantSum, seg.Checksum)
		}
		if !strings.HasPrefix(seg.BackupPath, "segments/pg-main/") {
			t.Errorf("%s: unexpected storage key %q", name, seg.BackupPath)
		}

		// The stored artifact decompresses back to the source bytes.
		data := fetchObject(t, backend, seg.BackupPath)
		rc, err := compression.NewReader(bytes.NewReader(data), compression.AlgorithmGzip)
		if err != nil {
			t.Fatalf("failed to open stored artifact: %v", err)
		}
		plain, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("failed to decompress stored artifact: %v", err)
		}
		if string(plain) != content {
			t.Errorf("%s: stored artifact does not match source", name)
		}

		record := fetchRecord(t, backend, seg.BackupPath+".json")
		if record.Segment.SegmentID != seg.SegmentID {
			t.Errorf("%s: record segment id %s, want %s", name, record.Segment.SegmentID, seg.SegmentID)
		}
		if record.Segment.Status != StatusCompleted {
			t.Errorf("%s: record status %s, want %s", name, record.Segment.Status, StatusCompleted)
		}
		if record.StoredSize != int64(len(data)) {
			t.Errorf("%s: record stored size %d, want %d", name, record.StoredSize, len(data))
		}

		sidecar, err := ReadSidecar(SidecarPath(path))
		if err != nil {
			t.Fatalf("%s: failed to read sidecar: %v", name, err)
		}
		if sidecar.Status != StatusCompleted {
			t.Errorf("%s: sidecar status %s, want %s", name, sidecar.Status, StatusCompleted)
		}
	}

	if got := sink.CounterCount("txlog_segments_shipped_total"); got != 2 {
		t.Errorf("expected 2 shipped segments, got %d", got)
	}

	objects, err := backend.List(ctx, "segments/pg-main/")
	if err != nil {
		t.Fatalf("failed to list stored segments: %v", err)
	}
	if len(objects) != 4 {
		t.Fatalf("expected 2 artifacts and 2 records, got %d objects", len(objects))
	}

	// Re-scanning reprocesses nothing: the sidecars mark the segments
	// handled.
	shipper.scan(ctx)
	if got := sink.CounterCount("txlog_segments_shipped_total"); got != 2 {
		t.Errorf("expected no reprocessing on re-scan, got %d shipped", got)
	}

	// Even without a sidecar the catalog remembers the segment.
	first := filepath.Join(cfg.WatchDir, "000000010000000000000001")
	if err := os.Remove(SidecarPath(first)); err != nil {
		t.Fatalf("failed to remove sidecar: %v", err)
	}
	shipper.scan(ctx)
	if got := sink.CounterCount("txlog_segments_shipped_total"); got != 2 {
		t.Errorf("expected catalog to dedupe after sidecar removal, got %d shipped", got)
	}
}

// failingBackend rejects every operation.
type failingBackend struct{}

func (failingBackend) Put(context.Context, string, io.Reader, int64) error {
	return errors.New("connection reset by peer")
}

func (failingBackend) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("connection reset by peer")
}

func (failingBackend) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, errors.New("connection reset by peer")
}

func (failingBackend) List(context.Context, string) ([]storage.ObjectInfo, error) {
	return nil, errors.New("connection reset by peer")
}

func (failingBackend) Remove(context.Context, string) error {
	return errors.New("connection reset by peer")
}

func TestShipperFailureIsTerminal(t *testing.T) {
	ctx := context.Background()
	cfg := newShipperConfig(t)
	sink := metrics.NewCapture()

	shipper, err := NewShipper(cfg, failingBackend{}, nil, sink, nil)
	if err != nil {
		t.Fatalf("failed to build shipper: %v", err)
	}

	path, _ := writeSegmentFile(t, cfg.WatchDir, "000000010000000000000001", "doomed segment")
	shipper.scan(ctx)

	seg, ok := shipper.Catalog().Get(path)
	if !ok {
		t.Fatal("expected segment in the catalog")
	}
	if seg.Status != StatusFailed {
		t.Fatalf("expected %s, got %s", StatusFailed, seg.Status)
	}
	if seg.Metadata["error"] == "" {
		t.Error("expected the failure cause recorded on the segment")
	}

	sidecar, err := ReadSidecar(SidecarPath(path))
	if err != nil {
		t.Fatalf("failed to read failure sidecar: %v", err)
	}
	if sidecar.Status != StatusFailed {
		t.Errorf("expected failed sidecar, got %s", sidecar.Status)
	}

	if got := sink.CounterCount("txlog_segments_failed_total"); got != 1 {
		t.Errorf("expected 1 failure, got %d", got)
	}

	// A failed segment is never retried by the poll loop.
	shipper.scan(ctx)
	if got := sink.CounterCount("txlog_segments_failed_total"); got != 1 {
		t.Errorf("expected no automatic retry, got %d failures", got)
	}
}

func TestShipperEncryptedSegment(t *testing.T) {
	ctx := context.Background()
	cfg := newShipperConfig(t)
	cfg.Encrypt = true
	backend, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to build backend: %v", err)
	}
	enc := newSegmentEncryption(t)

	shipper, err := NewShipper(cfg, backend, enc, nil, nil)
	if err != nil {
		t.Fatalf("failed to build shipper: %v", err)
	}

	content := "encrypted wal payload"
	path, _ := writeSegmentFile(t, cfg.WatchDir, "000000010000000000000001", content)
	shipper.scan(ctx)

	seg, ok := shipper.Catalog().Get(path)
	if !ok || seg.Status != StatusCompleted {
		t.Fatalf("expected completed segment, got %+v", seg)
	}
	if !strings.HasSuffix(seg.BackupPath, ".enc") {
		t.Fatalf("expected encrypted artifact key, got %q", seg.BackupPath)
	}

	record := fetchRecord(t, backend, seg.BackupPath+".json")
	if record.Encryption == nil || record.Encryption.KeyID == "" {
		t.Fatal("expected encryption metadata on the stored record")
	}

	// Round trip: download, decrypt with the record's metadata, then
	// decompress.
	work := t.TempDir()
	encPath := filepath.Join(work, "segment.gz.enc")
	if err := os.WriteFile(encPath, fetchObject(t, backend, seg.BackupPath), 0o600); err != nil {
		t.Fatalf("failed to stage encrypted artifact: %v", err)
	}
	if err := encryption.WriteMetadata(encryption.MetadataPath(encPath), record.Encryption); err != nil {
		t.Fatalf("failed to stage encryption metadata: %v", err)
	}
	plainPath := filepath.Join(work, "segment.gz")
	if err := enc.DecryptFile(ctx, encPath, plainPath, ""); err != nil {
		t.Fatalf("failed to decrypt artifact: %v", err)
	}

	f, err := os.Open(plainPath)
	if err != nil {
		t.Fatalf("failed to open decrypted artifact: %v", err)
	}
	defer func() { _ = f.Close() }()
	rc, err := compression.NewReader(f, compression.AlgorithmGzip)
	if err != nil {
		t.Fatalf("failed to open decompressor: %v", err)
	}
	plain, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("failed to decompress: %v", err)
	}
	if string(plain) != content {
		t.Errorf("round trip mismatch: got %q, want %q", plain, content)
	}
}

func TestNewShipperValidation(t *testing.T) {
	cfg := newShipperConfig(t)

	if _, err := NewShipper(cfg, nil, nil, nil, nil); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument without a backend, got %v", err)
	}

	encCfg := cfg
	encCfg.Encrypt = true
	if _, err := NewShipper(encCfg, failingBackend{}, nil, nil, nil); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for encryption without a service, got %v", err)
	}

	bare := cfg
	bare.SourceID = ""
	if _, err := NewShipper(bare, failingBackend{}, nil, nil, nil); err == nil {
		t.Error("expected a validation error without a source id")
	}
}
