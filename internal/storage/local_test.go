// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomtom215/chronovault/internal/fault"
)

func TestLocalPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	payload := "segment content"
	if err := backend.Put(ctx, "wal/000000010000000000000042.zst", strings.NewReader(payload), int64(len(payload))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	rc, err := backend.Get(ctx, "wal/000000010000000000000042.zst")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(got) != payload {
		t.Errorf("expected %q, got %q", payload, got)
	}

	info, err := backend.Stat(ctx, "wal/000000010000000000000042.zst")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != int64(len(payload)) {
		t.Errorf("expected size %d, got %d", len(payload), info.Size)
	}
}

func TestLocalStatMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if _, err := backend.Stat(ctx, "base/absent.tar.gz"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
	if _, err := backend.Get(ctx, "base/absent.tar.gz"); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestLocalRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	for _, key := range []string{"../outside", "/etc/passwd", "wal/../../outside", ""} {
		if err := backend.Put(ctx, key, strings.NewReader("x"), 1); !fault.IsKind(err, fault.InvalidArgument) {
			t.Errorf("expected invalid_argument for key %q, got %v", key, err)
		}
	}
}

func TestLocalListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	for _, key := range []string{"wal/seg-b", "wal/seg-a", "base/full-1"} {
		if err := backend.Put(ctx, key, strings.NewReader(key), int64(len(key))); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	objects, err := backend.List(ctx, "wal/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 2 {
		t.Fatalf("expected 2 objects under wal/, got %d", len(objects))
	}
	if objects[0].Key != "wal/seg-a" || objects[1].Key != "wal/seg-b" {
		t.Errorf("expected lexical order, got %s then %s", objects[0].Key, objects[1].Key)
	}
}

func TestLocalListSkipsTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	backend, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if err := backend.Put(ctx, "wal/seg-1", strings.NewReader("done"), 4); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// Simulate an in-flight write that was interrupted.
	if err := os.WriteFile(filepath.Join(dir, "wal", "seg-2.tmp"), []byte("partial"), 0o600); err != nil {
		t.Fatalf("write temp failed: %v", err)
	}

	objects, err := backend.List(ctx, "wal/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "wal/seg-1" {
		t.Errorf("expected only completed objects, got %+v", objects)
	}
}

func TestLocalRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	backend, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if err := backend.Put(ctx, "wal/seg-1", strings.NewReader("x"), 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := backend.Remove(ctx, "wal/seg-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := backend.Remove(ctx, "wal/seg-1"); err != nil {
		t.Errorf("second Remove should be a no-op, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	backend, err := New(Config{Backend: BackendLocal, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New local failed: %v", err)
	}
	if _, ok := backend.(*Local); !ok {
		t.Errorf("expected *Local, got %T", backend)
	}

	if _, err := New(Config{Backend: "ftp"}); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected invalid_argument for unknown backend, got %v", err)
	}
}

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"minio.local:9000", "minio.local:9000", false},
		{"http://minio.local:9000", "minio.local:9000", false},
		{"https://s3.amazonaws.com", "s3.amazonaws.com", false},
		{"http://minio.local:9000/bucket", "", true},
		{"minio.local/path", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := cleanEndpoint(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("cleanEndpoint(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("cleanEndpoint(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanEndpoint(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
