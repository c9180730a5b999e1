// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package checksum

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s failed: %v", name, err)
	}
	return path
}

func TestBytesKnownVector(t *testing.T) {
	got := Bytes([]byte("hello world"))
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Errorf("Bytes(hello world) = %s, want %s", got, want)
	}
}

func TestFileFullHash(t *testing.T) {
	path := writeFile(t, t.TempDir(), "small.txt", "hello world")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	hasher := NewHasher(0)
	sum, err := hasher.File(path, info)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if sum != Bytes([]byte("hello world")) {
		t.Errorf("content hash mismatch: %s", sum)
	}
	if IsComposite(sum) {
		t.Error("small file should not get a composite checksum")
	}
}

func TestFileCompositeAboveThreshold(t *testing.T) {
	path := writeFile(t, t.TempDir(), "big.bin", strings.Repeat("x", 2048))
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	hasher := NewHasher(1024)
	sum, err := hasher.File(path, info)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if !IsComposite(sum) {
		t.Errorf("expected composite checksum above threshold, got %s", sum)
	}
	if sum != Composite(info.Size(), info.ModTime()) {
		t.Error("composite checksum not reproducible from stat fields")
	}
}

func TestFileZeroThresholdDisablesComposite(t *testing.T) {
	// A sparse file above DefaultCompositeThreshold proves the zero
	// threshold really disables the composite path rather than falling
	// back to the default.
	path := filepath.Join(t.TempDir(), "huge.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := f.Truncate(DefaultCompositeThreshold + 1); err != nil {
		_ = f.Close()
		t.Fatalf("truncate failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	sum, err := NewHasher(0).File(path, info)
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if IsComposite(sum) {
		t.Error("zero threshold must content-hash every file")
	}
}

func TestCompositeChangesWithStat(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := Composite(100, base)
	if a != Composite(100, base) {
		t.Error("composite not deterministic")
	}
	if a == Composite(101, base) {
		t.Error("composite ignored size change")
	}
	if a == Composite(100, base.Add(time.Nanosecond)) {
		t.Error("composite ignored mtime change")
	}
}

func TestBadgerStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open badger: %v", err)
	}
	defer func() { _ = db.Close() }()

	store := NewBadgerStore(db)
	entry := Entry{
		Checksum:   Bytes([]byte("payload")),
		Size:       7,
		ModTime:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ComputedAt: time.Now().UTC(),
	}
	if err := store.Put(ctx, "appdata", "etc/app.conf", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "appdata", "etc/app.conf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected entry found")
	}
	if got.Checksum != entry.Checksum || got.Size != entry.Size || !got.ModTime.Equal(entry.ModTime) {
		t.Errorf("entry mutated in store: %+v", got)
	}

	// Different source must not see the entry.
	if _, ok, _ := store.Get(ctx, "other", "etc/app.conf"); ok {
		t.Error("entry leaked across sources")
	}

	if err := store.Delete(ctx, "appdata", "etc/app.conf"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "appdata", "etc/app.conf"); ok {
		t.Error("entry survived delete")
	}
}

func TestServiceReusesCachedChecksum(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "cached.txt", "original")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	store := NewMemory()
	svc := NewService(NewHasher(0), store)

	// Seed the cache with a sentinel matching the current stat. The
	// service must trust it instead of rehashing.
	sentinel := "cached-sentinel"
	if err := store.Put(ctx, "src", path, Entry{Checksum: sentinel, Size: info.Size(), ModTime: info.ModTime()}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	sum, err := svc.FileChecksum(ctx, "src", path, info)
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	if sum != sentinel {
		t.Errorf("expected cached checksum reused, got %s", sum)
	}

	// Change the content so size differs; the stale entry must be
	// ignored and replaced.
	if err := os.WriteFile(path, []byte("rewritten longer content"), 0o600); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	info, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	sum, err = svc.FileChecksum(ctx, "src", path, info)
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	want := Bytes([]byte("rewritten longer content"))
	if sum != want {
		t.Errorf("expected fresh hash %s, got %s", want, sum)
	}

	cached, ok, _ := store.Get(ctx, "src", path)
	if !ok || cached.Checksum != want {
		t.Errorf("cache not refreshed, got %+v", cached)
	}
}
