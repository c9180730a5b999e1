// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
)

type archiveEntry struct {
	name string
	body string
}

// buildArchive writes a gzip tar with the given entries in order.
func buildArchive(t *testing.T, entries []archiveEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "base.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	cw, err := compression.NewWriter(f, compression.AlgorithmGzip, 1)
	if err != nil {
		t.Fatalf("failed to open compressor: %v", err)
	}
	tw := tar.NewWriter(cw)
	for _, entry := range entries {
		hdr := &tar.Header{
			Name:     entry.name,
			Mode:     0o600,
			Size:     int64(len(entry.body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write header %s: %v", entry.name, err)
		}
		if _, err := tw.Write([]byte(entry.body)); err != nil {
			t.Fatalf("failed to write body %s: %v", entry.name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar: %v", err)
	}
	if err := cw.Close(); err != nil {
		t.Fatalf("failed to close compressor: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close archive: %v", err)
	}
	return path
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	archive := buildArchive(t, []archiveEntry{
		{name: "../escape.txt", body: "broke out"},
	})
	dest := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dest, 0o750); err != nil {
		t.Fatalf("failed to create destination: %v", err)
	}

	_, _, err := extractArchive(context.Background(), archive, compression.AlgorithmGzip, dest, nil)
	if !fault.IsKind(err, fault.InvalidArgument) {
		t.Fatalf("expected InvalidArgument for a traversal entry, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt")); !os.IsNotExist(statErr) {
		t.Error("expected no file outside the extraction root")
	}
}

func TestExtractSkipsManifest(t *testing.T) {
	archive := buildArchive(t, []archiveEntry{
		{name: "notes.txt", body: "alpha"},
		{name: backup.ManifestEntry, body: "{}"},
	})
	dest := t.TempDir()

	written, files, err := extractArchive(context.Background(), archive, compression.AlgorithmGzip, dest, nil)
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if files != 1 {
		t.Errorf("expected 1 extracted file, got %d", files)
	}
	if written != int64(len("alpha")) {
		t.Errorf("expected %d bytes written, got %d", len("alpha"), written)
	}
	if _, err := os.Stat(filepath.Join(dest, backup.ManifestEntry)); !os.IsNotExist(err) {
		t.Error("expected the manifest entry to be skipped")
	}
}

func TestExtractHonorsSelection(t *testing.T) {
	archive := buildArchive(t, []archiveEntry{
		{name: "etc/config.yaml", body: "key: value"},
		{name: "etcetera.txt", body: "not selected"},
		{name: "var/data.bin", body: "payload"},
	})
	dest := t.TempDir()

	_, files, err := extractArchive(context.Background(), archive, compression.AlgorithmGzip, dest, []string{"etc"})
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if files != 1 {
		t.Errorf("expected only the selected file, got %d", files)
	}
	data, err := os.ReadFile(filepath.Join(dest, "etc", "config.yaml"))
	if err != nil {
		t.Fatalf("missing selected file: %v", err)
	}
	if string(data) != "key: value" {
		t.Errorf("unexpected selected content %q", string(data))
	}
	// A prefix match is per path element, not per byte.
	if _, err := os.Stat(filepath.Join(dest, "etcetera.txt")); !os.IsNotExist(err) {
		t.Error("expected etcetera.txt to be left out")
	}
	if _, err := os.Stat(filepath.Join(dest, "var")); !os.IsNotExist(err) {
		t.Error("expected var to be left out")
	}
}

func TestExtractExactSelection(t *testing.T) {
	archive := buildArchive(t, []archiveEntry{
		{name: "etc/config.yaml", body: "key: value"},
		{name: "etc/other.yaml", body: "other"},
	})
	dest := t.TempDir()

	_, files, err := extractArchive(context.Background(), archive, compression.AlgorithmGzip, dest, []string{"etc/config.yaml"})
	if err != nil {
		t.Fatalf("extraction failed: %v", err)
	}
	if files != 1 {
		t.Errorf("expected 1 extracted file, got %d", files)
	}
	if _, err := os.Stat(filepath.Join(dest, "etc", "other.yaml")); !os.IsNotExist(err) {
		t.Error("expected the unselected sibling to be left out")
	}
}
