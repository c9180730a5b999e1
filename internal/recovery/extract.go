// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
)

// maxEntrySize caps a single extracted file to keep a corrupted or
// hostile archive from exhausting the disk.
const maxEntrySize = 1 << 30

// extractArchive expands a base backup archive into destDir, skipping
// the embedded manifest. A non-empty selection restricts extraction to
// entries equal to or under the given slash-separated prefixes.
func extractArchive(ctx context.Context, archivePath, algorithm, destDir string, selection []string) (int64, int, error) {
	file, err := os.Open(archivePath) //nolint:gosec // G304: path is inside the recovery workspace
	if err != nil {
		return 0, 0, fault.FromOS("recovery.extractArchive", err)
	}
	defer func() { _ = file.Close() }()

	reader, err := compression.NewReader(file, algorithm)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = reader.Close() }()

	tr := tar.NewReader(reader)
	var restored int64
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return restored, files, err
		}
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return restored, files, fmt.Errorf("failed to read archive entry: %w", err)
		}

		name := filepath.ToSlash(header.Name)
		if name == backup.ManifestEntry {
			continue
		}
		if len(selection) > 0 && !selectedEntry(name, selection) {
			continue
		}

		destPath, err := entryPath(destDir, name)
		if err != nil {
			return restored, files, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o750); err != nil {
				return restored, files, fmt.Errorf("failed to create directory %s: %w", name, err)
			}
		case tar.TypeReg:
			n, err := extractEntry(tr, destPath, header)
			restored += n
			if err != nil {
				return restored, files, err
			}
			files++
		default:
			logging.Warn().Str("entry", name).Msg("Skipping unsupported archive entry type")
		}
	}
	return restored, files, nil
}

// entryPath joins and validates an archive entry name against the
// extraction root, rejecting traversal.
func entryPath(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", fault.Errorf(fault.InvalidArgument, "recovery.extractArchive",
			"archive entry %q escapes the extraction root", name)
	}
	return destPath, nil
}

func extractEntry(tr *tar.Reader, destPath string, header *tar.Header) (int64, error) {
	if header.Size > maxEntrySize {
		return 0, fault.Errorf(fault.InvalidArgument, "recovery.extractArchive",
			"archive entry %s is %d bytes, above the %d byte limit", header.Name, header.Size, maxEntrySize)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", header.Name, err)
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, header.FileInfo().Mode().Perm()) //nolint:gosec // G304: destPath is validated against the extraction root
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", header.Name, err)
	}

	written, copyErr := io.CopyN(out, tr, header.Size)
	closeErr := out.Close()
	if copyErr != nil && !errors.Is(copyErr, io.EOF) {
		return written, fmt.Errorf("failed to extract %s: %w", header.Name, copyErr)
	}
	if closeErr != nil {
		return written, fmt.Errorf("failed to finish %s: %w", header.Name, closeErr)
	}
	if written != header.Size {
		return written, fault.Errorf(fault.IntegrityCheckFailed, "recovery.extractArchive",
			"archive entry %s truncated: %d of %d bytes", header.Name, written, header.Size)
	}
	return written, nil
}

// selectedEntry reports whether name matches one of the selection
// prefixes.
func selectedEntry(name string, selection []string) bool {
	for _, prefix := range selection {
		prefix = strings.Trim(prefix, "/")
		if prefix == "" {
			continue
		}
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			return true
		}
	}
	return false
}
