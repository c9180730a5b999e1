// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package checksum computes and caches the content checksums every
// other backup component keys on. Small files get a full SHA-256 of
// their content; files at or above a size threshold get a cheaper
// composite built from size and modification time, bounding hash cost
// on multi-gigabyte files at the price of missing content rewrites
// that preserve both.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

// DefaultCompositeThreshold is the file size at which hashing switches
// from full content to the stat composite.
const DefaultCompositeThreshold = 64 << 20

// compositePrefix marks checksums that are not true content hashes.
const compositePrefix = "stat:"

// Hasher computes per-item checksums.
type Hasher struct {
	threshold int64
}

// NewHasher builds a hasher. A non-positive threshold disables the
// composite strategy entirely and every file is content-hashed
// regardless of size.
func NewHasher(compositeThreshold int64) *Hasher {
	return &Hasher{threshold: compositeThreshold}
}

// File checksums one file. Files at or above the composite threshold
// are not read at all.
func (h *Hasher) File(path string, info fs.FileInfo) (string, error) {
	if h.threshold > 0 && info.Size() >= h.threshold {
		return Composite(info.Size(), info.ModTime()), nil
	}
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the tracked directory walk
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	sum, _, err := Reader(f)
	return sum, err
}

// Reader hashes everything r yields, returning the hex digest and the
// number of bytes consumed.
func Reader(r io.Reader) (string, int64, error) {
	hash := sha256.New()
	n, err := io.Copy(hash, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), n, nil
}

// Bytes returns the hex SHA-256 of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Composite builds the stat-based checksum for large items. Two files
// with identical size and modification time compare equal even if
// their bytes differ.
func Composite(size int64, modTime time.Time) string {
	return compositePrefix + Bytes([]byte(fmt.Sprintf("%d|%d", size, modTime.UnixNano())))
}

// IsComposite reports whether sum came from Composite rather than a
// content hash.
func IsComposite(sum string) bool {
	return strings.HasPrefix(sum, compositePrefix)
}
