// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/storage"
)

// Catalog reads base backup records back out of durable storage. It is
// the recovery orchestrator's view of what exists.
type Catalog struct {
	backend storage.Backend
}

func NewCatalog(backend storage.Backend) *Catalog {
	return &Catalog{backend: backend}
}

// List returns every base backup of a source in creation order. A
// record that fails to decode is skipped with a warning rather than
// hiding the rest of the catalog.
func (c *Catalog) List(ctx context.Context, sourceID string) ([]*BaseBackup, error) {
	objects, err := c.backend.List(ctx, baseBackupPrefix+sourceID+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list base backups for %s: %w", sourceID, err)
	}

	backups := make([]*BaseBackup, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		record, err := c.load(ctx, obj.Key)
		if err != nil {
			logging.Warn().Err(err).Str("key", obj.Key).Msg("Skipping unreadable base backup record")
			continue
		}
		backups = append(backups, record)
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.Before(backups[j].CreatedAt) })
	return backups, nil
}

func (c *Catalog) load(ctx context.Context, key string) (*BaseBackup, error) {
	rc, err := c.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	var record BaseBackup
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode base backup record: %w", err)
	}
	return &record, nil
}

// Fetch downloads an archive to destPath, verifying its checksum as it
// streams. The destination appears atomically or not at all.
func (c *Catalog) Fetch(ctx context.Context, record *BaseBackup, destPath string) error {
	rc, err := c.backend.Get(ctx, record.StorageKey)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	tmp := destPath + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // G304: destination is inside the recovery workspace
	if err != nil {
		return fault.FromOS("backup.Catalog.Fetch", err)
	}

	hasher := sha256.New()
	if _, err := io.Copy(io.MultiWriter(out, hasher), rc); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to download base backup %s: %w", record.ID, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize download: %w", err)
	}

	if sum := hex.EncodeToString(hasher.Sum(nil)); sum != record.Checksum {
		_ = os.Remove(tmp)
		return fault.Errorf(fault.IntegrityCheckFailed, "backup.Catalog.Fetch",
			"base backup %s checksum mismatch: stored %s, got %s", record.ID, record.Checksum, sum)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}
