// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/database"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
)

// Database tracks an allow-list of tables in one source database. The
// per-table checksum combines row count with a content digest, so both
// inserts/deletes and in-place updates surface as changes.
type Database struct {
	sourceID string
	handle   database.Handle
	tables   []string
	store    *SnapshotStore
}

var _ Tracker = (*Database)(nil)

// NewDatabase validates the source id and every table name up front,
// since table identifiers end up interpolated into query text.
func NewDatabase(sourceID string, handle database.Handle, tables []string, store *SnapshotStore) (*Database, error) {
	if err := ValidateSourceID(sourceID); err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, fault.New(fault.InvalidArgument, "tracker.NewDatabase", "nil database handle")
	}
	if len(tables) == 0 {
		return nil, fault.New(fault.InvalidArgument, "tracker.NewDatabase", "empty table allow-list")
	}
	for _, table := range tables {
		if err := database.ValidateTableName(table); err != nil {
			return nil, err
		}
	}
	return &Database{
		sourceID: sourceID,
		handle:   handle,
		tables:   tables,
		store:    store,
	}, nil
}

func (t *Database) SourceID() string { return t.sourceID }

func (t *Database) CreateSnapshot(ctx context.Context) (*IncrementalSnapshot, error) {
	items, totalRows, skipped, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}

	snap := &IncrementalSnapshot{
		SnapshotID:   uuid.New().String(),
		SourceID:     t.sourceID,
		BackupLevel:  LevelFull,
		CreatedAt:    time.Now().UTC(),
		FilesTracked: len(items),
		TotalSize:    totalRows,
		ChecksumMap:  checksumsOnly(items),
		Metadata: map[string]string{
			"source_type": "database",
			"size_unit":   "rows",
			"tables":      strings.Join(t.tables, ","),
		},
	}
	if skipped > 0 {
		snap.Metadata["skipped_items"] = strconv.Itoa(skipped)
	}

	if err := t.store.Save(ctx, snap); err != nil {
		return nil, err
	}
	logging.Info().
		Str("source", t.sourceID).
		Str("snapshot", snap.SnapshotID).
		Int("tables", snap.FilesTracked).
		Int64("rows", snap.TotalSize).
		Msg("Database snapshot created")
	return snap, nil
}

func (t *Database) DetectChanges(ctx context.Context) ([]ChangeRecord, error) {
	prev, err := t.store.Latest(ctx, t.sourceID)
	if err != nil {
		return nil, err
	}
	items, _, _, err := t.scan(ctx)
	if err != nil {
		return nil, err
	}
	return diffItems(prev, items, time.Now().UTC()), nil
}

// scan inspects every allow-listed table. An unreachable table is
// logged and skipped; only a dead connection fails the pass.
func (t *Database) scan(ctx context.Context) (map[string]itemInfo, int64, int, error) {
	if err := t.handle.PingContext(ctx); err != nil {
		return nil, 0, 0, fmt.Errorf("source database unreachable: %w", err)
	}

	items := make(map[string]itemInfo, len(t.tables))
	var totalRows int64
	skipped := 0

	for _, table := range t.tables {
		if err := ctx.Err(); err != nil {
			return nil, 0, 0, err
		}
		count, err := database.CountRows(ctx, t.handle, table)
		if err != nil {
			logging.Warn().Err(err).Str("table", table).Msg("Skipping inaccessible table")
			skipped++
			continue
		}
		digest, err := t.tableChecksum(ctx, table)
		if err != nil {
			logging.Warn().Err(err).Str("table", table).Msg("Skipping table without checksum")
			skipped++
			continue
		}
		items[table] = itemInfo{
			Checksum: fmt.Sprintf("%d:%s", count, digest),
			Size:     count,
		}
		totalRows += count
	}
	return items, totalRows, skipped, nil
}

// tableChecksum digests the table's content. Per-row digests are
// combined with XOR, so the result does not depend on scan order.
func (t *Database) tableChecksum(ctx context.Context, table string) (string, error) {
	if err := database.ValidateTableName(table); err != nil {
		return "", err
	}
	rows, err := t.handle.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("failed to describe %s: %w", table, err)
	}

	acc := make([]byte, sha256.Size)
	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", fmt.Errorf("failed to scan row in %s: %w", table, err)
		}
		h := sha256.New()
		for _, v := range vals {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			fmt.Fprintf(h, "%v\x1f", v)
		}
		digest := h.Sum(nil)
		for i := range acc {
			acc[i] ^= digest[i]
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return hex.EncodeToString(acc), nil
}
