// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package tracker

import (
	"context"
	"sort"
	"time"
)

// Tracker is what the backup orchestrator drives. Implementations are
// bound to one source and never mutate it.
type Tracker interface {
	SourceID() string
	// CreateSnapshot scans the source and persists a new snapshot.
	CreateSnapshot(ctx context.Context) (*IncrementalSnapshot, error)
	// DetectChanges rescans and diffs against the most recently
	// persisted snapshot. A source with no snapshot yet yields a
	// NotFound error, which the orchestrator reads as "no baseline".
	DetectChanges(ctx context.Context) ([]ChangeRecord, error)
}

// itemInfo is one scanned item before it becomes a snapshot entry or a
// change record.
type itemInfo struct {
	Checksum string
	Size     int64
}

// diffItems compares a scan result against a prior snapshot's checksum
// map. Every differing checksum becomes exactly one Modified record,
// every new item one Created, every vanished item one Deleted. Output
// is sorted by item for deterministic reporting.
func diffItems(prev *IncrementalSnapshot, current map[string]itemInfo, now time.Time) []ChangeRecord {
	changes := make([]ChangeRecord, 0)

	for item, info := range current {
		oldSum, existed := prev.ChecksumMap[item]
		switch {
		case !existed:
			changes = append(changes, ChangeRecord{
				Item:      item,
				Kind:      ChangeCreated,
				Timestamp: now,
				Size:      info.Size,
				Checksum:  info.Checksum,
			})
		case oldSum != info.Checksum:
			changes = append(changes, ChangeRecord{
				Item:      item,
				Kind:      ChangeModified,
				Timestamp: now,
				Size:      info.Size,
				Checksum:  info.Checksum,
			})
		}
	}

	for item, oldSum := range prev.ChecksumMap {
		if _, stillThere := current[item]; !stillThere {
			changes = append(changes, ChangeRecord{
				Item:      item,
				Kind:      ChangeDeleted,
				Timestamp: now,
				Checksum:  oldSum,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Item < changes[j].Item })
	return changes
}

// checksumsOnly projects a scan result down to the persisted map.
func checksumsOnly(items map[string]itemInfo) map[string]string {
	m := make(map[string]string, len(items))
	for item, info := range items {
		m[item] = info.Checksum
	}
	return m
}
