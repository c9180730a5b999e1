// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package tracker snapshots backup sources and detects what changed
// between snapshots. A filesystem tracker walks a directory tree; a
// database tracker inspects an allow-list of tables. Both persist
// snapshots through the same JSON store so change detection survives
// restarts.
package tracker

import (
	"regexp"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
)

// BackupLevel classifies how much of a source a backup covers.
type BackupLevel string

const (
	LevelFull         BackupLevel = "full"
	LevelDifferential BackupLevel = "differential"
	LevelIncremental  BackupLevel = "incremental"
	LevelLog          BackupLevel = "log"
)

// ChangeKind classifies one detected change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	// ChangeMoved is reserved for callers that correlate a delete and
	// a create out of band; the scan itself emits the pair.
	ChangeMoved ChangeKind = "moved"
)

// ChangeRecord is one detected change, immutable once emitted. Item is
// a slash-relative file path or a table name.
type ChangeRecord struct {
	Item      string            `json:"item"`
	Kind      ChangeKind        `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Size      int64             `json:"size"`
	Checksum  string            `json:"checksum"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IncrementalSnapshot is the persisted state of a source at one point
// in time. Snapshots are never mutated; the next snapshot of the same
// source supersedes this one.
type IncrementalSnapshot struct {
	SnapshotID   string            `json:"snapshot_id"`
	SourceID     string            `json:"source_id"`
	BackupLevel  BackupLevel       `json:"backup_level"`
	CreatedAt    time.Time         `json:"created_at"`
	FilesTracked int               `json:"files_tracked"`
	TotalSize    int64             `json:"total_size"`
	ChecksumMap  map[string]string `json:"checksum_map"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// sourceIDPattern keeps source ids usable as directory names and
// storage key components.
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateSourceID rejects ids that cannot name a snapshot directory.
func ValidateSourceID(id string) error {
	if !sourceIDPattern.MatchString(id) {
		return fault.Errorf(fault.InvalidArgument, "tracker.ValidateSourceID", "invalid source id %q", id)
	}
	return nil
}
