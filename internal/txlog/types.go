// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package txlog ships archived transaction log segments to durable
// storage and derives the recovery points the PITR orchestrator
// targets. A polling shipper, a retention sweep, and an optional
// streaming subprocess monitor run as independent tasks sharing one
// mutex-guarded segment catalog.
package txlog

import (
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/fault"
)

// LogType classifies the write-ahead format a source produces.
type LogType string

const (
	LogTypeWAL         LogType = "wal"
	LogTypeTransaction LogType = "transaction"
	LogTypeRedo        LogType = "redo"
	LogTypeBinary      LogType = "binary"
)

// SegmentStatus tracks a segment through the shipping pipeline.
type SegmentStatus string

const (
	StatusStreaming SegmentStatus = "streaming"
	StatusArchiving SegmentStatus = "archiving"
	StatusCompleted SegmentStatus = "completed"
	StatusFailed    SegmentStatus = "failed"
	StatusPaused    SegmentStatus = "paused"
)

// Terminal reports whether no further transition is allowed.
func (s SegmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces forward-only movement: Streaming through
// Archiving to Completed, Failed from any non-terminal state, and
// Paused only as a detour from Streaming.
func (s SegmentStatus) CanTransitionTo(next SegmentStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusFailed:
		return true
	case StatusArchiving:
		return s == StatusStreaming
	case StatusCompleted:
		return s == StatusArchiving
	case StatusPaused:
		return s == StatusStreaming
	case StatusStreaming:
		return s == StatusPaused
	default:
		return false
	}
}

// LogSegment is one archived log file moving through the pipeline.
// Status only moves forward; everything else is filled in as the
// segment is processed.
type LogSegment struct {
	SegmentID  string            `json:"segment_id"`
	LogType    LogType           `json:"log_type"`
	Sequence   uint64            `json:"sequence"`
	StartLSN   string            `json:"start_lsn,omitempty"`
	EndLSN     string            `json:"end_lsn,omitempty"`
	SourcePath string            `json:"source_path"`
	BackupPath string            `json:"backup_path,omitempty"`
	Size       int64             `json:"size"`
	Checksum   string            `json:"checksum,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ArchivedAt *time.Time        `json:"archived_at,omitempty"`
	Status     SegmentStatus     `json:"backup_status"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Clone returns an independent copy, so catalog internals never leak.
func (s *LogSegment) Clone() *LogSegment {
	if s == nil {
		return nil
	}
	dup := *s
	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		dup.ArchivedAt = &t
	}
	if s.Metadata != nil {
		dup.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			dup.Metadata[k] = v
		}
	}
	return &dup
}

// RecoveryPoint is a restorable moment derived from the segment
// catalog. LogFiles lists every segment needed to reach the point, in
// replay order.
type RecoveryPoint struct {
	PointID       string            `json:"point_id"`
	Timestamp     time.Time         `json:"timestamp"`
	LSN           string            `json:"lsn,omitempty"`
	TransactionID string            `json:"transaction_id,omitempty"`
	BaseBackup    string            `json:"base_backup,omitempty"`
	LogFiles      []string          `json:"log_files"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// sidecarSuffix marks the JSON file written next to a processed
// segment. Its presence tells a later poll, or a restarted daemon,
// that the segment was already handled; removing it forces a retry.
const sidecarSuffix = ".segment.json"

// SidecarPath returns the sidecar location for a segment file.
func SidecarPath(segmentPath string) string {
	return segmentPath + sidecarSuffix
}

func isSidecar(name string) bool {
	return strings.HasSuffix(name, sidecarSuffix)
}

// WriteSidecar persists the segment record atomically next to the
// segment file.
func WriteSidecar(path string, seg *LogSegment) error {
	data, err := json.MarshalIndent(seg, "", "  ")
	if err != nil {
		return fault.Errorf(fault.Internal, "txlog.WriteSidecar", "failed to encode segment sidecar: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fault.FromOS("txlog.WriteSidecar", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fault.FromOS("txlog.WriteSidecar", err)
	}
	return nil
}

// ReadSidecar loads a segment record; a missing sidecar is NotFound.
func ReadSidecar(path string) (*LogSegment, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: sidecar path derives from the segment path
	if err != nil {
		return nil, fault.FromOS("txlog.ReadSidecar", err)
	}
	var seg LogSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return nil, fault.Errorf(fault.IntegrityCheckFailed, "txlog.ReadSidecar", "malformed segment sidecar %s: %v", path, err)
	}
	return &seg, nil
}

// parseWALSequence extracts the sequence from a PostgreSQL-style WAL
// name: 24 hex digits, timeline in the first 8, position in the rest.
func parseWALSequence(name string) (uint64, bool) {
	base := name
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if len(base) != 24 {
		return 0, false
	}
	var seq uint64
	for _, r := range base[8:] {
		var d uint64
		switch {
		case r >= '0' && r <= '9':
			d = uint64(r - '0')
		case r >= 'A' && r <= 'F':
			d = uint64(r-'A') + 10
		case r >= 'a' && r <= 'f':
			d = uint64(r-'a') + 10
		default:
			return 0, false
		}
		seq = seq<<4 | d
	}
	return seq, true
}
