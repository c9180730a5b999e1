// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package audit records backup lifecycle events for compliance and
// postmortem analysis. The recorder subscribes to the in-process event bus
// and persists every snapshot, shipped segment, key operation, and recovery
// outcome to an append-only JSONL trail.
package audit

import (
	"context"
	"time"
)

// Severity indicates how notable an audit record is.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Record is one persisted audit entry.
type Record struct {
	// ID is the originating event id.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the lifecycle event type, e.g. "segment.archived".
	Type string `json:"type"`

	// Severity of the record.
	Severity Severity `json:"severity"`

	// Outcome is "success" or "failure".
	Outcome string `json:"outcome"`

	// Subject names the source, segment, key, or operation concerned.
	Subject string `json:"subject"`

	// Details carries event-specific fields.
	Details map[string]string `json:"details,omitempty"`
}

// Store persists audit records.
type Store interface {
	// Save appends a record to the trail.
	Save(ctx context.Context, record *Record) error

	// Delete removes records older than the cutoff, returning how many
	// were dropped.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases store resources.
	Close() error
}
