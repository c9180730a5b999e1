// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package recovery restores a source to a chosen point in time. One
// RecoveryOperation tracks each restore from creation to a terminal
// state; the orchestrator drives it through an isolated workspace
// using the base backup catalog and the transaction log catalog.
package recovery

import (
	"time"

	"github.com/tomtom215/chronovault/internal/txlog"
)

// RecoveryType selects how much of the restore pipeline runs.
type RecoveryType string

const (
	// TypeFullRestore extracts the newest suitable base backup and
	// replays log segments up to the target.
	TypeFullRestore RecoveryType = "full_restore"

	// TypeTransactionReplay applies log segments onto existing data
	// without touching a base backup.
	TypeTransactionReplay RecoveryType = "transaction_replay"

	// TypeIncrementalRestore extracts the newest suitable base backup
	// without log replay, recovering to the backup's own time.
	TypeIncrementalRestore RecoveryType = "incremental_restore"

	// TypeSelectiveRestore extracts only the paths named in the target
	// point's metadata from the base backup.
	TypeSelectiveRestore RecoveryType = "selective_restore"
)

// Valid reports whether t names a known recovery type.
func (t RecoveryType) Valid() bool {
	switch t {
	case TypeFullRestore, TypeTransactionReplay, TypeIncrementalRestore, TypeSelectiveRestore:
		return true
	}
	return false
}

// OperationStatus is one state of the recovery state machine.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusPreparing  OperationStatus = "preparing"
	StatusRestoring  OperationStatus = "restoring"
	StatusValidating OperationStatus = "validating"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s OperationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces the recovery state machine: the happy path
// moves strictly forward, Failed is reachable from any non-terminal
// state, and Cancelled only before restoring begins.
func (s OperationStatus) CanTransitionTo(next OperationStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusFailed:
		return true
	case StatusCancelled:
		return s == StatusPending || s == StatusPreparing
	case StatusPreparing:
		return s == StatusPending
	case StatusRestoring:
		return s == StatusPreparing
	case StatusValidating:
		return s == StatusRestoring
	case StatusCompleted:
		return s == StatusValidating
	}
	return false
}

// RecoveryOperation is the single mutable record tracked for the
// lifetime of one restore. The orchestrator owns all mutation; callers
// observe clones.
type RecoveryOperation struct {
	OperationID          string              `json:"operation_id"`
	Type                 RecoveryType        `json:"recovery_type"`
	Target               txlog.RecoveryPoint `json:"target"`
	SourceDB             string              `json:"source_db"`
	TargetDB             string              `json:"target_db"`
	Status               OperationStatus     `json:"status"`
	StartedAt            time.Time           `json:"started_at"`
	EndedAt              *time.Time          `json:"ended_at,omitempty"`
	CurrentStep          string              `json:"current_step,omitempty"`
	Progress             int                 `json:"progress"`
	RestoredBytes        int64               `json:"restored_bytes"`
	TransactionsReplayed int                 `json:"transactions_replayed"`
	Validation           map[string]string   `json:"validation,omitempty"`
	Errors               []string            `json:"errors,omitempty"`
	Warnings             []string            `json:"warnings,omitempty"`
}

// Clone returns a deep copy safe to hand outside the orchestrator.
func (op *RecoveryOperation) Clone() *RecoveryOperation {
	if op == nil {
		return nil
	}
	out := *op
	out.Target.LogFiles = append([]string(nil), op.Target.LogFiles...)
	if op.Target.Metadata != nil {
		out.Target.Metadata = make(map[string]string, len(op.Target.Metadata))
		for k, v := range op.Target.Metadata {
			out.Target.Metadata[k] = v
		}
	}
	if op.EndedAt != nil {
		ended := *op.EndedAt
		out.EndedAt = &ended
	}
	if op.Validation != nil {
		out.Validation = make(map[string]string, len(op.Validation))
		for k, v := range op.Validation {
			out.Validation[k] = v
		}
	}
	out.Errors = append([]string(nil), op.Errors...)
	out.Warnings = append([]string(nil), op.Warnings...)
	return &out
}
