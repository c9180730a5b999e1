// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package events provides the in-process lifecycle event bus.
//
// Backup components publish typed events (snapshot created, segment
// archived, key rotated, recovery finished) over a Watermill gochannel
// pub/sub; the audit recorder is the standing subscriber. The bus is
// in-process only: a single-binary backup tool has no external broker.
package events

import (
	"time"

	"github.com/google/uuid"
)

// TopicLifecycle carries every backup lifecycle event.
const TopicLifecycle = "backup.lifecycle"

// Type identifies what happened.
type Type string

const (
	TypeSnapshotCreated   Type = "snapshot.created"
	TypeChangesDetected   Type = "changes.detected"
	TypePlanEvaluated     Type = "plan.evaluated"
	TypeBaseBackupCreated Type = "base_backup.created"
	TypeSegmentArchived   Type = "segment.archived"
	TypeSegmentFailed     Type = "segment.failed"
	TypeKeyGenerated      Type = "key.generated"
	TypeKeyRotated        Type = "key.rotated"
	TypeRecoveryStarted   Type = "recovery.started"
	TypeRecoveryFinished  Type = "recovery.finished"
)

// Event is one lifecycle occurrence. Subject names the source, segment,
// key, or operation the event concerns.
type Event struct {
	ID        string            `json:"id"`
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject"`
	Outcome   string            `json:"outcome"`
	Details   map[string]string `json:"details,omitempty"`
}

// New creates an event with a fresh id and the current time.
func New(eventType Type, subject, outcome string, details map[string]string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Outcome:   outcome,
		Details:   details,
	}
}

// Success builds a success event.
func Success(eventType Type, subject string, details map[string]string) Event {
	return New(eventType, subject, "success", details)
}

// Failure builds a failure event carrying the error text.
func Failure(eventType Type, subject string, err error, details map[string]string) Event {
	if details == nil {
		details = make(map[string]string, 1)
	}
	if err != nil {
		details["error"] = err.Error()
	}
	return New(eventType, subject, "failure", details)
}
