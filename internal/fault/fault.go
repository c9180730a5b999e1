// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package fault defines the error taxonomy shared across the backup and
// recovery subsystem. Every error that crosses a package boundary is
// classified by a Kind so callers and the CLI can react uniformly without
// inspecting error strings.
package fault

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// Kind classifies an error for callers and for CLI exit codes.
type Kind uint8

const (
	// Internal is an unexpected failure; logged with full context.
	Internal Kind = iota

	// NotFound signals a missing source, key, backup, or snapshot.
	NotFound

	// PermissionDenied signals an access failure on a source or store.
	PermissionDenied

	// IntegrityCheckFailed signals a checksum mismatch after decrypt or a
	// corrupted log segment.
	IntegrityCheckFailed

	// InvalidArgument signals malformed input such as a bad table name or
	// an unsupported algorithm.
	InvalidArgument

	// AlreadyInProgress signals a concurrent rotation or recovery on the
	// same key or operation id.
	AlreadyInProgress

	// Timeout signals a deadline or context expiry.
	Timeout
)

// String returns the stable machine-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case IntegrityCheckFailed:
		return "integrity_check_failed"
	case InvalidArgument:
		return "invalid_argument"
	case AlreadyInProgress:
		return "already_in_progress"
	case Timeout:
		return "timeout"
	default:
		return "internal"
	}
}

// Error is a classified error with the operation that produced it.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Op is the operation that failed, e.g. "tracker.CreateSnapshot".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a message.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Err: errors.New(msg)}
}

// Errorf creates a classified error from a format string.
func Errorf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. Returns nil when err is nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromOS classifies a filesystem error by its cause: not-exist maps to
// NotFound, permission to PermissionDenied, context expiry to Timeout,
// anything else to Internal. Returns nil when err is nil.
func FromOS(op string, err error) *Error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err) || errors.Is(err, os.ErrNotExist):
		return Wrap(NotFound, op, err)
	case os.IsPermission(err) || errors.Is(err, os.ErrPermission):
		return Wrap(PermissionDenied, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(Timeout, op, err)
	default:
		return Wrap(Internal, op, err)
	}
}

// KindOf extracts the Kind from an error chain. Unclassified errors report
// Internal; context.DeadlineExceeded reports Timeout even when unwrapped.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// ExitCode maps an error to a CLI exit code. Success is 0; each kind has a
// distinct non-zero code so scripts can branch on failures.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case NotFound:
		return 2
	case PermissionDenied:
		return 3
	case IntegrityCheckFailed:
		return 4
	case InvalidArgument:
		return 5
	case AlreadyInProgress:
		return 6
	case Timeout:
		return 7
	default:
		return 1
	}
}
