// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package fault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	sentinel := errors.New("missing thing")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "direct classified error",
			err:  New(NotFound, "test.Op", "gone"),
			want: NotFound,
		},
		{
			name: "wrapped classified error",
			err:  fmt.Errorf("outer: %w", Wrap(IntegrityCheckFailed, "test.Op", sentinel)),
			want: IntegrityCheckFailed,
		},
		{
			name: "unclassified error",
			err:  errors.New("plain"),
			want: Internal,
		},
		{
			name: "deadline exceeded",
			err:  fmt.Errorf("op: %w", context.DeadlineExceeded),
			want: Timeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrapPreservesSentinel(t *testing.T) {
	sentinel := errors.New("no suitable base backup")
	err := Wrap(NotFound, "recovery.findBaseBackup", sentinel)

	if !errors.Is(err, sentinel) {
		t.Error("expected errors.Is to find the wrapped sentinel")
	}
	if !IsKind(err, NotFound) {
		t.Errorf("expected NotFound kind, got %v", KindOf(err))
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(Internal, "op", nil); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
	if err := FromOS("op", nil); err != nil {
		t.Errorf("FromOS(nil) = %v, want nil", err)
	}
}

func TestFromOS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "not exist", err: os.ErrNotExist, want: NotFound},
		{name: "permission", err: os.ErrPermission, want: PermissionDenied},
		{name: "deadline", err: context.DeadlineExceeded, want: Timeout},
		{name: "other", err: errors.New("disk on fire"), want: Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromOS("checksum.hashFile", tt.err)
			if got.Kind != tt.want {
				t.Errorf("FromOS() kind = %v, want %v", got.Kind, tt.want)
			}
		})
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: 0},
		{name: "not found", err: New(NotFound, "op", "x"), want: 2},
		{name: "permission", err: New(PermissionDenied, "op", "x"), want: 3},
		{name: "integrity", err: New(IntegrityCheckFailed, "op", "x"), want: 4},
		{name: "invalid arg", err: New(InvalidArgument, "op", "x"), want: 5},
		{name: "in progress", err: New(AlreadyInProgress, "op", "x"), want: 6},
		{name: "timeout", err: New(Timeout, "op", "x"), want: 7},
		{name: "internal", err: errors.New("plain"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := New(InvalidArgument, "database.ValidateTableName", "bad identifier")
	want := "invalid_argument: database.ValidateTableName: bad identifier"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
