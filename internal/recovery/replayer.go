// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/txlog"
)

// Replayer applies log segments to a recovery workspace in ascending
// sequence order, stopping at the target time. It returns how many
// segments it applied; on error the count covers the segments applied
// before the failure.
type Replayer interface {
	Replay(ctx context.Context, ws *Workspace, segments []*txlog.LogSegment, target time.Time) (int, error)
}

// ensureAscending rejects out-of-order segment lists. Replaying out of
// order corrupts the result, so it is an error rather than a sort.
func ensureAscending(segments []*txlog.LogSegment) error {
	for i := 1; i < len(segments); i++ {
		if segments[i].Sequence <= segments[i-1].Sequence {
			return fault.Errorf(fault.InvalidArgument, "recovery.Replay",
				"segments out of order: sequence %d follows %d", segments[i].Sequence, segments[i-1].Sequence)
		}
	}
	return nil
}

// StageReplayer copies segments into the workspace and writes a
// recovery configuration pinning the target time, leaving the actual
// replay to the database engine started on the restored data
// directory.
type StageReplayer struct{}

// Replay stages every segment and writes the recovery configuration.
func (StageReplayer) Replay(ctx context.Context, ws *Workspace, segments []*txlog.LogSegment, target time.Time) (int, error) {
	if err := ensureAscending(segments); err != nil {
		return 0, err
	}

	staged := 0
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return staged, err
		}
		dest := filepath.Join(ws.SegmentsDir, filepath.Base(seg.SourcePath))
		if err := stageFile(seg.SourcePath, dest); err != nil {
			return staged, err
		}
		staged++
	}

	if err := writeRecoveryConfig(ws, target); err != nil {
		return staged, err
	}
	return staged, nil
}

// writeRecoveryConfig emits the restore command and target time the
// engine reads when it starts on the workspace data directory.
func writeRecoveryConfig(ws *Workspace, target time.Time) error {
	var b strings.Builder
	fmt.Fprintf(&b, "restore_command = 'cp %s/%%f %%p'\n", ws.SegmentsDir)
	fmt.Fprintf(&b, "recovery_target_time = '%s'\n", target.Format(time.RFC3339))
	fmt.Fprintf(&b, "recovery_target_action = 'promote'\n")

	confPath := filepath.Join(ws.DataDir, "recovery.conf")
	tmp := confPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fault.FromOS("recovery.writeRecoveryConfig", err)
	}
	if err := os.Rename(tmp, confPath); err != nil {
		return fault.FromOS("recovery.writeRecoveryConfig", err)
	}
	if err := os.WriteFile(filepath.Join(ws.DataDir, "recovery.signal"), nil, 0o600); err != nil {
		return fault.FromOS("recovery.writeRecoveryConfig", err)
	}
	return nil
}

// stageFile copies a segment into the workspace via temp and rename.
func stageFile(srcPath, destPath string) error {
	src, err := os.Open(srcPath) //nolint:gosec // G304: path comes from the segment catalog
	if err != nil {
		return fault.FromOS("recovery.stageFile", err)
	}
	defer func() { _ = src.Close() }()

	tmp := destPath + ".tmp"
	dest, err := os.Create(tmp) //nolint:gosec // G304: destination is inside the recovery workspace
	if err != nil {
		return fault.FromOS("recovery.stageFile", err)
	}
	_, copyErr := io.Copy(dest, src)
	closeErr := dest.Close()
	if copyErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to stage %s: %w", filepath.Base(srcPath), copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finish staging %s: %w", filepath.Base(srcPath), closeErr)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return fault.FromOS("recovery.stageFile", err)
	}
	return nil
}

// CommandReplayer applies each segment by running an external command,
// for engines whose replay tooling is invoked per segment.
type CommandReplayer struct {
	command []string
}

// NewCommandReplayer validates the command template.
func NewCommandReplayer(command []string) (*CommandReplayer, error) {
	if len(command) == 0 {
		return nil, fault.New(fault.InvalidArgument, "recovery.NewCommandReplayer", "replay command is required")
	}
	return &CommandReplayer{command: append([]string(nil), command...)}, nil
}

// Replay runs the command once per segment, aborting on the first
// failure.
func (r *CommandReplayer) Replay(ctx context.Context, ws *Workspace, segments []*txlog.LogSegment, target time.Time) (int, error) {
	if err := ensureAscending(segments); err != nil {
		return 0, err
	}

	applied := 0
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		args := r.expand(seg, ws, target)
		cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // G204: command comes from operator configuration
		var stderr bytes.Buffer
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			if snippet := strings.TrimSpace(stderr.String()); snippet != "" {
				return applied, fmt.Errorf("replay of %s failed: %w: %s", filepath.Base(seg.SourcePath), err, snippet)
			}
			return applied, fmt.Errorf("replay of %s failed: %w", filepath.Base(seg.SourcePath), err)
		}
		applied++
	}
	return applied, nil
}

func (r *CommandReplayer) expand(seg *txlog.LogSegment, ws *Workspace, target time.Time) []string {
	args := make([]string, len(r.command))
	for i, arg := range r.command {
		arg = strings.ReplaceAll(arg, "{segment}", seg.SourcePath)
		arg = strings.ReplaceAll(arg, "{data_dir}", ws.DataDir)
		arg = strings.ReplaceAll(arg, "{target}", target.Format(time.RFC3339))
		args[i] = arg
	}
	return args
}
