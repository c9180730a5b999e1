// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"github.com/tomtom215/chronovault/internal/fault"
)

// Replayer selection names accepted by Config.
const (
	ReplayerStage   = "stage"
	ReplayerCommand = "command"
)

// Config wires the recovery orchestrator.
type Config struct {
	// WorkspaceDir hosts one isolated directory per operation.
	WorkspaceDir string `koanf:"workspace_dir" validate:"required"`

	// Replayer selects how staged segments are applied: "stage" writes
	// a recovery configuration for engine-side replay, "command" runs
	// an external command per segment.
	Replayer string `koanf:"replayer" validate:"omitempty,oneof=stage command"`

	// ReplayCommand is the command template the command replayer runs
	// per segment. {segment}, {data_dir} and {target} expand per call.
	ReplayCommand []string `koanf:"replay_command"`
}

// DefaultConfig stages segments for engine-side replay.
func DefaultConfig() Config {
	return Config{Replayer: ReplayerStage}
}

func (c Config) withDefaults() Config {
	if c.Replayer == "" {
		c.Replayer = ReplayerStage
	}
	return c
}

// Validate checks the workspace and replayer selection.
func (c Config) Validate() error {
	if c.WorkspaceDir == "" {
		return fault.New(fault.InvalidArgument, "recovery.Config", "workspace directory is required")
	}
	switch c.Replayer {
	case "", ReplayerStage:
	case ReplayerCommand:
		if len(c.ReplayCommand) == 0 {
			return fault.New(fault.InvalidArgument, "recovery.Config", "command replayer selected without a replay command")
		}
	default:
		return fault.Errorf(fault.InvalidArgument, "recovery.Config", "unknown replayer %q", c.Replayer)
	}
	return nil
}
