// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"time"

	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
)

// StreamConfig controls the optional real-time streaming subprocess.
type StreamConfig struct {
	// Enabled starts the stream monitor alongside the poll loop.
	Enabled bool `koanf:"enabled"`

	// Command is the streaming program and its arguments, e.g.
	// pg_receivewal with a target directory.
	Command []string `koanf:"command"`
}

// Config holds log shipping settings for one source.
type Config struct {
	// SourceID names the source in storage keys and metrics.
	SourceID string `koanf:"source_id" validate:"required"`

	// WatchDir is the archive directory the shipper polls.
	WatchDir string `koanf:"watch_dir" validate:"required"`

	// LogType labels shipped segments.
	LogType string `koanf:"log_type" validate:"omitempty,oneof=wal transaction redo binary"`

	// PollInterval paces the directory scan.
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`

	// Granularity spaces synthesized recovery points.
	Granularity time.Duration `koanf:"granularity" validate:"gte=0"`

	// Retention bounds how long shipped segments are kept.
	Retention time.Duration `koanf:"retention" validate:"gte=0"`

	// BookkeepingTTL bounds the in-memory segment catalog.
	BookkeepingTTL time.Duration `koanf:"bookkeeping_ttl" validate:"gte=0"`

	// SweepInterval paces the retention task.
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gte=0"`

	// Compression applies to each segment before upload.
	Compression compression.Config `koanf:"compression"`

	// Encrypt protects segments with the current encryption key.
	Encrypt bool `koanf:"encrypt"`

	// UploadRateBytes throttles segment uploads, 0 for unlimited.
	UploadRateBytes int64 `koanf:"upload_rate_bytes" validate:"gte=0"`

	// Stream configures the real-time streaming subprocess.
	Stream StreamConfig `koanf:"stream"`
}

// DefaultConfig returns production defaults: poll every 5 s, recovery
// points every 5 min, keep segments for a week, forget bookkeeping
// after a day.
func DefaultConfig() Config {
	return Config{
		LogType:        string(LogTypeWAL),
		PollInterval:   5 * time.Second,
		Granularity:    5 * time.Minute,
		Retention:      168 * time.Hour,
		BookkeepingTTL: 24 * time.Hour,
		SweepInterval:  time.Hour,
		Compression:    compression.Config{Algorithm: compression.AlgorithmZstd, Level: 3},
	}
}

// withDefaults fills zero durations so a partial config behaves.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.LogType == "" {
		c.LogType = def.LogType
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Granularity <= 0 {
		c.Granularity = def.Granularity
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.BookkeepingTTL <= 0 {
		c.BookkeepingTTL = def.BookkeepingTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	return c
}

// Validate checks the whole section.
func (c Config) Validate() error {
	if c.SourceID == "" {
		return fault.New(fault.InvalidArgument, "txlog.Config", "source id is required")
	}
	if c.WatchDir == "" {
		return fault.New(fault.InvalidArgument, "txlog.Config", "watch directory is required")
	}
	switch LogType(c.LogType) {
	case LogTypeWAL, LogTypeTransaction, LogTypeRedo, LogTypeBinary:
	default:
		return fault.Errorf(fault.InvalidArgument, "txlog.Config", "unknown log type %q", c.LogType)
	}
	if err := c.Compression.Validate(); err != nil {
		return err
	}
	if c.Stream.Enabled && len(c.Stream.Command) == 0 {
		return fault.New(fault.InvalidArgument, "txlog.Config", "streaming enabled without a command")
	}
	return nil
}
