// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
)

// PlanPolicy holds the thresholds the backup-level decision runs on.
type PlanPolicy struct {
	// FullAfterDays forces a full backup once the last full backup is
	// at least this many days old.
	FullAfterDays int `koanf:"full_after_days" validate:"gte=1"`

	// FullChangeRatio forces a full backup when the fraction of
	// changed items exceeds it.
	FullChangeRatio float64 `koanf:"full_change_ratio" validate:"gt=0,lte=1"`

	// DifferentialChangeRatio promotes incremental to differential
	// when the fraction of changed items exceeds it.
	DifferentialChangeRatio float64 `koanf:"differential_change_ratio" validate:"gt=0,lte=1"`
}

// DefaultPlanPolicy returns the standard thresholds.
func DefaultPlanPolicy() PlanPolicy {
	return PlanPolicy{
		FullAfterDays:           7,
		FullChangeRatio:         0.30,
		DifferentialChangeRatio: 0.10,
	}
}

// Validate checks cross-field consistency the struct tags cannot.
func (p PlanPolicy) Validate() error {
	if p.DifferentialChangeRatio > p.FullChangeRatio {
		return fault.Errorf(fault.InvalidArgument, "backup.PlanPolicy",
			"differential ratio %.2f must not exceed full ratio %.2f",
			p.DifferentialChangeRatio, p.FullChangeRatio)
	}
	return nil
}

// Config holds backup orchestration settings.
type Config struct {
	// SnapshotDir is where per-source snapshot files are persisted.
	SnapshotDir string `koanf:"snapshot_dir" validate:"required"`

	// Policy drives the full/differential/incremental decision.
	Policy PlanPolicy `koanf:"policy"`

	// Compression applies to base backup archives.
	Compression compression.Config `koanf:"compression"`

	// Encrypt protects base backup archives with the current key.
	Encrypt bool `koanf:"encrypt"`

	// UploadRateBytes throttles archive uploads, 0 for unlimited.
	UploadRateBytes int64 `koanf:"upload_rate_bytes" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotDir: "/data/chronovault/snapshots",
		Policy:      DefaultPlanPolicy(),
		Compression: compression.Config{Algorithm: compression.AlgorithmGzip, Level: 6},
	}
}

// Validate checks the whole section.
func (c Config) Validate() error {
	if c.SnapshotDir == "" {
		return fault.New(fault.InvalidArgument, "backup.Config", "snapshot directory is required")
	}
	if err := compression.Validate(c.Compression.Algorithm); err != nil {
		return err
	}
	return c.Policy.Validate()
}
