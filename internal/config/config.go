// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package config

import (
	"path/filepath"
	"time"

	"github.com/tomtom215/chronovault/internal/audit"
	"github.com/tomtom215/chronovault/internal/backup"
	"github.com/tomtom215/chronovault/internal/checksum"
	"github.com/tomtom215/chronovault/internal/database"
	"github.com/tomtom215/chronovault/internal/encryption"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/recovery"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/txlog"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for all optional settings
//  2. Config File: optional YAML config file for persistent settings
//  3. Environment Variables: CHRONOVAULT_* overrides for any setting
//
// Configuration Categories:
//
//  1. Sources:
//     - Sources: tracked filesystems and databases to back up
//     - Checksum: content hashing and the persistent checksum cache
//
//  2. Protection pipeline:
//     - Backup: plan policy, snapshots, base backup archiving
//     - TxLog: transaction log shipping, retention and streaming
//     - Recovery: workspace and replay strategy for restores
//
//  3. Infrastructure:
//     - Storage: local or S3-compatible archive backend
//     - Encryption: key directory, algorithm, master secret
//     - Database: connection settings for database sources
//
//  4. Observability:
//     - Logging: log levels and output formats
//     - Metrics: optional Prometheus listener for the ship daemon
//     - Audit: append-only operation log
//
// Thread Safety:
// Config is immutable after Load() and safe for concurrent read access
// from multiple goroutines.
type Config struct {
	// DataDir anchors every derived path that is not set explicitly:
	// snapshots, checksum cache, keys, workspace, audit log and the
	// local storage directory all default to subdirectories of it.
	DataDir string `koanf:"data_dir"`

	Sources    []SourceConfig    `koanf:"sources"`
	Checksum   ChecksumConfig    `koanf:"checksum"`
	Backup     backup.Config     `koanf:"backup"`
	TxLog      txlog.Config      `koanf:"txlog"`
	Recovery   recovery.Config   `koanf:"recovery"`
	Storage    storage.Config    `koanf:"storage"`
	Encryption encryption.Config `koanf:"encryption"`
	Audit      audit.Config      `koanf:"audit"`
	Logging    logging.Config    `koanf:"logging"`
	Metrics    MetricsConfig     `koanf:"metrics"`
}

// SourceConfig describes one tracked source. Filesystem sources walk a
// root directory; database sources connect through database/sql and
// track tables.
type SourceConfig struct {
	// ID names the source in snapshots, storage keys and metrics. It
	// must be unique across the source list.
	ID string `koanf:"id" validate:"required"`

	// Type selects the tracker implementation.
	Type string `koanf:"type" validate:"required,oneof=filesystem database"`

	// Root is the directory a filesystem source walks.
	Root string `koanf:"root"`

	// Excludes are glob patterns matched against paths relative to
	// Root. Matching files are left out of snapshots.
	Excludes []string `koanf:"excludes"`

	// Database connects a database source. Validated separately so
	// filesystem sources may leave it empty.
	Database database.Config `koanf:"database" validate:"-"`

	// Tables restricts a database source to the named tables. Empty
	// tracks every table.
	Tables []string `koanf:"tables"`
}

// ChecksumConfig tunes content hashing for change detection.
type ChecksumConfig struct {
	// CacheDir persists computed checksums between runs. Empty keeps
	// the cache in memory only.
	CacheDir string `koanf:"cache_dir"`

	// CompositeThreshold is the file size in bytes above which a
	// size+mtime composite stands in for a full content hash. Zero
	// hashes everything.
	CompositeThreshold int64 `koanf:"composite_threshold" validate:"gte=0"`
}

// MetricsConfig controls the optional Prometheus endpoint of the ship
// daemon.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`

	// Listen is the address the metrics endpoint binds, host:port.
	Listen string `koanf:"listen"`
}

// defaultConfig returns a Config struct with all sensible default
// values. These defaults are applied first, then overridden by the
// config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		DataDir: "/data/chronovault",
		Checksum: ChecksumConfig{
			CompositeThreshold: checksum.DefaultCompositeThreshold,
		},
		Backup:     backup.DefaultConfig(),
		TxLog:      txlogDefaults(),
		Recovery:   recovery.DefaultConfig(),
		Storage:    storage.DefaultConfig(),
		Encryption: encryption.DefaultConfig(),
		Audit: audit.Config{
			Enabled:         true,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
			BufferSize:      256,
		},
		Logging: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9155",
		},
	}
}

// txlogDefaults relaxes the required fields so a config without log
// shipping still loads; Validate only checks them when shipping is
// turned on by naming a watch directory.
func txlogDefaults() txlog.Config {
	cfg := txlog.DefaultConfig()
	cfg.SourceID = ""
	cfg.WatchDir = ""
	return cfg
}

// applyDerivedPaths fills any path left empty from DataDir, keeping a
// single-directory deployment the zero-configuration default.
func (c *Config) applyDerivedPaths() {
	if c.DataDir == "" {
		return
	}
	if c.Backup.SnapshotDir == "" || c.Backup.SnapshotDir == backup.DefaultConfig().SnapshotDir {
		c.Backup.SnapshotDir = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Checksum.CacheDir == "" {
		c.Checksum.CacheDir = filepath.Join(c.DataDir, "checksums")
	}
	if c.Recovery.WorkspaceDir == "" {
		c.Recovery.WorkspaceDir = filepath.Join(c.DataDir, "recovery")
	}
	if c.Encryption.KeyDir == "" || c.Encryption.KeyDir == encryption.DefaultConfig().KeyDir {
		c.Encryption.KeyDir = filepath.Join(c.DataDir, "keys")
	}
	if c.Audit.Dir == "" {
		c.Audit.Dir = filepath.Join(c.DataDir, "audit")
	}
	if c.Storage.Backend == storage.BackendLocal &&
		(c.Storage.Dir == "" || c.Storage.Dir == storage.DefaultConfig().Dir) {
		c.Storage.Dir = filepath.Join(c.DataDir, "backups")
	}
}

// ShippingConfigured reports whether the transaction log section is
// populated enough to run the ship daemon.
func (c *Config) ShippingConfigured() bool {
	return c.TxLog.WatchDir != "" && c.TxLog.SourceID != ""
}

// Source returns the source definition with the given id.
func (c *Config) Source(id string) (SourceConfig, bool) {
	for _, src := range c.Sources {
		if src.ID == id {
			return src, true
		}
	}
	return SourceConfig{}, false
}
