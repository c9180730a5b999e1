// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

/*
Package config provides centralized configuration management for Chronovault.

This package handles loading, validation, and merging of configuration
for all backup and recovery components. It layers built-in defaults, an
optional YAML file, and CHRONOVAULT_* environment variables, with later
sources overriding earlier ones.

# Configuration Sources

Configuration is merged in order, later sources overriding earlier:

 1. Built-in defaults (defaultConfig)
 2. YAML configuration file (chronovault.yaml or CHRONOVAULT_CONFIG)
 3. Environment variables (CHRONOVAULT_* prefix)

# Configuration Structure

The package organizes configuration into logical sections:

  - Sources: backup sources (filesystem trees, SQLite/DuckDB databases)
  - Checksum: content hashing and composite checksum threshold
  - Backup: base backup policy, compression, encryption toggle
  - TxLog: transaction log shipping (watch dir, cadence, retention)
  - Recovery: restore workspace and log replay strategy
  - Storage: backend selection (local filesystem or S3-compatible)
  - Encryption: key directory, cipher, master secret name
  - Audit: tamper-evident audit trail settings
  - Logging: level, format, caller annotation
  - Metrics: Prometheus exposition endpoint

# Environment Variables

Variables are mapped explicitly; unknown CHRONOVAULT_* names are
ignored rather than guessed at.

Paths:
  - CHRONOVAULT_DATA_DIR: Base data directory (default: /data/chronovault)
  - CHRONOVAULT_SNAPSHOT_DIR: Snapshot manifests (default: <data_dir>/snapshots)
  - CHRONOVAULT_CHECKSUM_CACHE_DIR: Checksum cache (default: <data_dir>/checksums)
  - CHRONOVAULT_WORKSPACE_DIR: Recovery workspaces (default: <data_dir>/recovery)
  - CHRONOVAULT_KEY_DIR: Encryption keys (default: <data_dir>/keys)
  - CHRONOVAULT_AUDIT_DIR: Audit trail (default: <data_dir>/audit)

Backup (Backup section):
  - CHRONOVAULT_BACKUP_ENCRYPT: Encrypt base backups (default: false)
  - CHRONOVAULT_BACKUP_COMPRESSION: Archive algorithm (default: gzip)
  - CHRONOVAULT_BACKUP_COMPRESSION_LEVEL: Compression level (default: 6)
  - CHRONOVAULT_BACKUP_UPLOAD_RATE: Upload throttle in bytes/s (default: unlimited)
  - CHRONOVAULT_FULL_AFTER_DAYS: Force full backup after N days (default: 7)
  - CHRONOVAULT_FULL_CHANGE_RATIO: Full backup change threshold (default: 0.30)
  - CHRONOVAULT_DIFFERENTIAL_CHANGE_RATIO: Differential threshold (default: 0.10)

Transaction Log Shipping (TxLog section):
  - CHRONOVAULT_SOURCE_ID: Source name for shipped segments (required to ship)
  - CHRONOVAULT_WATCH_DIR: Archive directory to poll (required to ship)
  - CHRONOVAULT_LOG_TYPE: Segment label (wal, transaction, redo, binary)
  - CHRONOVAULT_POLL_INTERVAL: Directory scan cadence (default: 5s)
  - CHRONOVAULT_GRANULARITY: Recovery point spacing (default: 5m)
  - CHRONOVAULT_LOG_RETENTION: Segment retention (default: 168h)
  - CHRONOVAULT_BOOKKEEPING_TTL: In-memory catalog TTL (default: 24h)
  - CHRONOVAULT_SWEEP_INTERVAL: Retention sweep cadence (default: 1h)
  - CHRONOVAULT_TXLOG_COMPRESSION: Segment algorithm (default: zstd)
  - CHRONOVAULT_TXLOG_COMPRESSION_LEVEL: Segment level (default: 3)
  - CHRONOVAULT_TXLOG_ENCRYPT: Encrypt shipped segments (default: false)
  - CHRONOVAULT_TXLOG_UPLOAD_RATE: Upload throttle in bytes/s (default: unlimited)
  - CHRONOVAULT_STREAM_ENABLED: Start the streaming subprocess (default: false)
  - CHRONOVAULT_STREAM_COMMAND: Streaming command, comma-separated argv

Recovery (Recovery section):
  - CHRONOVAULT_REPLAYER: Replay strategy (stage, command; default: stage)
  - CHRONOVAULT_REPLAY_COMMAND: Replay command, comma-separated argv

Storage (Storage section):
  - CHRONOVAULT_STORAGE_BACKEND: Backend (local, s3; default: local)
  - CHRONOVAULT_STORAGE_DIR: Local backend directory (default: <data_dir>/backups)
  - CHRONOVAULT_S3_ENDPOINT: S3-compatible endpoint host:port
  - CHRONOVAULT_S3_ACCESS_KEY: S3 access key
  - CHRONOVAULT_S3_SECRET_KEY: S3 secret key
  - CHRONOVAULT_S3_BUCKET: S3 bucket name
  - CHRONOVAULT_S3_SECURE: Use TLS (default: true)

Encryption (Encryption section):
  - CHRONOVAULT_ENCRYPTION_ALGORITHM: Cipher (aes-256-gcm, chacha20-poly1305)
  - CHRONOVAULT_MASTER_SECRET_NAME: Master key secret name

Audit (Audit section):
  - CHRONOVAULT_AUDIT_ENABLED: Record an audit trail (default: true)
  - CHRONOVAULT_AUDIT_RETENTION_DAYS: Entry retention (default: 90)
  - CHRONOVAULT_AUDIT_CLEANUP_INTERVAL: Cleanup cadence (default: 24h)

Logging and Metrics:
  - CHRONOVAULT_LOG_LEVEL: trace, debug, info, warn, error (default: info)
  - CHRONOVAULT_LOG_FORMAT: json or console (default: json)
  - CHRONOVAULT_LOG_CALLER: Annotate log lines with caller (default: false)
  - CHRONOVAULT_METRICS_ENABLED: Expose Prometheus metrics (default: false)
  - CHRONOVAULT_METRICS_LISTEN: Metrics listen address (default: 127.0.0.1:9155)

# Usage Example

Basic configuration loading:

	import "github.com/tomtom215/chronovault/internal/config"

	// Load configuration from defaults, file, and environment
	cfg, err := config.Load()
	if err != nil {
	    log.Fatal().Err(err).Msg("failed to load config")
	}

	fmt.Printf("Data directory: %s\n", cfg.DataDir)
	fmt.Printf("Storage backend: %s\n", cfg.Storage.Backend)

Loading an explicit file, for tests or one-off tooling:

	cfg, err := config.LoadFile("/etc/chronovault/config.yaml")

# Derived Paths

DataDir anchors every on-disk location. Sections left at their
defaults are re-rooted under DataDir during Load, so setting a single
variable moves the whole installation:

	CHRONOVAULT_DATA_DIR=/srv/vault

yields /srv/vault/snapshots, /srv/vault/checksums, /srv/vault/recovery,
/srv/vault/keys, /srv/vault/audit and /srv/vault/backups. Explicitly
configured paths always win over derivation.

# Validation

Load validates the merged configuration before returning:

  - Source entries: unique IDs, filesystem sources need a root,
    database sources need a DSN
  - TxLog: watch_dir and source_id must be set together; streaming
    requires both plus a command
  - Storage: local backend needs a directory, s3 needs endpoint and bucket
  - Encryption: enabling backup or segment encryption requires a key dir
  - Numeric ranges and enums via struct tags (internal/validation)

# YAML Files

For durable deployments, create chronovault.yaml:

	data_dir: /data/chronovault
	sources:
	  - id: docs
	    type: filesystem
	    root: /srv/documents
	backup:
	  encrypt: true
	txlog:
	  source_id: docs
	  watch_dir: /var/lib/postgresql/archive
	storage:
	  backend: s3
	  s3:
	    endpoint: minio.internal:9000
	    bucket: chronovault

The file is searched at ./chronovault.yaml, ./chronovault.yml,
/etc/chronovault/config.yaml and /etc/chronovault/config.yml, or the
path named by CHRONOVAULT_CONFIG.

# Hot Reload

WatchConfigFile registers a callback driven by file change events.
Chronovault uses it to adjust the log level without a restart; full
section reloads still require one.

# Thread Safety

The Config struct is immutable after Load() returns, making it safe
for concurrent access from multiple goroutines without synchronization.

# Performance

Configuration loading is fast (<10ms) and only happens once at
startup. Values are parsed and validated during Load(), so runtime
access is direct field reads with zero overhead.

# See Also

  - internal/validation: Struct tag validation and error translation
  - github.com/knadh/koanf/v2: Underlying configuration library
*/
package config
