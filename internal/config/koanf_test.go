// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/fault"
)

// TestDefaultConfig verifies that defaultConfig() returns proper defaults
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.DataDir != "/data/chronovault" {
		t.Errorf("DataDir = %q, want /data/chronovault", cfg.DataDir)
	}

	// Checksum defaults
	if cfg.Checksum.CompositeThreshold != 64<<20 {
		t.Errorf("Checksum.CompositeThreshold = %d, want 64MB", cfg.Checksum.CompositeThreshold)
	}
	if cfg.Checksum.CacheDir != "" {
		t.Errorf("Checksum.CacheDir should be empty before derivation, got %q", cfg.Checksum.CacheDir)
	}

	// Backup defaults
	if cfg.Backup.SnapshotDir != "/data/chronovault/snapshots" {
		t.Errorf("Backup.SnapshotDir = %q, want /data/chronovault/snapshots", cfg.Backup.SnapshotDir)
	}
	if cfg.Backup.Policy.FullAfterDays != 7 {
		t.Errorf("Backup.Policy.FullAfterDays = %d, want 7", cfg.Backup.Policy.FullAfterDays)
	}
	if cfg.Backup.Policy.FullChangeRatio != 0.30 {
		t.Errorf("Backup.Policy.FullChangeRatio = %v, want 0.30", cfg.Backup.Policy.FullChangeRatio)
	}
	if cfg.Backup.Policy.DifferentialChangeRatio != 0.10 {
		t.Errorf("Backup.Policy.DifferentialChangeRatio = %v, want 0.10", cfg.Backup.Policy.DifferentialChangeRatio)
	}
	if cfg.Backup.Compression.Algorithm != compression.AlgorithmGzip {
		t.Errorf("Backup.Compression.Algorithm = %q, want gzip", cfg.Backup.Compression.Algorithm)
	}
	if cfg.Backup.Encrypt {
		t.Error("Backup.Encrypt should be false by default")
	}

	// Transaction log defaults (shipping off until configured)
	if cfg.TxLog.SourceID != "" || cfg.TxLog.WatchDir != "" {
		t.Errorf("TxLog source/watch should be empty by default, got %q/%q", cfg.TxLog.SourceID, cfg.TxLog.WatchDir)
	}
	if cfg.TxLog.LogType != "wal" {
		t.Errorf("TxLog.LogType = %q, want wal", cfg.TxLog.LogType)
	}
	if cfg.TxLog.PollInterval != 5*time.Second {
		t.Errorf("TxLog.PollInterval = %v, want 5s", cfg.TxLog.PollInterval)
	}
	if cfg.TxLog.Granularity != 5*time.Minute {
		t.Errorf("TxLog.Granularity = %v, want 5m", cfg.TxLog.Granularity)
	}
	if cfg.TxLog.Retention != 168*time.Hour {
		t.Errorf("TxLog.Retention = %v, want 168h", cfg.TxLog.Retention)
	}
	if cfg.TxLog.Compression.Algorithm != compression.AlgorithmZstd {
		t.Errorf("TxLog.Compression.Algorithm = %q, want zstd", cfg.TxLog.Compression.Algorithm)
	}

	// Recovery defaults
	if cfg.Recovery.Replayer != "stage" {
		t.Errorf("Recovery.Replayer = %q, want stage", cfg.Recovery.Replayer)
	}

	// Storage defaults
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Storage.Dir != "/data/chronovault/backups" {
		t.Errorf("Storage.Dir = %q, want /data/chronovault/backups", cfg.Storage.Dir)
	}

	// Encryption defaults
	if cfg.Encryption.KeyDir != "/data/chronovault/keys" {
		t.Errorf("Encryption.KeyDir = %q, want /data/chronovault/keys", cfg.Encryption.KeyDir)
	}
	if cfg.Encryption.MasterSecretName != "chronovault-master-key" {
		t.Errorf("Encryption.MasterSecretName = %q, want chronovault-master-key", cfg.Encryption.MasterSecretName)
	}

	// Audit defaults
	if !cfg.Audit.Enabled {
		t.Error("Audit.Enabled should be true by default")
	}
	if cfg.Audit.RetentionDays != 90 {
		t.Errorf("Audit.RetentionDays = %d, want 90", cfg.Audit.RetentionDays)
	}
	if cfg.Audit.CleanupInterval != 24*time.Hour {
		t.Errorf("Audit.CleanupInterval = %v, want 24h", cfg.Audit.CleanupInterval)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}

	// Metrics defaults
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be false by default")
	}
	if cfg.Metrics.Listen != "127.0.0.1:9155" {
		t.Errorf("Metrics.Listen = %q, want 127.0.0.1:9155", cfg.Metrics.Listen)
	}
}

// TestEnvTransformFunc verifies environment variable name transformations
func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		// Paths
		{"CHRONOVAULT_DATA_DIR", "data_dir"},
		{"CHRONOVAULT_SNAPSHOT_DIR", "backup.snapshot_dir"},
		{"CHRONOVAULT_CHECKSUM_CACHE_DIR", "checksum.cache_dir"},
		{"CHRONOVAULT_CHECKSUM_COMPOSITE_THRESHOLD", "checksum.composite_threshold"},
		{"CHRONOVAULT_WORKSPACE_DIR", "recovery.workspace_dir"},
		{"CHRONOVAULT_KEY_DIR", "encryption.key_dir"},

		// Backup
		{"CHRONOVAULT_BACKUP_ENCRYPT", "backup.encrypt"},
		{"CHRONOVAULT_BACKUP_COMPRESSION", "backup.compression.algorithm"},
		{"CHRONOVAULT_BACKUP_COMPRESSION_LEVEL", "backup.compression.level"},
		{"CHRONOVAULT_FULL_AFTER_DAYS", "backup.policy.full_after_days"},
		{"CHRONOVAULT_FULL_CHANGE_RATIO", "backup.policy.full_change_ratio"},

		// Transaction log
		{"CHRONOVAULT_SOURCE_ID", "txlog.source_id"},
		{"CHRONOVAULT_WATCH_DIR", "txlog.watch_dir"},
		{"CHRONOVAULT_POLL_INTERVAL", "txlog.poll_interval"},
		{"CHRONOVAULT_LOG_RETENTION", "txlog.retention"},
		{"CHRONOVAULT_STREAM_ENABLED", "txlog.stream.enabled"},
		{"CHRONOVAULT_STREAM_COMMAND", "txlog.stream.command"},

		// Recovery
		{"CHRONOVAULT_REPLAYER", "recovery.replayer"},
		{"CHRONOVAULT_REPLAY_COMMAND", "recovery.replay_command"},

		// Storage
		{"CHRONOVAULT_STORAGE_BACKEND", "storage.backend"},
		{"CHRONOVAULT_STORAGE_DIR", "storage.dir"},
		{"CHRONOVAULT_S3_ENDPOINT", "storage.s3.endpoint"},
		{"CHRONOVAULT_S3_SECRET_KEY", "storage.s3.secret_key"},
		{"CHRONOVAULT_S3_BUCKET", "storage.s3.bucket"},

		// Audit
		{"CHRONOVAULT_AUDIT_ENABLED", "audit.enabled"},
		{"CHRONOVAULT_AUDIT_RETENTION_DAYS", "audit.retention_days"},

		// Logging and metrics
		{"CHRONOVAULT_LOG_LEVEL", "logging.level"},
		{"CHRONOVAULT_LOG_FORMAT", "logging.format"},
		{"CHRONOVAULT_METRICS_ENABLED", "metrics.enabled"},
		{"CHRONOVAULT_METRICS_LISTEN", "metrics.listen"},

		// Unknown (should return empty)
		{"CHRONOVAULT_RANDOM_VAR", ""},
		{"LOG_LEVEL", ""},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := envTransformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

// TestFindConfigFile verifies config file discovery
func TestFindConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	defer func() {
		if err := os.Chdir(origDir); err != nil {
			t.Errorf("Failed to restore working directory: %v", err)
		}
	}()

	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}

	t.Run("no config file exists", func(t *testing.T) {
		os.Unsetenv(ConfigPathEnvVar)
		result := FindConfigFile()
		if result != "" {
			t.Errorf("FindConfigFile() = %q, want empty string", result)
		}
	})

	t.Run("chronovault.yaml exists", func(t *testing.T) {
		configPath := filepath.Join(tmpDir, "chronovault.yaml")
		if err := os.WriteFile(configPath, []byte("data_dir: /tmp/cv"), 0644); err != nil {
			t.Fatalf("Failed to create config file: %v", err)
		}
		defer os.Remove(configPath)

		os.Unsetenv(ConfigPathEnvVar)
		result := FindConfigFile()
		if result != "chronovault.yaml" {
			t.Errorf("FindConfigFile() = %q, want chronovault.yaml", result)
		}
	})

	t.Run("CHRONOVAULT_CONFIG takes precedence", func(t *testing.T) {
		customPath := filepath.Join(tmpDir, "custom_config.yaml")
		if err := os.WriteFile(customPath, []byte("data_dir: /tmp/cv"), 0644); err != nil {
			t.Fatalf("Failed to create custom config file: %v", err)
		}
		defer os.Remove(customPath)

		os.Setenv(ConfigPathEnvVar, customPath)
		defer os.Unsetenv(ConfigPathEnvVar)

		result := FindConfigFile()
		if result != customPath {
			t.Errorf("FindConfigFile() = %q, want %q", result, customPath)
		}
	})

	t.Run("CHRONOVAULT_CONFIG with non-existent file", func(t *testing.T) {
		os.Setenv(ConfigPathEnvVar, "/non/existent/config.yaml")
		defer os.Unsetenv(ConfigPathEnvVar)

		result := FindConfigFile()
		if result != "" {
			t.Errorf("FindConfigFile() = %q, want empty string", result)
		}
	})
}

// TestLoadEnvVars tests loading configuration from environment variables
func TestLoadEnvVars(t *testing.T) {
	os.Clearenv()

	os.Setenv("CHRONOVAULT_DATA_DIR", "/srv/vault")
	os.Setenv("CHRONOVAULT_LOG_LEVEL", "debug")
	os.Setenv("CHRONOVAULT_FULL_AFTER_DAYS", "14")
	os.Setenv("CHRONOVAULT_BACKUP_ENCRYPT", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify overrides
	if cfg.DataDir != "/srv/vault" {
		t.Errorf("DataDir = %q, want /srv/vault", cfg.DataDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Backup.Policy.FullAfterDays != 14 {
		t.Errorf("Backup.Policy.FullAfterDays = %d, want 14", cfg.Backup.Policy.FullAfterDays)
	}
	if !cfg.Backup.Encrypt {
		t.Error("Backup.Encrypt = false, want true")
	}

	// Verify derived paths follow the data dir
	derived := []struct {
		got  string
		want string
	}{
		{cfg.Backup.SnapshotDir, "/srv/vault/snapshots"},
		{cfg.Checksum.CacheDir, "/srv/vault/checksums"},
		{cfg.Recovery.WorkspaceDir, "/srv/vault/recovery"},
		{cfg.Encryption.KeyDir, "/srv/vault/keys"},
		{cfg.Audit.Dir, "/srv/vault/audit"},
		{cfg.Storage.Dir, "/srv/vault/backups"},
	}
	for _, d := range derived {
		if d.got != d.want {
			t.Errorf("derived path = %q, want %q", d.got, d.want)
		}
	}

	// Verify defaults are still applied for unset values
	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want local (default)", cfg.Storage.Backend)
	}
	if cfg.TxLog.PollInterval != 5*time.Second {
		t.Errorf("TxLog.PollInterval = %v, want 5s (default)", cfg.TxLog.PollInterval)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9155" {
		t.Errorf("Metrics.Listen = %q, want 127.0.0.1:9155 (default)", cfg.Metrics.Listen)
	}
}

// TestLoadConfigFile tests loading configuration from a YAML file
func TestLoadConfigFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
data_dir: /srv/vault

sources:
  - id: docs
    type: filesystem
    root: /srv/documents
    excludes:
      - "*.tmp"
  - id: ledger
    type: database
    database:
      driver: sqlite
      dsn: "file:/srv/ledger.db"
    tables:
      - accounts
      - entries

backup:
  policy:
    full_after_days: 14

txlog:
  source_id: ledger
  watch_dir: /srv/archive
  stream:
    enabled: true
    command:
      - pg_receivewal
      - -D
      - /srv/archive

logging:
  level: warn
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify values from config file
	if cfg.DataDir != "/srv/vault" {
		t.Errorf("DataDir = %q, want /srv/vault", cfg.DataDir)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("len(Sources) = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].ID != "docs" || cfg.Sources[0].Root != "/srv/documents" {
		t.Errorf("Sources[0] = %+v, want docs rooted at /srv/documents", cfg.Sources[0])
	}
	if len(cfg.Sources[0].Excludes) != 1 || cfg.Sources[0].Excludes[0] != "*.tmp" {
		t.Errorf("Sources[0].Excludes = %v, want [*.tmp]", cfg.Sources[0].Excludes)
	}
	if cfg.Sources[1].Database.DSN != "file:/srv/ledger.db" {
		t.Errorf("Sources[1].Database.DSN = %q, want file:/srv/ledger.db", cfg.Sources[1].Database.DSN)
	}
	if len(cfg.Sources[1].Tables) != 2 {
		t.Errorf("Sources[1].Tables = %v, want two tables", cfg.Sources[1].Tables)
	}
	if cfg.Backup.Policy.FullAfterDays != 14 {
		t.Errorf("Backup.Policy.FullAfterDays = %d, want 14", cfg.Backup.Policy.FullAfterDays)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}

	// YAML-sourced slices pass through untouched
	if len(cfg.TxLog.Stream.Command) != 3 || cfg.TxLog.Stream.Command[0] != "pg_receivewal" {
		t.Errorf("TxLog.Stream.Command = %v, want [pg_receivewal -D /srv/archive]", cfg.TxLog.Stream.Command)
	}
	if !cfg.ShippingConfigured() {
		t.Error("ShippingConfigured() = false, want true")
	}

	// Deep merge keeps sibling defaults from the same section
	if cfg.Backup.Policy.FullChangeRatio != 0.30 {
		t.Errorf("Backup.Policy.FullChangeRatio = %v, want 0.30 (default)", cfg.Backup.Policy.FullChangeRatio)
	}
	// Derived paths follow the file-provided data dir
	if cfg.Storage.Dir != "/srv/vault/backups" {
		t.Errorf("Storage.Dir = %q, want /srv/vault/backups", cfg.Storage.Dir)
	}
}

// TestLoadEnvOverridesFile tests that env vars override config file
func TestLoadEnvOverridesFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configContent := `
data_dir: /srv/vault

backup:
  policy:
    full_after_days: 14

logging:
  level: warn
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	os.Setenv(ConfigPathEnvVar, configPath)
	os.Setenv("CHRONOVAULT_LOG_LEVEL", "error")
	os.Setenv("CHRONOVAULT_STORAGE_DIR", "/mnt/backups")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Values from config file (not overridden by env)
	if cfg.DataDir != "/srv/vault" {
		t.Errorf("DataDir = %q, want /srv/vault (from file)", cfg.DataDir)
	}
	if cfg.Backup.Policy.FullAfterDays != 14 {
		t.Errorf("Backup.Policy.FullAfterDays = %d, want 14 (from file)", cfg.Backup.Policy.FullAfterDays)
	}

	// Env vars override config file
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level = %q, want error (env override)", cfg.Logging.Level)
	}

	// An explicit storage dir wins over derivation from data_dir
	if cfg.Storage.Dir != "/mnt/backups" {
		t.Errorf("Storage.Dir = %q, want /mnt/backups (env override)", cfg.Storage.Dir)
	}
}

// TestLoadSliceFields tests comma-separated env values for slice fields
func TestLoadSliceFields(t *testing.T) {
	os.Clearenv()

	os.Setenv("CHRONOVAULT_REPLAYER", "command")
	os.Setenv("CHRONOVAULT_REPLAY_COMMAND", "/usr/local/bin/pg-replay,--segment,{segment}")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := []string{"/usr/local/bin/pg-replay", "--segment", "{segment}"}
	if len(cfg.Recovery.ReplayCommand) != len(want) {
		t.Fatalf("Recovery.ReplayCommand = %v, want %v", cfg.Recovery.ReplayCommand, want)
	}
	for i := range want {
		if cfg.Recovery.ReplayCommand[i] != want[i] {
			t.Errorf("Recovery.ReplayCommand[%d] = %q, want %q", i, cfg.Recovery.ReplayCommand[i], want[i])
		}
	}
	if cfg.Recovery.Replayer != "command" {
		t.Errorf("Recovery.Replayer = %q, want command", cfg.Recovery.Replayer)
	}
}

// TestLoadFileMissing tests that a named but unreadable file fails loudly
func TestLoadFileMissing(t *testing.T) {
	os.Clearenv()

	_, err := LoadFile("/non/existent/config.yaml")
	if err == nil {
		t.Fatal("LoadFile() should fail for a missing file")
	}
	if !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

// TestLoadValidation tests that validation rejects inconsistent input
func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		envVars map[string]string
		wantErr string
	}{
		{
			name: "duplicate source ids",
			yaml: `
sources:
  - id: docs
    type: filesystem
    root: /srv/a
  - id: docs
    type: filesystem
    root: /srv/b
`,
			wantErr: "duplicate source id",
		},
		{
			name: "filesystem source without root",
			yaml: `
sources:
  - id: docs
    type: filesystem
`,
			wantErr: "requires a root directory",
		},
		{
			name: "database source without dsn",
			yaml: `
sources:
  - id: ledger
    type: database
`,
			wantErr: "requires a DSN",
		},
		{
			name: "database source with unknown driver",
			yaml: `
sources:
  - id: ledger
    type: database
    database:
      driver: postgres
      dsn: "postgres://localhost/x"
`,
			wantErr: "Driver must be one of",
		},
		{
			name: "unknown source type",
			yaml: `
sources:
  - id: docs
    type: tape
`,
			wantErr: "Type must be one of",
		},
		{
			name:    "s3 backend without endpoint",
			envVars: map[string]string{"CHRONOVAULT_STORAGE_BACKEND": "s3"},
			wantErr: "requires an endpoint and a bucket",
		},
		{
			name:    "watch dir without source id",
			envVars: map[string]string{"CHRONOVAULT_WATCH_DIR": "/srv/archive"},
			wantErr: "must be set together",
		},
		{
			name:    "streaming without shipping",
			envVars: map[string]string{"CHRONOVAULT_STREAM_ENABLED": "true"},
			wantErr: "streaming requires",
		},
		{
			name:    "unknown log level",
			envVars: map[string]string{"CHRONOVAULT_LOG_LEVEL": "loud"},
			wantErr: "unknown level",
		},
		{
			name: "valid configuration",
			yaml: `
sources:
  - id: docs
    type: filesystem
    root: /srv/documents
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			configPath := ""
			if tt.yaml != "" {
				configPath = filepath.Join(t.TempDir(), "config.yaml")
				if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
					t.Fatalf("Failed to create config file: %v", err)
				}
			}

			_, err := LoadFile(configPath)

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("LoadFile() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("LoadFile() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFile() error = %v, want message containing %q", err, tt.wantErr)
			}
			if !fault.IsKind(err, fault.InvalidArgument) {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
		})
	}
}
