// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/chronovault/internal/fault"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"chronovault.yaml",
	"chronovault.yml",
	"/etc/chronovault/config.yaml",
	"/etc/chronovault/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CHRONOVAULT_CONFIG"

// envPrefix namespaces every recognised environment variable.
const envPrefix = "CHRONOVAULT_"

// Load builds the configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config File: optional YAML config file (if one exists)
//  3. Environment Variables: CHRONOVAULT_* overrides for any setting
//
// Precedence is ENV > File > Defaults. The result is validated before
// it is returned.
func Load() (*Config, error) {
	return LoadFile(FindConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path
// skips the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from the struct.
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fault.Wrap(fault.Internal, "config.Load", err)
	}

	// Layer 2: optional config file.
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fault.Errorf(fault.InvalidArgument, "config.Load", "failed to load config file %s: %v", configPath, err)
		}
	}

	// Layer 3: environment variables, highest priority.
	// CHRONOVAULT_LOG_LEVEL -> logging.level
	// CHRONOVAULT_WATCH_DIR -> txlog.watch_dir
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fault.Wrap(fault.Internal, "config.Load", err)
	}

	// Comma-separated env values for known slice fields.
	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fault.Wrap(fault.InvalidArgument, "config.Load", err)
	}

	cfg.applyDerivedPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string when none exists.
func FindConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when they arrive through the environment.
var sliceConfigPaths = []string{
	"txlog.stream.command",
	"recovery.replay_command",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as strings while the config
// expects slices; YAML-sourced values are already slices and are left
// alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fault.Wrap(fault.Internal, "config.Load", err)
			}
		}
	}
	return nil
}

// envTransformFunc maps CHRONOVAULT_* environment variable names to
// koanf config paths. Unmapped keys return empty string and are
// skipped, so random environment variables never pollute the config.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if !strings.HasPrefix(key, strings.ToLower(envPrefix)) {
		return ""
	}
	key = strings.TrimPrefix(key, strings.ToLower(envPrefix))

	envMappings := map[string]string{
		"data_dir": "data_dir",

		// Checksum mappings
		"checksum_cache_dir":           "checksum.cache_dir",
		"checksum_composite_threshold": "checksum.composite_threshold",

		// Backup mappings
		"snapshot_dir":              "backup.snapshot_dir",
		"backup_encrypt":            "backup.encrypt",
		"backup_compression":        "backup.compression.algorithm",
		"backup_compression_level":  "backup.compression.level",
		"backup_upload_rate":        "backup.upload_rate_bytes",
		"full_after_days":           "backup.policy.full_after_days",
		"full_change_ratio":         "backup.policy.full_change_ratio",
		"differential_change_ratio": "backup.policy.differential_change_ratio",

		// Transaction log mappings
		"source_id":               "txlog.source_id",
		"watch_dir":               "txlog.watch_dir",
		"log_type":                "txlog.log_type",
		"poll_interval":           "txlog.poll_interval",
		"granularity":             "txlog.granularity",
		"log_retention":           "txlog.retention",
		"bookkeeping_ttl":         "txlog.bookkeeping_ttl",
		"sweep_interval":          "txlog.sweep_interval",
		"txlog_compression":       "txlog.compression.algorithm",
		"txlog_compression_level": "txlog.compression.level",
		"txlog_encrypt":           "txlog.encrypt",
		"txlog_upload_rate":       "txlog.upload_rate_bytes",
		"stream_enabled":          "txlog.stream.enabled",
		"stream_command":          "txlog.stream.command",

		// Recovery mappings
		"workspace_dir":  "recovery.workspace_dir",
		"replayer":       "recovery.replayer",
		"replay_command": "recovery.replay_command",

		// Storage mappings
		"storage_backend": "storage.backend",
		"storage_dir":     "storage.dir",
		"s3_endpoint":     "storage.s3.endpoint",
		"s3_access_key":   "storage.s3.access_key",
		"s3_secret_key":   "storage.s3.secret_key",
		"s3_bucket":       "storage.s3.bucket",
		"s3_secure":       "storage.s3.secure",

		// Encryption mappings
		"key_dir":              "encryption.key_dir",
		"encryption_algorithm": "encryption.algorithm",
		"master_secret_name":   "encryption.master_secret_name",

		// Audit mappings
		"audit_enabled":          "audit.enabled",
		"audit_dir":              "audit.dir",
		"audit_retention_days":   "audit.retention_days",
		"audit_cleanup_interval": "audit.cleanup_interval",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Metrics mappings
		"metrics_enabled": "metrics.enabled",
		"metrics_listen":  "metrics.listen",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// WatchConfigFile sets up a file watcher for hot-reload capability.
// The callback runs on every change; the caller is responsible for
// mutex protection when swapping configuration during reloads.
func WatchConfigFile(path string, callback func()) error {
	provider := file.Provider(path)
	return provider.Watch(func(event interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
