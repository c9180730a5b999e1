// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package config

import (
	"strings"
	"testing"

	"github.com/tomtom215/chronovault/internal/fault"
)

// baseConfig returns a fully derived default configuration for
// mutation in validation tests.
func baseConfig() *Config {
	cfg := defaultConfig()
	cfg.applyDerivedPaths()
	return cfg
}

func TestApplyDerivedPaths(t *testing.T) {
	t.Run("data dir re-roots defaults", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DataDir = "/srv/vault"
		cfg.applyDerivedPaths()

		checks := []struct {
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
		for _, c := range checks {
			if c.got != c.want {
				t.Errorf("derived path = %q, want %q", c.got, c.want)
			}
		}
	})

	t.Run("explicit paths win over derivation", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DataDir = "/srv/vault"
		cfg.Backup.SnapshotDir = "/fast/snapshots"
		cfg.Storage.Dir = "/mnt/backups"
		cfg.applyDerivedPaths()

		if cfg.Backup.SnapshotDir != "/fast/snapshots" {
			t.Errorf("Backup.SnapshotDir = %q, want /fast/snapshots", cfg.Backup.SnapshotDir)
		}
		if cfg.Storage.Dir != "/mnt/backups" {
			t.Errorf("Storage.Dir = %q, want /mnt/backups", cfg.Storage.Dir)
		}
		// Untouched sections still derive
		if cfg.Checksum.CacheDir != "/srv/vault/checksums" {
			t.Errorf("Checksum.CacheDir = %q, want /srv/vault/checksums", cfg.Checksum.CacheDir)
		}
	})

	t.Run("s3 backend keeps its dir empty", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DataDir = "/srv/vault"
		cfg.Storage.Backend = "s3"
		cfg.Storage.Dir = ""
		cfg.applyDerivedPaths()

		if cfg.Storage.Dir != "" {
			t.Errorf("Storage.Dir = %q, want empty for s3 backend", cfg.Storage.Dir)
		}
	})

	t.Run("empty data dir derives nothing", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.DataDir = ""
		cfg.applyDerivedPaths()

		if cfg.Checksum.CacheDir != "" {
			t.Errorf("Checksum.CacheDir = %q, want empty", cfg.Checksum.CacheDir)
		}
		if cfg.Audit.Dir != "" {
			t.Errorf("Audit.Dir = %q, want empty", cfg.Audit.Dir)
		}
	})
}

func TestShippingConfigured(t *testing.T) {
	cfg := baseConfig()
	if cfg.ShippingConfigured() {
		t.Error("ShippingConfigured() = true for unconfigured txlog section")
	}

	cfg.TxLog.WatchDir = "/srv/archive"
	if cfg.ShippingConfigured() {
		t.Error("ShippingConfigured() = true with only a watch dir")
	}

	cfg.TxLog.SourceID = "ledger"
	if !cfg.ShippingConfigured() {
		t.Error("ShippingConfigured() = false with watch dir and source id set")
	}
}

func TestSourceLookup(t *testing.T) {
	cfg := baseConfig()
	cfg.Sources = []SourceConfig{
		{ID: "docs", Type: "filesystem", Root: "/srv/documents"},
		{ID: "media", Type: "filesystem", Root: "/srv/media"},
	}

	src, ok := cfg.Source("media")
	if !ok {
		t.Fatal("Source(media) not found")
	}
	if src.Root != "/srv/media" {
		t.Errorf("Source(media).Root = %q, want /srv/media", src.Root)
	}

	if _, ok := cfg.Source("ghost"); ok {
		t.Error("Source(ghost) should not be found")
	}
}

func TestValidateCrossFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			mutate: func(*Config) {},
		},
		{
			name: "metrics enabled without listen address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Listen = ""
			},
			wantErr: "listen address is required",
		},
		{
			name: "backup encryption without key dir",
			mutate: func(c *Config) {
				c.Backup.Encrypt = true
				c.Encryption.KeyDir = ""
			},
			wantErr: "key directory is required",
		},
		{
			name: "segment encryption without key dir",
			mutate: func(c *Config) {
				c.TxLog.Encrypt = true
				c.Encryption.KeyDir = ""
			},
			wantErr: "key directory is required",
		},
		{
			name: "audit enabled without dir",
			mutate: func(c *Config) {
				c.Audit.Dir = ""
			},
			wantErr: "audit: a directory is required",
		},
		{
			name: "negative audit retention",
			mutate: func(c *Config) {
				c.Audit.RetentionDays = -1
			},
			wantErr: "retention_days must not be negative",
		},
		{
			name: "local storage without dir",
			mutate: func(c *Config) {
				c.Storage.Dir = ""
			},
			wantErr: "local backend requires a directory",
		},
		{
			name: "unknown log format",
			mutate: func(c *Config) {
				c.Logging.Format = "xml"
			},
			wantErr: "unknown format",
		},
		{
			name: "negative composite threshold",
			mutate: func(c *Config) {
				c.Checksum.CompositeThreshold = -1
			},
			wantErr: "CompositeThreshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want message containing %q", err, tt.wantErr)
			}
			if !fault.IsKind(err, fault.InvalidArgument) {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
		})
	}
}
