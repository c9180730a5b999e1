// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package config

import (
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/storage"
	"github.com/tomtom215/chronovault/internal/validation"
)

// Validate checks that required configuration is present and
// consistent. Sections delegate to their own Validate where one
// exists; cross-field rules live here.
func (c *Config) Validate() error {
	if err := c.validateSources(); err != nil {
		return err
	}
	if err := validateSection("checksum", c.Checksum); err != nil {
		return err
	}
	if err := c.Backup.Validate(); err != nil {
		return err
	}
	if err := c.validateTxLog(); err != nil {
		return err
	}
	if err := c.Recovery.Validate(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateEncryption(); err != nil {
		return err
	}
	if err := c.validateAudit(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateSection runs struct-tag validation on one config section.
func validateSection(name string, section interface{}) error {
	if verr := validation.ValidateStruct(section); verr != nil {
		return fault.Errorf(fault.InvalidArgument, "config.Validate", "%s: %v", name, verr)
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if verr := validation.ValidateStruct(&src); verr != nil {
			return fault.Errorf(fault.InvalidArgument, "config.Validate", "sources[%d]: %v", i, verr)
		}
		if _, dup := seen[src.ID]; dup {
			return fault.Errorf(fault.InvalidArgument, "config.Validate", "duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}

		switch src.Type {
		case "filesystem":
			if src.Root == "" {
				return fault.Errorf(fault.InvalidArgument, "config.Validate",
					"source %q: a filesystem source requires a root directory", src.ID)
			}
		case "database":
			if src.Database.DSN == "" {
				return fault.Errorf(fault.InvalidArgument, "config.Validate",
					"source %q: a database source requires a DSN", src.ID)
			}
			if verr := validation.ValidateStruct(&src.Database); verr != nil {
				return fault.Errorf(fault.InvalidArgument, "config.Validate", "source %q: %v", src.ID, verr)
			}
		}
	}
	return nil
}

// validateTxLog checks the transaction log section only when shipping
// is configured; an unused section stays quiet.
func (c *Config) validateTxLog() error {
	if c.TxLog.WatchDir == "" && c.TxLog.SourceID == "" {
		if c.TxLog.Stream.Enabled {
			return fault.New(fault.InvalidArgument, "config.Validate",
				"txlog: streaming requires a configured watch_dir and source_id")
		}
		return nil
	}
	if c.TxLog.WatchDir == "" || c.TxLog.SourceID == "" {
		return fault.New(fault.InvalidArgument, "config.Validate",
			"txlog: watch_dir and source_id must be set together")
	}
	return c.TxLog.Validate()
}

func (c *Config) validateStorage() error {
	if err := validateSection("storage", c.Storage); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "", storage.BackendLocal:
		if c.Storage.Dir == "" {
			return fault.New(fault.InvalidArgument, "config.Validate",
				"storage: the local backend requires a directory (set storage.dir or data_dir)")
		}
	case storage.BackendS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fault.New(fault.InvalidArgument, "config.Validate",
				"storage: the s3 backend requires an endpoint and a bucket")
		}
	}
	return nil
}

// validateEncryption requires a key directory once anything asks for
// encryption at rest.
func (c *Config) validateEncryption() error {
	if !c.Backup.Encrypt && !c.TxLog.Encrypt {
		return nil
	}
	if c.Encryption.KeyDir == "" {
		return fault.New(fault.InvalidArgument, "config.Validate",
			"encryption: a key directory is required when backup or log encryption is enabled")
	}
	return nil
}

func (c *Config) validateAudit() error {
	if !c.Audit.Enabled {
		return nil
	}
	if c.Audit.Dir == "" {
		return fault.New(fault.InvalidArgument, "config.Validate",
			"audit: a directory is required when the audit log is enabled (set audit.dir or data_dir)")
	}
	if c.Audit.RetentionDays < 0 {
		return fault.New(fault.InvalidArgument, "config.Validate", "audit: retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fault.New(fault.InvalidArgument, "config.Validate",
			"metrics: a listen address is required when the endpoint is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fault.Errorf(fault.InvalidArgument, "config.Validate", "logging: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fault.Errorf(fault.InvalidArgument, "config.Validate", "logging: unknown format %q", c.Logging.Format)
	}
	return nil
}
