// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package storage abstracts where backup artifacts land. Base backups,
// shipped log segments, and key files all go through the same Backend
// interface, backed by either a local directory or an S3-compatible
// object store.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
)

// Backend kinds accepted by New.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// ObjectInfo describes one stored artifact.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Backend stores backup artifacts durably. Keys are slash-separated
// paths ("base/20260301T120000Z.tar.gz", "wal/000000010000000000000042.zst").
type Backend interface {
	// Put stores the content of r under key. Implementations must be
	// atomic: a failed Put never leaves a partial object readable
	// under key. Size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens the object at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns metadata for key, or a NotFound error.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object under prefix in lexical key order.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Config selects and configures a backend.
type Config struct {
	Backend string   `koanf:"backend" validate:"omitempty,oneof=local s3"`
	Dir     string   `koanf:"dir"`
	S3      S3Config `koanf:"s3"`
}

// DefaultConfig stores under /data/chronovault/backups on local disk.
func DefaultConfig() Config {
	return Config{
		Backend: BackendLocal,
		Dir:     "/data/chronovault/backups",
	}
}

// New builds the configured backend.
func New(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocal(cfg.Dir)
	case BackendS3:
		return NewS3(cfg.S3)
	default:
		return nil, fault.Errorf(fault.InvalidArgument, "storage.New", "unsupported backend %q", cfg.Backend)
	}
}
