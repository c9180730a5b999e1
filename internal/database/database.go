// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package database opens read-only handles to the source databases the
// trackers inspect. SQLite and DuckDB are supported; both drivers are
// pure-Go or bundled, so the binary needs no external client libraries.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "modernc.org/sqlite"

	"github.com/tomtom215/chronovault/internal/fault"
)

// Supported driver names. These match the database/sql registrations.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

const pingTimeout = 5 * time.Second

// Config selects and tunes a source database connection.
type Config struct {
	Driver       string `koanf:"driver" validate:"omitempty,oneof=sqlite duckdb"`
	DSN          string `koanf:"dsn" validate:"required"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"gte=0"`
}

// Handle is the subset of database/sql the trackers use. *sql.DB
// satisfies it; tests substitute fakes.
type Handle interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PingContext(ctx context.Context) error
}

// Source wraps an open connection to one tracked database.
type Source struct {
	conn   *sql.DB
	driver string
	dsn    string
}

// Open connects to the configured source database and verifies the
// connection with a ping. The driver defaults to sqlite.
func Open(cfg Config) (*Source, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverSQLite, DriverDuckDB:
	default:
		return nil, fault.Errorf(fault.InvalidArgument, "database.Open", "unsupported driver %q", driver)
	}

	if cfg.DSN == "" {
		return nil, fault.New(fault.InvalidArgument, "database.Open", "empty dsn")
	}

	if dir := fileParentDir(cfg.DSN); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
	}
	conn.SetMaxOpenConns(maxOpen)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return &Source{conn: conn, driver: driver, dsn: cfg.DSN}, nil
}

// Conn returns the underlying connection for packages that query the
// source directly, such as the database tracker.
func (s *Source) Conn() *sql.DB {
	return s.conn
}

// Driver reports which driver the source was opened with.
func (s *Source) Driver() string {
	return s.driver
}

// Ping checks that the connection is still alive.
func (s *Source) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.conn.PingContext(ctx)
}

func (s *Source) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// CountRows returns the row count of a validated table.
func CountRows(ctx context.Context, h Handle, table string) (int64, error) {
	if err := ValidateTableName(table); err != nil {
		return 0, err
	}
	var count int64
	// The identifier was validated above; placeholders cannot bind it.
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
	if err := h.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// fileParentDir returns the directory that must exist for a file-backed
// DSN, or "" when the DSN is in-memory or has no parent to create.
func fileParentDir(dsn string) string {
	if strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	path := dsn
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	path = strings.TrimPrefix(path, "file:")
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return ""
	}
	return dir
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this in error paths where Close() errors are not actionable.
func closeQuietly(conn *sql.DB) {
	if conn != nil {
		_ = conn.Close()
	}
}
