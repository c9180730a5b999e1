// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// fileDateLayout names one JSONL file per UTC day, which makes retention a
// whole-file delete.
const fileDateLayout = "2006-01-02"

// FileStore is a Store appending JSONL records to per-day files under a
// single directory.
type FileStore struct {
	dir string

	mu      sync.Mutex
	file    *os.File
	fileDay string
}

// NewFileStore creates the audit directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements Store. Records are written as one JSON object per line.
func (s *FileStore) Save(_ context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.currentFileLocked(record.Timestamp)
	if err != nil {
		return err
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// currentFileLocked returns the open handle for the record's day, rolling
// to a new file at day boundaries.
func (s *FileStore) currentFileLocked(ts time.Time) (*os.File, error) {
	day := ts.UTC().Format(fileDateLayout)
	if s.file != nil && s.fileDay == day {
		return s.file, nil
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			return nil, fmt.Errorf("failed to close audit file: %w", err)
		}
		s.file = nil
	}

	path := filepath.Join(s.dir, "audit-"+day+".jsonl")
	//nolint:gosec // G304: path is built from the configured audit directory
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
	}

	s.file = file
	s.fileDay = day
	return file, nil
}

// Delete implements Store. Day files strictly older than the cutoff day are
// removed; the count is the number of records they held.
func (s *FileStore) Delete(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read audit directory: %w", err)
	}

	cutoffDay := olderThan.UTC().Format(fileDateLayout)
	var removed int64

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "audit-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, "audit-"), ".jsonl")
		if day >= cutoffDay {
			continue
		}

		path := filepath.Join(s.dir, name)
		count, err := countLines(path)
		if err != nil {
			return removed, err
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove audit file %s: %w", path, err)
		}
		removed += count
	}

	return removed, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// ReadAll loads every record in the trail ordered by file name then line
// order. Used by tests and by trail inspection.
func (s *FileStore) ReadAll(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "audit-") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var records []Record
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		//nolint:gosec // G304: path is inside the configured audit directory
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}

		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var record Record
			if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
				_ = file.Close()
				return nil, fmt.Errorf("failed to parse audit record in %s: %w", name, err)
			}
			records = append(records, record)
		}
		if err := scanner.Err(); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to scan audit file %s: %w", name, err)
		}
		if err := file.Close(); err != nil {
			return nil, fmt.Errorf("failed to close audit file %s: %w", name, err)
		}
	}

	return records, nil
}

// countLines counts newline-terminated records in a file.
func countLines(path string) (int64, error) {
	//nolint:gosec // G304: path is inside the configured audit directory
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var count int64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}
