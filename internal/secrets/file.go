// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// DefaultFileName is the conventional name of the secrets file inside
// the key directory. The daemon and the key commands both resolve the
// provider path as filepath.Join(keyDir, DefaultFileName).
const DefaultFileName = "secrets.json"

// FileProvider persists secrets as a JSON object in a single file with
// 0600 permissions. Writes go to a temp file and rename so a crash never
// leaves a truncated secrets file.
type FileProvider struct {
	path string

	mu     sync.Mutex
	values map[string]string
	loaded bool
}

// NewFileProvider creates a provider backed by the given file. The parent
// directory is created with 0700 if missing; the file itself is created on
// the first SetSecret.
func NewFileProvider(path string) (*FileProvider, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory %s: %w", dir, err)
	}
	return &FileProvider{path: path, values: make(map[string]string)}, nil
}

// GetSecret implements Provider.
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(); err != nil {
		return "", false, err
	}
	v, ok := p.values[name]
	return v, ok, nil
}

// SetSecret implements Provider.
func (p *FileProvider) SetSecret(_ context.Context, name, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.loadLocked(); err != nil {
		return err
	}
	p.values[name] = value
	return p.saveLocked()
}

// loadLocked reads the secrets file once; a missing file is an empty store.
func (p *FileProvider) loadLocked() error {
	if p.loaded {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read secrets file: %w", err)
	}

	if err := json.Unmarshal(data, &p.values); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}
	p.loaded = true
	return nil
}

// saveLocked writes the store atomically with owner-only permissions.
func (p *FileProvider) saveLocked() error {
	data, err := json.MarshalIndent(p.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("failed to replace secrets file: %w", err)
	}
	return nil
}
