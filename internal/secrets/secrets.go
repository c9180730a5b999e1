// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package secrets defines the secrets provider consumed by the encryption
// service for the master key and wrapped key material.
//
// Absence of a secret is not an error: GetSecret returns found=false and
// the caller decides whether to generate a default or fail.
package secrets

import (
	"context"
	"sync"
)

// Provider stores and retrieves named secrets.
type Provider interface {
	// GetSecret returns the secret value and whether it exists.
	GetSecret(ctx context.Context, name string) (value string, found bool, err error)

	// SetSecret stores or replaces a secret.
	SetSecret(ctx context.Context, name, value string) error
}

// Memory is an in-process Provider for tests and ephemeral runs.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory provider.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// GetSecret implements Provider.
func (m *Memory) GetSecret(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	return v, ok, nil
}

// SetSecret implements Provider.
func (m *Memory) SetSecret(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}
