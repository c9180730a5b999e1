// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package encryption

import (
	"context"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/secrets"
)

// storedKey is the plaintext layout inside an encrypted key file:
// the raw material plus the key record describing it.
type storedKey struct {
	KeyData  []byte         `json:"key_data"`
	Metadata *EncryptionKey `json:"metadata"`
}

// keyStore persists key records to the key directory, each file
// wrapped under the master key, with the secrets provider as a
// redundant backing store.
type keyStore struct {
	dir      string
	master   cipher.AEAD
	provider secrets.Provider
}

func newKeyStore(dir string, master cipher.AEAD, provider secrets.Provider) (*keyStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create key directory %s: %w", dir, err)
	}
	return &keyStore{dir: dir, master: master, provider: provider}, nil
}

func (s *keyStore) fileName(key *EncryptionKey) string {
	return fmt.Sprintf("%s.v%d.key", key.KeyID, key.Version)
}

func (s *keyStore) secretName(key *EncryptionKey) string {
	return fmt.Sprintf("encryption-key/%s/v%d", key.KeyID, key.Version)
}

// save wraps the key under the master key and writes it atomically,
// then mirrors the wrapped blob into the secrets provider. A failed
// mirror is logged, not fatal; the key directory is the primary store.
func (s *keyStore) save(ctx context.Context, key *EncryptionKey) error {
	blob, err := s.encode(key)
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, s.fileName(key))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize key file: %w", err)
	}

	if err := s.provider.SetSecret(ctx, s.secretName(key), base64.StdEncoding.EncodeToString(blob)); err != nil {
		logging.Warn().Err(err).Str("key", key.KeyID).Int("version", key.Version).
			Msg("Failed to mirror key into secrets provider")
	}
	return nil
}

// loadAll reads every key file in the directory. Files that fail to
// decrypt under the master key are skipped with a warning so one
// damaged file cannot block startup.
func (s *keyStore) loadAll() (map[string][]*EncryptionKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory %s: %w", s.dir, err)
	}

	keys := make(map[string][]*EncryptionKey)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(s.dir, entry.Name())) //nolint:gosec // G304: path comes from listing the key directory
		if err != nil {
			logging.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping unreadable key file")
			continue
		}
		key, err := s.decode(blob)
		if err != nil {
			logging.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping undecryptable key file")
			continue
		}
		keys[key.KeyID] = append(keys[key.KeyID], key)
	}

	for _, versions := range keys {
		sort.Slice(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version })
	}
	return keys, nil
}

// encode produces [12-byte nonce][AEAD-encrypted JSON{key_data, metadata}].
func (s *keyStore) encode(key *EncryptionKey) ([]byte, error) {
	record := storedKey{KeyData: key.KeyData, Metadata: key}
	plain, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key %s: %w", key.KeyID, err)
	}

	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	return s.master.Seal(nonce, nonce, plain, nil), nil
}

func (s *keyStore) decode(blob []byte) (*EncryptionKey, error) {
	if len(blob) < nonceSize+tagSize {
		return nil, fmt.Errorf("key file too short: %d bytes", len(blob))
	}
	plain, err := s.master.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key under master key: %w", err)
	}

	var record storedKey
	if err := json.Unmarshal(plain, &record); err != nil {
		return nil, fmt.Errorf("failed to decode key record: %w", err)
	}
	if record.Metadata == nil || len(record.KeyData) != keySize {
		return nil, fmt.Errorf("malformed key record")
	}
	key := record.Metadata
	key.KeyData = record.KeyData
	return key, nil
}
