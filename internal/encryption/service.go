// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package encryption

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/compression"
	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
	"github.com/tomtom215/chronovault/internal/secrets"
)

// Config holds encryption service settings.
type Config struct {
	// KeyDir is where wrapped key files live.
	KeyDir string `koanf:"key_dir" validate:"required"`

	// Algorithm is the default AEAD for new keys.
	Algorithm string `koanf:"algorithm" validate:"omitempty,oneof=aes-256-gcm chacha20-poly1305"`

	// MasterSecretName is the secrets-provider entry holding the
	// base64 master key. Generated there on first use if absent.
	MasterSecretName string `koanf:"master_secret_name"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		KeyDir:           "/data/chronovault/keys",
		Algorithm:        AlgorithmAESGCM,
		MasterSecretName: "chronovault-master-key",
	}
}

// Service encrypts and decrypts backup files with versioned keys. The
// in-memory key map is the only shared state; it is never held locked
// across file I/O.
type Service struct {
	cfg   Config
	store *keyStore
	sink  metrics.Sink
	bus   events.Publisher

	mu   sync.RWMutex
	keys map[string][]*EncryptionKey

	rotateMu sync.Mutex
}

// NewService loads or creates the master key, then loads every key
// file in the key directory.
func NewService(ctx context.Context, cfg Config, provider secrets.Provider, sink metrics.Sink, bus events.Publisher) (*Service, error) {
	if provider == nil {
		return nil, fault.New(fault.InvalidArgument, "encryption.NewService", "secrets provider is required")
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmAESGCM
	}
	if err := ValidateAlgorithm(cfg.Algorithm); err != nil {
		return nil, err
	}
	if cfg.MasterSecretName == "" {
		cfg.MasterSecretName = DefaultConfig().MasterSecretName
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	if bus == nil {
		bus = events.Discard{}
	}

	master, err := loadOrCreateMasterKey(ctx, provider, cfg.MasterSecretName)
	if err != nil {
		return nil, err
	}
	masterAEAD, err := newAEAD(AlgorithmAESGCM, master)
	if err != nil {
		return nil, err
	}

	store, err := newKeyStore(cfg.KeyDir, masterAEAD, provider)
	if err != nil {
		return nil, err
	}
	keys, err := store.loadAll()
	if err != nil {
		return nil, err
	}

	logging.Info().Int("key_ids", len(keys)).Str("dir", cfg.KeyDir).Msg("Encryption service ready")
	return &Service{
		cfg:   cfg,
		store: store,
		sink:  sink,
		bus:   bus,
		keys:  keys,
	}, nil
}

// loadOrCreateMasterKey fetches the base64 master key from the secrets
// provider, generating and storing a fresh one when absent.
func loadOrCreateMasterKey(ctx context.Context, provider secrets.Provider, name string) ([]byte, error) {
	value, found, err := provider.GetSecret(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read master key secret: %w", err)
	}
	if found {
		master, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fault.Errorf(fault.InvalidArgument, "encryption.loadOrCreateMasterKey", "master key secret is not base64: %v", err)
		}
		if len(master) != keySize {
			return nil, fault.Errorf(fault.InvalidArgument, "encryption.loadOrCreateMasterKey", "master key must be %d bytes, got %d", keySize, len(master))
		}
		return master, nil
	}

	master, err := randomBytes(keySize)
	if err != nil {
		return nil, err
	}
	if err := provider.SetSecret(ctx, name, base64.StdEncoding.EncodeToString(master)); err != nil {
		return nil, fmt.Errorf("failed to store generated master key: %w", err)
	}
	logging.Info().Str("secret", name).Msg("Generated new master encryption key")
	return master, nil
}

// GenerateEncryptionKey creates random key material for a new key
// version and persists it. An empty keyID gets a fresh UUID. When the
// id already exists, the new version supersedes and deactivates the
// previous one.
func (s *Service) GenerateEncryptionKey(ctx context.Context, keyID, algorithm string, expiresIn time.Duration) (*EncryptionKey, error) {
	if keyID == "" {
		keyID = uuid.New().String()
	}
	if algorithm == "" {
		algorithm = s.cfg.Algorithm
	}
	if err := ValidateAlgorithm(algorithm); err != nil {
		return nil, err
	}

	material, err := randomBytes(keySize)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	key := &EncryptionKey{
		KeyID:     keyID,
		Algorithm: algorithm,
		Version:   1,
		CreatedAt: now,
		Active:    true,
		KeyData:   material,
	}
	if expiresIn > 0 {
		expiry := now.Add(expiresIn)
		key.ExpiresAt = &expiry
	}

	s.mu.Lock()
	versions := s.keys[keyID]
	var predecessor *EncryptionKey
	if len(versions) > 0 {
		last := versions[len(versions)-1]
		key.Version = last.Version + 1
		if last.Active {
			predecessor = last
		}
	}
	s.mu.Unlock()

	if err := s.store.save(ctx, key); err != nil {
		return nil, err
	}
	if predecessor != nil {
		predecessor.Active = false
		if err := s.store.save(ctx, predecessor); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.keys[keyID] = append(s.keys[keyID], key)
	s.mu.Unlock()

	s.sink.RecordCounter("encryption_keys_generated_total", metrics.Tags{"algorithm": algorithm})
	_ = s.bus.Publish(ctx, events.Success(events.TypeKeyGenerated, keyID, map[string]string{
		"version":   fmt.Sprintf("%d", key.Version),
		"algorithm": algorithm,
	}))
	logging.Info().Str("key", keyID).Int("version", key.Version).Str("algorithm", algorithm).Msg("Encryption key generated")
	return key, nil
}

// CurrentKey returns the most recently created active key across all
// ids, the one new encryptions use when no key id is pinned.
func (s *Service) CurrentKey() (*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current *EncryptionKey
	for _, versions := range s.keys {
		for _, key := range versions {
			if !key.Active {
				continue
			}
			if current == nil || key.CreatedAt.After(current.CreatedAt) {
				current = key
			}
		}
	}
	if current == nil {
		return nil, fault.New(fault.NotFound, "encryption.CurrentKey", "no active encryption key; generate one first")
	}
	return current, nil
}

// ActiveKey returns the active version of a key id.
func (s *Service) ActiveKey(keyID string) (*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.keys[keyID] {
		if key.Active {
			return key, nil
		}
	}
	return nil, fault.Errorf(fault.NotFound, "encryption.ActiveKey", "no active key for id %s", keyID)
}

// Keys lists every key version, sorted by id then version.
func (s *Service) Keys() []*EncryptionKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*EncryptionKey, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.keys[id]...)
	}
	return out
}

// lookup finds a specific key version regardless of active state, the
// resolution path decryption uses.
func (s *Service) lookup(keyID string, version int) (*EncryptionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range s.keys[keyID] {
		if key.Version == version {
			return key, nil
		}
	}
	return nil, fault.Errorf(fault.NotFound, "encryption.lookup", "key %s version %d not found", keyID, version)
}

// EncryptFile encrypts inPath to outPath with a fresh nonce and a
// per-file key derived from the named key's material. An empty keyID
// selects the current key; an empty algorithm uses the key's own. The
// sidecar metadata file is written next to the output.
func (s *Service) EncryptFile(ctx context.Context, inPath, outPath, keyID, algorithm string, compress bool) (*EncryptionMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()

	var key *EncryptionKey
	var err error
	if keyID == "" {
		key, err = s.CurrentKey()
	} else {
		key, err = s.ActiveKey(keyID)
	}
	if err != nil {
		return nil, err
	}
	if key.Expired(time.Now().UTC()) {
		return nil, fault.Errorf(fault.InvalidArgument, "encryption.EncryptFile", "key %s version %d is expired", key.KeyID, key.Version)
	}
	if algorithm == "" {
		algorithm = key.Algorithm
	}
	if err := ValidateAlgorithm(algorithm); err != nil {
		return nil, err
	}

	plain, err := os.ReadFile(inPath) //nolint:gosec // G304: input path comes from the backup pipeline
	if err != nil {
		return nil, fault.FromOS("encryption.EncryptFile", err)
	}
	originalSum := sha256.Sum256(plain)
	originalSize := int64(len(plain))

	payload := plain
	compressionAlgo := ""
	if compress {
		compressionAlgo = compression.AlgorithmZstd
		payload, err = compression.EncodeAll(plain, compressionAlgo, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to compress before encryption: %w", err)
		}
	}

	salt, err := randomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	fileKey, err := deriveFileKey(key.KeyData, salt, fileKeyInfo)
	if err != nil {
		return nil, err
	}
	aead, err := newAEAD(algorithm, fileKey)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(nonceSize)
	if err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nonce, nonce, payload, nil)
	if err := writeFileAtomic(outPath, ciphertext); err != nil {
		return nil, err
	}
	encryptedSum := sha256.Sum256(ciphertext)

	meta := &EncryptionMetadata{
		Algorithm:  algorithm,
		KeyID:      key.KeyID,
		KeyVersion: key.Version,
		Nonce:      nonce,
		AuthTag:    ciphertext[len(ciphertext)-tagSize:],
		KDF: KDFParams{
			Function: "hkdf-sha256",
			Salt:     salt,
			Info:     fileKeyInfo,
		},
		OriginalSize:      originalSize,
		EncryptedSize:     int64(len(ciphertext)),
		OriginalChecksum:  hex.EncodeToString(originalSum[:]),
		EncryptedChecksum: hex.EncodeToString(encryptedSum[:]),
		Compression:       compressionAlgo,
		CreatedAt:         time.Now().UTC(),
	}
	if err := WriteMetadata(MetadataPath(outPath), meta); err != nil {
		return nil, err
	}

	s.sink.RecordCounter("encryption_files_encrypted_total", metrics.Tags{"algorithm": algorithm})
	s.sink.RecordHistogram("encryption_encrypt_duration_seconds", time.Since(start).Seconds(), nil)
	return meta, nil
}

// DecryptFile reverses EncryptFile. An empty metadataPath looks for
// the conventional sidecar next to the input. The recovered plaintext
// checksum must match the recorded original checksum; anything else is
// an integrity failure, because a wrong key or corrupted ciphertext
// can otherwise decrypt to garbage silently.
func (s *Service) DecryptFile(ctx context.Context, inPath, outPath, metadataPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	if metadataPath == "" {
		metadataPath = MetadataPath(inPath)
	}
	meta, err := ReadMetadata(metadataPath)
	if err != nil {
		return err
	}

	ciphertext, err := os.ReadFile(inPath) //nolint:gosec // G304: input path comes from the backup pipeline
	if err != nil {
		return fault.FromOS("encryption.DecryptFile", err)
	}
	encryptedSum := sha256.Sum256(ciphertext)
	if hex.EncodeToString(encryptedSum[:]) != meta.EncryptedChecksum {
		return fault.New(fault.IntegrityCheckFailed, "encryption.DecryptFile", "ciphertext checksum does not match metadata")
	}
	if len(ciphertext) < nonceSize+tagSize {
		return fault.New(fault.IntegrityCheckFailed, "encryption.DecryptFile", "ciphertext shorter than nonce and tag")
	}
	if !bytes.Equal(ciphertext[:nonceSize], meta.Nonce) {
		return fault.New(fault.IntegrityCheckFailed, "encryption.DecryptFile", "file nonce does not match metadata")
	}

	key, err := s.lookup(meta.KeyID, meta.KeyVersion)
	if err != nil {
		return err
	}
	fileKey, err := deriveFileKey(key.KeyData, meta.KDF.Salt, meta.KDF.Info)
	if err != nil {
		return err
	}
	aead, err := newAEAD(meta.Algorithm, fileKey)
	if err != nil {
		return err
	}

	payload, err := aead.Open(nil, meta.Nonce, ciphertext[nonceSize:], nil)
	if err != nil {
		return fault.Wrap(fault.IntegrityCheckFailed, "encryption.DecryptFile", err)
	}
	if meta.Compression != "" {
		payload, err = compression.DecodeAll(payload, meta.Compression)
		if err != nil {
			return fault.Wrap(fault.IntegrityCheckFailed, "encryption.DecryptFile", err)
		}
	}

	plainSum := sha256.Sum256(payload)
	if hex.EncodeToString(plainSum[:]) != meta.OriginalChecksum {
		return fault.New(fault.IntegrityCheckFailed, "encryption.DecryptFile", "recovered plaintext checksum does not match original")
	}
	if int64(len(payload)) != meta.OriginalSize {
		return fault.Errorf(fault.IntegrityCheckFailed, "encryption.DecryptFile", "recovered size %d does not match original %d", len(payload), meta.OriginalSize)
	}

	if err := writeFileAtomic(outPath, payload); err != nil {
		return err
	}

	s.sink.RecordCounter("encryption_files_decrypted_total", metrics.Tags{"algorithm": meta.Algorithm})
	s.sink.RecordHistogram("encryption_decrypt_duration_seconds", time.Since(start).Seconds(), nil)
	return nil
}

// RotateKeys generates a successor for every active key older than the
// threshold and deactivates the predecessor in place. Old keys remain
// loaded and decryptable; only one rotation runs at a time.
func (s *Service) RotateKeys(ctx context.Context, ageThreshold time.Duration) (int, error) {
	if !s.rotateMu.TryLock() {
		return 0, fault.New(fault.AlreadyInProgress, "encryption.RotateKeys", "key rotation already running")
	}
	defer s.rotateMu.Unlock()

	cutoff := time.Now().UTC().Add(-ageThreshold)

	s.mu.RLock()
	var due []*EncryptionKey
	for _, versions := range s.keys {
		for _, key := range versions {
			if key.Active && key.CreatedAt.Before(cutoff) {
				due = append(due, key)
			}
		}
	}
	s.mu.RUnlock()

	rotated := 0
	for _, old := range due {
		if err := ctx.Err(); err != nil {
			return rotated, err
		}

		material, err := randomBytes(keySize)
		if err != nil {
			return rotated, err
		}
		successor := &EncryptionKey{
			KeyID:     uuid.New().String(),
			Algorithm: old.Algorithm,
			Version:   old.Version + 1,
			CreatedAt: time.Now().UTC(),
			Active:    true,
			KeyData:   material,
			Metadata:  map[string]string{"rotated_from": old.KeyID},
		}

		// Successor first: a crash between the two writes leaves both
		// keys active under distinct ids, which remains within the
		// one-active-per-id invariant.
		if err := s.store.save(ctx, successor); err != nil {
			return rotated, err
		}
		old.Active = false
		if err := s.store.save(ctx, old); err != nil {
			return rotated, err
		}

		s.mu.Lock()
		s.keys[successor.KeyID] = append(s.keys[successor.KeyID], successor)
		s.mu.Unlock()

		rotated++
		s.sink.RecordCounter("encryption_keys_rotated_total", nil)
		_ = s.bus.Publish(ctx, events.Success(events.TypeKeyRotated, old.KeyID, map[string]string{
			"successor": successor.KeyID,
			"version":   fmt.Sprintf("%d", successor.Version),
		}))
		logging.Info().Str("key", old.KeyID).Str("successor", successor.KeyID).Msg("Encryption key rotated")
	}
	return rotated, nil
}

// ReadMetadata loads a sidecar metadata file. A missing sidecar is
// NotFound; the companion file cannot be decrypted without it.
func ReadMetadata(path string) (*EncryptionMetadata, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: sidecar path derives from the encrypted file path
	if err != nil {
		return nil, fault.FromOS("encryption.ReadMetadata", err)
	}
	var meta EncryptionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode encryption metadata %s: %w", path, err)
	}
	return &meta, nil
}

// WriteMetadata persists a sidecar metadata file next to an encrypted
// file, for callers that carry the metadata out of band.
func WriteMetadata(path string, meta *EncryptionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode encryption metadata: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	return nil
}
