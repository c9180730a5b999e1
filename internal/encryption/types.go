// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package encryption protects backup files at rest with authenticated
// encryption and versioned keys. Key material is itself stored
// encrypted under a master key held by the secrets provider, and every
// encrypted file carries a sidecar metadata record that pins the key
// id, nonce, and KDF parameters needed to decrypt it. Losing the
// sidecar makes the file unrecoverable even with the right key.
package encryption

import (
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
)

// Supported AEAD algorithms. Both use 256-bit keys and 96-bit nonces.
const (
	AlgorithmAESGCM   = "aes-256-gcm"
	AlgorithmChaCha20 = "chacha20-poly1305"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	saltSize  = 16
)

// ValidateAlgorithm rejects algorithm names the service cannot build a
// cipher for.
func ValidateAlgorithm(algorithm string) error {
	switch algorithm {
	case AlgorithmAESGCM, AlgorithmChaCha20:
		return nil
	default:
		return fault.Errorf(fault.InvalidArgument, "encryption.ValidateAlgorithm", "unsupported algorithm %q", algorithm)
	}
}

// EncryptionKey is one version of one named key. Rotation deactivates
// a key in place and introduces a successor; key records are never
// deleted, so previously encrypted files stay decryptable.
type EncryptionKey struct {
	KeyID     string            `json:"key_id"`
	Algorithm string            `json:"algorithm"`
	Version   int               `json:"version"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Active    bool              `json:"is_active"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	// KeyData is the raw key material. It is excluded from JSON so a
	// serialized key record never leaks it; persistence wraps it
	// separately under the master key.
	KeyData []byte `json:"-"`
}

// Expired reports whether the key's optional expiry has passed.
func (k *EncryptionKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// KDFParams records how the per-file key was derived from the key
// material, so decryption can repeat the derivation exactly.
type KDFParams struct {
	Function string `json:"function"`
	Salt     []byte `json:"salt"`
	Info     string `json:"info"`
}

// EncryptionMetadata is the sidecar record written next to every
// encrypted file. Immutable once written.
type EncryptionMetadata struct {
	Algorithm         string    `json:"algorithm"`
	KeyID             string    `json:"key_id"`
	KeyVersion        int       `json:"key_version"`
	Nonce             []byte    `json:"nonce"`
	AuthTag           []byte    `json:"auth_tag"`
	KDF               KDFParams `json:"kdf"`
	OriginalSize      int64     `json:"original_size"`
	EncryptedSize     int64     `json:"encrypted_size"`
	OriginalChecksum  string    `json:"original_checksum"`
	EncryptedChecksum string    `json:"encrypted_checksum"`
	Compression       string    `json:"compression,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// MetadataPath returns the conventional sidecar path for an encrypted
// file.
func MetadataPath(encryptedPath string) string {
	return encryptedPath + ".meta"
}
