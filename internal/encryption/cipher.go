// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/tomtom215/chronovault/internal/fault"
)

// fileKeyInfo binds derived per-file keys to this use so key material
// shared with another context can never produce the same subkey.
const fileKeyInfo = "chronovault-file-encryption-v1"

// newAEAD builds the cipher for a 256-bit key.
func newAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, fault.Errorf(fault.InvalidArgument, "encryption.newAEAD", "key must be %d bytes, got %d", keySize, len(key))
	}
	switch algorithm {
	case AlgorithmAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create AES cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return aead, nil

	case AlgorithmChaCha20:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create ChaCha20-Poly1305: %w", err)
		}
		return aead, nil

	default:
		return nil, fault.Errorf(fault.InvalidArgument, "encryption.newAEAD", "unsupported algorithm %q", algorithm)
	}
}

// deriveFileKey derives a per-file key with HKDF-SHA256.
func deriveFileKey(material, salt []byte, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, material, salt, []byte(info))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive file key: %w", err)
	}
	return key, nil
}

// randomBytes fills a fresh buffer from the system CSPRNG.
func randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}
	return buf, nil
}
