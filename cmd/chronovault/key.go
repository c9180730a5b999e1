// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/chronovault/internal/encryption"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage encryption keys",
	Long: `Key management for backup encryption. Key material lives encrypted
under a master key in the configured key directory; rotation
deactivates a key in place and introduces a successor, so files
encrypted under old versions stay decryptable forever.`,
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new encryption key",
	Example: `  chronovault key generate
  chronovault key generate --id reporting --algorithm chacha20-poly1305
  chronovault key generate --expires-in 2160h`,
	Args: cobra.NoArgs,
	RunE: runKeyGenerate,
}

var keyRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate active keys past an age threshold",
	Long: `Rotate replaces every active key older than --max-age with a fresh
version. The old versions stay on record for decryption; new
encryption picks up the successors immediately.`,
	Example: `  chronovault key rotate --max-age 720h
  chronovault key rotate --max-age 0s    # rotate every active key now`,
	Args: cobra.NoArgs,
	RunE: runKeyRotate,
}

var keyListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all key versions",
	Example: `  chronovault key list`,
	Args:    cobra.NoArgs,
	RunE:    runKeyList,
}

var (
	keyID        string
	keyAlgorithm string
	keyExpiresIn time.Duration
	keyMaxAge    time.Duration
)

func init() {
	keyGenerateCmd.Flags().StringVar(&keyID, "id", "", "key identifier (default: a new UUID)")
	keyGenerateCmd.Flags().StringVar(&keyAlgorithm, "algorithm", "",
		"aes-256-gcm or chacha20-poly1305 (default: the configured algorithm)")
	keyGenerateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0,
		"expire the key after this duration (0 = never)")
	keyRotateCmd.Flags().DurationVar(&keyMaxAge, "max-age", 0,
		"rotate active keys created more than this long ago")
	_ = keyRotateCmd.MarkFlagRequired("max-age")

	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyRotateCmd)
	keyCmd.AddCommand(keyListCmd)
	rootCmd.AddCommand(keyCmd)
}

func runKeyGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bus, closeBus, err := newAuditPublisher(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	svc, err := newEncryptionService(ctx, bus)
	if err != nil {
		return err
	}

	key, err := svc.GenerateEncryptionKey(ctx, keyID, keyAlgorithm, keyExpiresIn)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Key generated\n\n")
	fmt.Printf("  Key ID:    %s\n", key.KeyID)
	fmt.Printf("  Algorithm: %s\n", key.Algorithm)
	fmt.Printf("  Version:   %d\n", key.Version)
	if key.ExpiresAt != nil {
		fmt.Printf("  Expires:   %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func runKeyRotate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	bus, closeBus, err := newAuditPublisher(ctx)
	if err != nil {
		return err
	}
	defer closeBus()

	svc, err := newEncryptionService(ctx, bus)
	if err != nil {
		return err
	}

	rotated, err := svc.RotateKeys(ctx, keyMaxAge)
	if err != nil {
		return err
	}

	if rotated == 0 {
		fmt.Printf("✓ No active keys older than %s; nothing rotated\n", keyMaxAge)
		return nil
	}
	fmt.Printf("✓ Rotated %d key(s); previous versions remain available for decryption\n", rotated)
	return nil
}

func runKeyList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	svc, err := newEncryptionService(ctx, nil)
	if err != nil {
		return err
	}

	keys := svc.Keys()
	if len(keys) == 0 {
		fmt.Println("No keys; run \"chronovault key generate\" to create one")
		return nil
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].KeyID != keys[j].KeyID {
			return keys[i].KeyID < keys[j].KeyID
		}
		return keys[i].Version < keys[j].Version
	})

	fmt.Printf("%-38s %-7s %-20s %-8s %-22s %s\n",
		"KEY ID", "VERSION", "ALGORITHM", "ACTIVE", "CREATED", "EXPIRES")
	for _, key := range keys {
		expires := "-"
		if key.ExpiresAt != nil {
			expires = key.ExpiresAt.Format(time.RFC3339)
			if key.Expired(time.Now()) {
				expires += " (expired)"
			}
		}
		fmt.Printf("%-38s %-7d %-20s %-8s %-22s %s\n",
			key.KeyID, key.Version, key.Algorithm, activeMark(key), key.CreatedAt.Format(time.RFC3339), expires)
	}
	return nil
}

func activeMark(key *encryption.EncryptionKey) string {
	if key.Active {
		return "yes"
	}
	return "no"
}
