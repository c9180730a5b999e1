// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package compression

import (
	"bytes"
	"testing"

	"github.com/tomtom215/chronovault/internal/fault"
)

func TestRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("transaction log segment payload "), 4096)

	for _, algorithm := range []string{AlgorithmGzip, AlgorithmZstd, AlgorithmNone, ""} {
		t.Run(algorithm, func(t *testing.T) {
			compressed, err := EncodeAll(payload, algorithm, 3)
			if err != nil {
				t.Fatalf("EncodeAll failed: %v", err)
			}
			restored, err := DecodeAll(compressed, algorithm)
			if err != nil {
				t.Fatalf("DecodeAll failed: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Error("expected round trip to restore the original payload")
			}
		})
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaa"), 8192)

	for _, algorithm := range []string{AlgorithmGzip, AlgorithmZstd} {
		compressed, err := EncodeAll(payload, algorithm, 3)
		if err != nil {
			t.Fatalf("EncodeAll(%s) failed: %v", algorithm, err)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("expected %s to shrink repetitive data, got %d >= %d", algorithm, len(compressed), len(payload))
		}
	}
}

func TestValidate(t *testing.T) {
	for _, algorithm := range []string{"", AlgorithmGzip, AlgorithmZstd, AlgorithmNone} {
		if err := Validate(algorithm); err != nil {
			t.Errorf("expected %q to validate, got %v", algorithm, err)
		}
	}
	if err := Validate("lz4"); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for unknown algorithm, got %v", err)
	}
}

func TestExt(t *testing.T) {
	tests := []struct {
		algorithm string
		want      string
	}{
		{AlgorithmGzip, ".gz"},
		{AlgorithmZstd, ".zst"},
		{AlgorithmNone, ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Ext(tt.algorithm); got != tt.want {
			t.Errorf("Ext(%q) = %q, want %q", tt.algorithm, got, tt.want)
		}
	}
}
