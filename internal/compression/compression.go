// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package compression selects the compression codec used for archived
// segments and base backup archives. Algorithms are addressed by name
// so the choice can live in configuration and in sidecar metadata.
package compression

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/tomtom215/chronovault/internal/fault"
)

const (
	AlgorithmGzip = "gzip"
	AlgorithmZstd = "zstd"
	AlgorithmNone = "none"
)

// Config selects an algorithm and level for archive and segment
// writers. Level follows gzip's 1..9 scale; zstd maps it onto its own
// presets.
type Config struct {
	Algorithm string `koanf:"algorithm" validate:"omitempty,oneof=gzip zstd none"`
	Level     int    `koanf:"level" validate:"gte=0,lte=9"`
}

// Validate checks the configured algorithm name.
func (c Config) Validate() error {
	return Validate(c.Algorithm)
}

// Validate rejects unknown algorithm names. The empty string is
// accepted and treated as none.
func Validate(algorithm string) error {
	switch algorithm {
	case "", AlgorithmGzip, AlgorithmZstd, AlgorithmNone:
		return nil
	default:
		return fault.Errorf(fault.InvalidArgument, "compression.Validate", "unsupported compression algorithm %q", algorithm)
	}
}

// Ext returns the filename suffix conventionally used for the
// algorithm, empty for none.
func Ext(algorithm string) string {
	switch algorithm {
	case AlgorithmGzip:
		return ".gz"
	case AlgorithmZstd:
		return ".zst"
	default:
		return ""
	}
}

// NewWriter wraps w with a compressing writer. The caller must Close
// the returned writer to flush, then close w itself.
func NewWriter(w io.Writer, algorithm string, level int) (io.WriteCloser, error) {
	switch algorithm {
	case AlgorithmGzip:
		if level < gzip.DefaultCompression || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(w, level)

	case AlgorithmZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(encoderLevel(level)))

	case "", AlgorithmNone:
		return &nopWriteCloser{w}, nil

	default:
		return nil, fault.Errorf(fault.InvalidArgument, "compression.NewWriter", "unsupported compression algorithm %q", algorithm)
	}
}

// NewReader wraps r with a decompressing reader for the algorithm the
// data was written with.
func NewReader(r io.Reader, algorithm string) (io.ReadCloser, error) {
	switch algorithm {
	case AlgorithmGzip:
		return gzip.NewReader(r)

	case AlgorithmZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return decoder.IOReadCloser(), nil

	case "", AlgorithmNone:
		return io.NopCloser(r), nil

	default:
		return nil, fault.Errorf(fault.InvalidArgument, "compression.NewReader", "unsupported compression algorithm %q", algorithm)
	}
}

// EncodeAll compresses data in one shot.
func EncodeAll(data []byte, algorithm string, level int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, algorithm, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeAll decompresses data in one shot.
func DecodeAll(data []byte, algorithm string) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data), algorithm)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// encoderLevel maps the gzip-style 1..9 scale onto zstd's named
// levels.
func encoderLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 0:
		return zstd.SpeedDefault
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 7:
		return zstd.SpeedDefault
	default:
		return zstd.SpeedBetterCompression
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error { return nil }
