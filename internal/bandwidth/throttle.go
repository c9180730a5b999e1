// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package bandwidth throttles sustained byte throughput for archive
// uploads and log shipping so backup traffic does not starve the
// workload it protects.
package bandwidth

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// minBurst keeps the burst above the 32 KiB buffers io.Copy uses so a
// single copy chunk never exceeds the limiter's capacity.
const minBurst = 64 * 1024

// Limiter caps bytes per second across every copy that shares it.
// A nil Limiter, or one built with a non-positive rate, is unlimited.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter builds a limiter for the given sustained rate in bytes
// per second. Rates at or below zero disable throttling.
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return &Limiter{}
	}
	burst := int(bytesPerSecond)
	if burst < minBurst {
		burst = minBurst
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), burst)}
}

// Enabled reports whether the limiter actually throttles.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limiter != nil
}

// WaitN blocks until n bytes of budget are available, splitting
// requests larger than the burst into burst-sized waits.
func (l *Limiter) WaitN(ctx context.Context, n int) error {
	if !l.Enabled() || n <= 0 {
		return nil
	}
	burst := l.limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := l.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// Reader wraps r so reads debit the limiter. Unlimited limiters return
// r unchanged.
func (l *Limiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if !l.Enabled() {
		return r
	}
	return &throttledReader{ctx: ctx, limiter: l, r: r}
}

// Writer wraps w so writes wait for budget before touching w.
func (l *Limiter) Writer(ctx context.Context, w io.Writer) io.Writer {
	if !l.Enabled() {
		return w
	}
	return &throttledWriter{ctx: ctx, limiter: l, w: w}
}

type throttledReader struct {
	ctx     context.Context
	limiter *Limiter
	r       io.Reader
}

// Read debits after the underlying read so short reads only pay for
// the bytes actually delivered.
func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type throttledWriter struct {
	ctx     context.Context
	limiter *Limiter
	w       io.Writer
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	if err := t.limiter.WaitN(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}
