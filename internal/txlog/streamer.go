// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
	"github.com/tomtom215/chronovault/internal/metrics"
)

const (
	// streamBackoffBase is the delay before the first restart.
	streamBackoffBase = time.Second

	// streamBackoffMax caps the restart delay.
	streamBackoffMax = 5 * time.Minute

	// streamStableRun is how long a receiver must survive before its
	// next failure starts the backoff ladder over.
	streamStableRun = time.Minute

	// streamStderrLimit bounds the stderr snippet kept per failure.
	streamStderrLimit = 256
)

// Streamer supervises an external log-streaming receiver such as
// pg_receivewal. The receiver writes into the shipper's watch
// directory; the streamer only keeps it alive, restarting with
// exponential backoff so a crashing receiver never halts shipping.
type Streamer struct {
	cfg  Config
	sink metrics.Sink

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamer wires the subprocess supervisor. It requires a command
// regardless of the enabled flag so callers fail at construction, not
// at first restart.
func NewStreamer(cfg Config, sink metrics.Sink) (*Streamer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(cfg.Stream.Command) == 0 {
		return nil, fault.New(fault.InvalidArgument, "txlog.NewStreamer", "streaming command is required")
	}
	if sink == nil {
		sink = metrics.Nop{}
	}
	return &Streamer{cfg: cfg, sink: sink}, nil
}

// Start launches the supervision loop.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	logging.Info().
		Str("source", s.cfg.SourceID).
		Str("command", strings.Join(s.cfg.Stream.Command, " ")).
		Msg("Starting log stream receiver")

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop kills the receiver via context cancellation and waits for the
// loop to finish.
func (s *Streamer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logging.Info().Str("source", s.cfg.SourceID).Msg("Log stream receiver stopped")
}

// run keeps the receiver alive until the context is cancelled. A
// receiver that survives streamStableRun earns a reset backoff.
func (s *Streamer) run(ctx context.Context) {
	defer s.wg.Done()

	backoff := streamBackoffBase
	for {
		started := time.Now()
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= streamStableRun {
			backoff = streamBackoffBase
		}

		s.sink.RecordCounter("txlog_stream_restarts_total", metrics.Tags{"source": s.cfg.SourceID})
		if err != nil {
			logging.Error().Err(err).
				Str("source", s.cfg.SourceID).
				Dur("backoff", backoff).
				Msg("Log stream receiver exited; restarting")
		} else {
			logging.Warn().
				Str("source", s.cfg.SourceID).
				Dur("backoff", backoff).
				Msg("Log stream receiver exited cleanly; restarting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// runOnce runs the receiver to completion, folding a stderr snippet
// into the returned error.
func (s *Streamer) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.cfg.Stream.Command[0], s.cfg.Stream.Command[1:]...) //nolint:gosec // G204: command comes from operator configuration
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if snippet := stderrSnippet(stderr.Bytes()); snippet != "" {
		return fmt.Errorf("receiver failed: %w: %s", err, snippet)
	}
	return fmt.Errorf("receiver failed: %w", err)
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > streamBackoffMax {
		d = streamBackoffMax
	}
	return d
}

// stderrSnippet trims captured stderr to a single bounded line.
func stderrSnippet(raw []byte) string {
	snippet := strings.TrimSpace(string(raw))
	snippet = strings.ReplaceAll(snippet, "\n", " | ")
	if len(snippet) > streamStderrLimit {
		snippet = snippet[:streamStderrLimit]
	}
	return snippet
}
