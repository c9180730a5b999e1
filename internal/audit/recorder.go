// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/chronovault/internal/events"
	"github.com/tomtom215/chronovault/internal/logging"
)

// Config holds recorder configuration.
type Config struct {
	// Enabled controls whether the trail is written at all.
	Enabled bool `koanf:"enabled"`

	// Dir is the audit trail directory.
	Dir string `koanf:"dir"`

	// RetentionDays is how long day files are kept.
	RetentionDays int `koanf:"retention_days"`

	// CleanupInterval is how often retention runs.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`

	// BufferSize is the async write buffer; full buffer drops with a log.
	BufferSize int `koanf:"buffer_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
		BufferSize:      1024,
	}
}

// Recorder subscribes to the lifecycle bus and persists records through a
// buffered async writer so publishers never block on disk.
type Recorder struct {
	config Config
	store  Store
	bus    *events.Bus

	recordChan chan *Record

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder over the given store and bus.
func NewRecorder(config Config, store Store, bus *events.Bus) *Recorder {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultConfig().CleanupInterval
	}
	return &Recorder{
		config:     config,
		store:      store,
		bus:        bus,
		recordChan: make(chan *Record, config.BufferSize),
	}
}

// Start begins consuming bus events and running retention. Safe to call
// once; a second call is a no-op while running.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	msgs, err := r.bus.Subscribe(ctx)
	if err != nil {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		cancel()
		return err
	}

	r.wg.Add(3)
	go r.consume(ctx, msgs)
	go r.write(ctx)
	go r.cleanup(ctx)

	logging.Info().Str("dir", r.config.Dir).Msg("Audit recorder started")
	return nil
}

// Stop cancels the background goroutines and waits for them.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	r.wg.Wait()
	logging.Info().Msg("Audit recorder stopped")
}

// IsRunning reports whether the recorder is consuming.
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// consume turns bus messages into buffered records. A full buffer drops
// the record with a warning rather than blocking the publisher.
func (r *Recorder) consume(ctx context.Context, msgs <-chan *message.Message) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			event, err := events.Decode(msg)
			if err != nil {
				logging.Error().Err(err).Msg("Failed to decode lifecycle event")
				msg.Ack()
				continue
			}
			msg.Ack()

			if !r.config.Enabled {
				continue
			}

			select {
			case r.recordChan <- toRecord(event):
			default:
				logging.Warn().Str("event_id", event.ID).Msg("Audit buffer full, dropping record")
			}
		}
	}
}

// write drains the record buffer into the store.
func (r *Recorder) write(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is buffered before exiting.
			for {
				select {
				case record := <-r.recordChan:
					r.save(record)
				default:
					return
				}
			}
		case record := <-r.recordChan:
			r.save(record)
		}
	}
}

// save persists one record with a bounded timeout.
func (r *Recorder) save(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.Save(ctx, record); err != nil {
		logging.Error().Err(err).Str("event_id", record.ID).Msg("Failed to save audit record")
	}
}

// cleanup runs retention on the configured interval.
func (r *Recorder) cleanup(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -r.config.RetentionDays)
			count, err := r.store.Delete(ctx, cutoff)
			if err != nil {
				logging.Error().Err(err).Msg("Audit retention sweep failed")
			} else if count > 0 {
				logging.Info().Int64("records", count).Msg("Audit retention removed old records")
			}
		}
	}
}

// toRecord maps a lifecycle event onto an audit record. Failures are
// errors; everything else is informational.
func toRecord(event events.Event) *Record {
	severity := SeverityInfo
	if event.Outcome == "failure" {
		severity = SeverityError
	}

	return &Record{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Type:      string(event.Type),
		Severity:  severity,
		Outcome:   event.Outcome,
		Subject:   event.Subject,
		Details:   event.Details,
	}
}
