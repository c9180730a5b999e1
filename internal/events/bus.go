// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/chronovault/internal/logging"
)

// Publisher is the narrow interface components hold. A nil-safe no-op
// implementation is available for tests via Discard.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus is a gochannel-backed pub/sub for lifecycle events.
type Bus struct {
	channel *gochannel.GoChannel
}

// NewBus creates the in-process bus. Subscribers that fall behind buffer up
// to 256 messages before publishes block.
func NewBus() *Bus {
	channel := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, newWatermillLogger())

	return &Bus{channel: channel}
}

// Publish implements Publisher. Marshals the event to JSON and publishes on
// the lifecycle topic.
func (b *Bus) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.channel.Publish(TopicLifecycle, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe returns a channel of raw messages on the lifecycle topic.
// Callers must Ack or Nack every message.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	ch, err := b.channel.Subscribe(ctx, TopicLifecycle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", TopicLifecycle, err)
	}
	return ch, nil
}

// Close shuts the bus down; pending subscriber channels are closed.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// Decode unmarshals a bus message back into an Event.
func Decode(msg *message.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return Event{}, fmt.Errorf("failed to decode event: %w", err)
	}
	return event, nil
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }

// watermillLogger bridges watermill logging onto zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

// Error implements watermill.LoggerAdapter.
func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

// Info implements watermill.LoggerAdapter.
func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

// Debug implements watermill.LoggerAdapter.
func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

// Trace implements watermill.LoggerAdapter.
func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

// With implements watermill.LoggerAdapter.
func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{fields: l.fields.Add(fields)}
}

// event attaches accumulated and per-call fields to a zerolog event.
func (l *watermillLogger) event(ev *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields {
		ev = ev.Interface(k, v)
	}
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}
