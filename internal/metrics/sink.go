// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package metrics defines the metrics sink consumed by the backup and
// recovery components and provides a Prometheus-backed implementation.
//
// Components never talk to Prometheus directly; they call the Sink after
// every snapshot, change-detection pass, encryption operation, shipped
// segment, and recovery completion. Tests inject the Nop sink.
package metrics

import "sync"

// Tags carries dimension labels for a recorded metric.
type Tags map[string]string

// Sink receives operational metrics from the backup subsystem.
type Sink interface {
	// RecordCounter increments a counter by one.
	RecordCounter(name string, tags Tags)

	// RecordHistogram records an observation, e.g. a duration in seconds
	// or a byte count.
	RecordHistogram(name string, value float64, tags Tags)

	// RecordGauge sets a gauge to the given value.
	RecordGauge(name string, value float64, tags Tags)
}

// Nop is a Sink that discards everything. Useful default for tests and for
// callers that do not wire metrics.
type Nop struct{}

// RecordCounter implements Sink.
func (Nop) RecordCounter(string, Tags) {}

// RecordHistogram implements Sink.
func (Nop) RecordHistogram(string, float64, Tags) {}

// RecordGauge implements Sink.
func (Nop) RecordGauge(string, float64, Tags) {}

// Capture is a Sink that records calls in memory for test assertions.
type Capture struct {
	mu         sync.Mutex
	Counters   map[string]int
	Histograms map[string][]float64
	Gauges     map[string]float64
}

// NewCapture creates an empty capturing sink.
func NewCapture() *Capture {
	return &Capture{
		Counters:   make(map[string]int),
		Histograms: make(map[string][]float64),
		Gauges:     make(map[string]float64),
	}
}

// RecordCounter implements Sink.
func (c *Capture) RecordCounter(name string, _ Tags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Counters[name]++
}

// RecordHistogram implements Sink.
func (c *Capture) RecordHistogram(name string, value float64, _ Tags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Histograms[name] = append(c.Histograms[name], value)
}

// RecordGauge implements Sink.
func (c *Capture) RecordGauge(name string, value float64, _ Tags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gauges[name] = value
}

// CounterCount returns how many times the named counter was incremented.
func (c *Capture) CounterCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Counters[name]
}
