// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package metrics

import (
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/chronovault/internal/logging"
)

// durationBuckets covers file hashing through multi-minute archive copies.
var durationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300, 600}

// sizeBuckets covers segment and archive sizes from 1 KiB to 16 GiB.
var sizeBuckets = prometheus.ExponentialBuckets(1024, 4, 12)

// PrometheusSink implements Sink on a dedicated registry. Metric vectors
// are created lazily on first use; the label set of a metric is fixed by
// the tags of its first recording.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*counterEntry
	histograms map[string]*histogramEntry
	gauges     map[string]*gaugeEntry
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

type gaugeEntry struct {
	vec    *prometheus.GaugeVec
	labels []string
}

// NewPrometheusSink creates a sink with its own registry, including the
// standard Go runtime collectors.
func NewPrometheusSink() *PrometheusSink {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &PrometheusSink{
		registry:   registry,
		counters:   make(map[string]*counterEntry),
		histograms: make(map[string]*histogramEntry),
		gauges:     make(map[string]*gaugeEntry),
	}
}

// Registry exposes the underlying registry, primarily for tests.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format. Mounted by the ship daemon when a metrics listener is
// configured.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordCounter implements Sink.
func (s *PrometheusSink) RecordCounter(name string, tags Tags) {
	s.mu.Lock()
	entry, ok := s.counters[name]
	if !ok {
		labels := labelKeys(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: name,
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			logging.Warn().Err(err).Str("metric", name).Msg("Counter registration failed")
			return
		}
		entry = &counterEntry{vec: vec, labels: labels}
		s.counters[name] = entry
	}
	s.mu.Unlock()

	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Inc()
}

// RecordHistogram implements Sink. Metrics named *_seconds use latency
// buckets, *_bytes use size buckets, everything else the defaults.
func (s *PrometheusSink) RecordHistogram(name string, value float64, tags Tags) {
	s.mu.Lock()
	entry, ok := s.histograms[name]
	if !ok {
		labels := labelKeys(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    name,
			Buckets: bucketsFor(name),
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			logging.Warn().Err(err).Str("metric", name).Msg("Histogram registration failed")
			return
		}
		entry = &histogramEntry{vec: vec, labels: labels}
		s.histograms[name] = entry
	}
	s.mu.Unlock()

	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Observe(value)
}

// RecordGauge implements Sink.
func (s *PrometheusSink) RecordGauge(name string, value float64, tags Tags) {
	s.mu.Lock()
	entry, ok := s.gauges[name]
	if !ok {
		labels := labelKeys(tags)
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: name,
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			logging.Warn().Err(err).Str("metric", name).Msg("Gauge registration failed")
			return
		}
		entry = &gaugeEntry{vec: vec, labels: labels}
		s.gauges[name] = entry
	}
	s.mu.Unlock()

	entry.vec.WithLabelValues(labelValues(entry.labels, tags)...).Set(value)
}

// bucketsFor selects histogram buckets by metric name suffix.
func bucketsFor(name string) []float64 {
	switch {
	case strings.HasSuffix(name, "_seconds"):
		return durationBuckets
	case strings.HasSuffix(name, "_bytes"):
		return sizeBuckets
	default:
		return prometheus.DefBuckets
	}
}

// labelKeys returns the sorted tag keys; the registration-time label set.
func labelKeys(tags Tags) []string {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// labelValues orders tag values to match the registered label set; tags
// absent from a later call record as empty strings.
func labelValues(labels []string, tags Tags) []string {
	values := make([]string, len(labels))
	for i, k := range labels {
		values[i] = tags[k]
	}
	return values
}
