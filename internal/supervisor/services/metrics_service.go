// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// MetricsServer interface matches *http.Server lifecycle methods.
//
// This interface allows the MetricsServerService to work with http.Server
// without direct dependency, enabling testing with mocks.
//
// Satisfied by *http.Server from net/http:
//   - ListenAndServe() error
//   - Shutdown(ctx context.Context) error
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// MetricsServerService wraps the Prometheus metrics listener as a
// supervised service.
//
// The wrapper translates http.Server's blocking ListenAndServe pattern
// into suture's context-aware Serve pattern:
//
//  1. Starts ListenAndServe in a goroutine
//  2. Waits for either context cancellation or server error
//  3. On shutdown, calls Shutdown with the configured timeout
//
// Example usage:
//
//	mux := http.NewServeMux()
//	mux.Handle("/metrics", sink.Handler())
//	server := &http.Server{Addr: "127.0.0.1:9155", Handler: mux}
//	svc := services.NewMetricsServerService(server, 5*time.Second)
//	tree.AddPlatformService(svc)
type MetricsServerService struct {
	server          MetricsServer
	shutdownTimeout time.Duration
	name            string
}

// NewMetricsServerService creates a new metrics server service wrapper.
//
// The shutdownTimeout determines how long to wait for in-flight scrapes
// to complete during graceful shutdown. Scrapes are quick, so a few
// seconds is plenty.
func NewMetricsServerService(server MetricsServer, shutdownTimeout time.Duration) *MetricsServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &MetricsServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "metrics-server",
	}
}

// Serve implements suture.Service.
//
// Returns nil on graceful shutdown, or an error if the server fails.
// http.ErrServerClosed is converted to nil since it's expected on shutdown.
func (m *MetricsServerService) Serve(ctx context.Context) error {
	// Start server in goroutine since ListenAndServe blocks
	errCh := make(chan error, 1)
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		// Server failed to bind or crashed
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		// Server closed normally (shouldn't happen unless externally triggered)
		return nil

	case <-ctx.Done():
		// Use a new context for shutdown since the original is canceled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		defer cancel()

		if err := m.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown failed: %w", err)
		}

		// Wait for the server goroutine to finish
		<-errCh
		return ctx.Err()
	}
}

// String implements fmt.Stringer for logging.
// Suture uses this to identify the service in log messages.
func (m *MetricsServerService) String() string {
	return m.name
}
