// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

/*
Package services provides suture.Service wrappers for Chronovault components.

This package adapts the ship daemon's components to the suture v4 supervision
model, translating their lifecycle patterns (Start/Stop, ListenAndServe) into
suture's context-aware Serve pattern.

# Overview

Each wrapper implements the suture.Service interface:

	type Service interface {
	    Serve(ctx context.Context) error
	}

The wrappers handle:
  - Lifecycle translation (Start/Stop to Serve pattern)
  - Graceful shutdown via context cancellation
  - Error propagation for supervisor restart decisions
  - Service identification via fmt.Stringer

# Available Services

Lifecycle Components (LifecycleService):
  - Wraps any component with Start(ctx)/Stop() lifecycle
  - Used for the segment shipper, streamer, retention sweeper
    and audit recorder via the named constructors
  - Start errors propagate so the supervisor restarts the component

Metrics Endpoint (MetricsServerService):
  - Wraps *http.Server exposing the Prometheus registry
  - Converts ListenAndServe pattern to Serve
  - Configurable shutdown timeout for draining scrapes

# Usage Example

Creating and registering services:

	import (
	    "github.com/tomtom215/chronovault/internal/supervisor"
	    "github.com/tomtom215/chronovault/internal/supervisor/services"
	)

	func setupSupervisor(shipper *txlog.Shipper, sweeper *txlog.Retention) {
	    tree, _ := supervisor.NewTree(logger, config)

	    tree.AddShippingService(services.NewShipperService(shipper))
	    tree.AddShippingService(services.NewRetentionService(sweeper))

	    // Start supervision
	    tree.Serve(ctx)
	}

# Lifecycle Patterns

Start/Stop components are wrapped as:

	func (s *LifecycleService) Serve(ctx context.Context) error {
	    if err := s.component.Start(ctx); err != nil {
	        return err
	    }
	    <-ctx.Done()
	    s.component.Stop()
	    return ctx.Err()
	}

The HTTP metrics listener is wrapped as:

	func (s *MetricsServerService) Serve(ctx context.Context) error {
	    go s.server.ListenAndServe()
	    <-ctx.Done()
	    return s.server.Shutdown(shutdownCtx)
	}

# Error Handling

Return values determine supervisor behavior:

	nil         -> Service stopped cleanly, will not restart
	error       -> Service crashed, supervisor will restart
	ctx.Err()   -> Shutdown requested, normal termination

# Service Identification

All services implement fmt.Stringer for logging:

	func (s *MetricsServerService) String() string {
	    return "metrics-server"
	}

Suture uses this for log messages:

	INFO segment-shipper: starting
	INFO segment-shipper: stopped
	ERROR metrics-server: restarting after failure

# Thread Safety

The wrappers hold no mutable state of their own; concurrency is the
wrapped component's concern. Multiple concurrent Serve calls on one
wrapper are not supported.

# See Also

  - internal/supervisor: Tree that manages these services
  - github.com/thejerf/suture/v4: Underlying supervision library
  - internal/txlog: Shipper, Streamer and Retention implementations
  - internal/audit: Recorder implementation
*/
package services
