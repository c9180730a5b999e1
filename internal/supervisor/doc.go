// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

/*
Package supervisor provides process supervision for the ship daemon using suture v4.

This package implements a hierarchical supervisor tree that manages the lifecycle
of the long-running shipping components. It provides Erlang/OTP-style supervision
with automatic restart, failure isolation, and graceful shutdown, plus the Daemon
type that assembles the whole stack from configuration.

# Overview

The supervisor tree organizes services into two layers for failure isolation:

	RootSupervisor ("chronovault")
	├── ShippingSupervisor ("shipping-layer")
	│   ├── segment-shipper
	│   ├── retention-sweeper
	│   └── log-streamer (if txlog.stream.enabled)
	└── PlatformSupervisor ("platform-layer")
	    ├── audit-recorder (if audit.enabled)
	    └── metrics-server (if metrics.enabled)

This hierarchy ensures that:
  - A crashing streamer subprocess doesn't interrupt segment shipping
  - Audit trail failures don't impact the shipping pipeline
  - A broken metrics listener never stops log protection

# Key Features

Automatic Restart:
  - Crashed services are automatically restarted
  - Exponential backoff prevents restart storms
  - Configurable failure thresholds and decay rates

Failure Isolation:
  - Services are organized into logical groups
  - Child supervisor failures don't propagate upward
  - Each layer has independent failure counting

Graceful Shutdown:
  - Context cancellation triggers orderly shutdown
  - Configurable shutdown timeout per service
  - UnstoppedServiceReport for debugging hangs

Structured Logging:
  - Integration with slog for structured events
  - Logs service starts, stops, failures, and restarts
  - Event hooks via sutureslog adapter

# Usage Example

The Daemon is the usual entry point and hides the tree assembly:

	import (
	    "github.com/tomtom215/chronovault/internal/config"
	    "github.com/tomtom215/chronovault/internal/supervisor"
	)

	func runShipDaemon(ctx context.Context, cfg *config.Config) error {
	    daemon, err := supervisor.NewDaemon(cfg)
	    if err != nil {
	        return err
	    }
	    // Blocks until ctx is canceled
	    return daemon.Run(ctx)
	}

Direct tree construction for custom service sets:

	logger := logging.NewSlogLogger()
	tree, err := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}

	tree.AddShippingService(services.NewShipperService(shipper))
	tree.AddPlatformService(services.NewMetricsServerService(srv, 5*time.Second))

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("Supervisor stopped: %v", err)
	}

Background operation:

	errChan := tree.ServeBackground(ctx)

	// Do other setup...

	if err := <-errChan; err != nil {
	    log.Printf("Supervisor error: %v", err)
	}

# Configuration

The TreeConfig controls restart behavior:

	config := supervisor.TreeConfig{
	    FailureThreshold: 5.0,              // Failures before backoff
	    FailureDecay:     30.0,             // Seconds for failures to decay
	    FailureBackoff:   15 * time.Second, // Backoff duration
	    ShutdownTimeout:  10 * time.Second, // Per-service shutdown timeout
	}

Default values match suture's production-ready defaults:
  - FailureThreshold: 5 failures
  - FailureDecay: 30 seconds
  - FailureBackoff: 15 seconds
  - ShutdownTimeout: 10 seconds

# Failure Handling

The supervisor uses a failure counter with exponential decay:

1. Each service failure increments the counter
2. Counter decays exponentially over time (FailureDecay seconds)
3. When counter exceeds FailureThreshold, supervisor enters backoff
4. During backoff, restarts are delayed by FailureBackoff duration
5. If failures continue, the child supervisor may be restarted by parent

Example failure scenarios:

	# Single crash - immediate restart
	Streamer subprocess dies -> Counter: 1 -> Restart immediately

	# Rapid crashes - backoff triggered
	Metrics port taken, 5 bind failures in 10s -> Counter: 5+ -> Wait 15s

	# Isolated failures - counter decays
	One crash, stable for 60s -> Counter: ~0.13 -> Normal restart

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return behavior:
  - Return nil: Service stopped cleanly, will not be restarted
  - Return error: Service crashed, will be restarted
  - Context canceled: Shutdown requested, return promptly

# What Is NOT Supervised

One-shot CLI operations (snapshots, backups, restores) are not supervised:
  - They run to completion in the foreground command
  - A failure is reported to the operator, not retried blindly
  - Retrying a half-finished restore needs operator judgment

The checksum cache and segment catalog are not supervised either; they
are embedded stores opened and closed by the components that own them.

# Debugging Shutdown Issues

If services don't stop within the timeout:

	// Get report of unstopped services
	report, err := tree.UnstoppedServiceReport()
	for _, svc := range report {
	    log.Printf("Service didn't stop: %v", svc)
	}

Common causes:
  - Goroutines not respecting context cancellation
  - Blocked network I/O without deadlines
  - A replay subprocess ignoring SIGTERM

# Thread Safety

The Tree is safe for concurrent use:
  - Services can be added from any goroutine
  - Remove operations are synchronized
  - Multiple services can crash simultaneously

# See Also

  - internal/supervisor/services: Service wrappers
  - github.com/thejerf/suture/v4: Underlying library
  - internal/txlog: The supervised shipping components
*/
package supervisor
