// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package services

import (
	"context"
	"fmt"
)

// Lifecycle is the shape shared by the daemon's supervised components.
// The shipper, streamer, retention sweeper and audit recorder all start
// background goroutines from Start and join them in Stop. Using an
// interface here avoids direct dependencies on those packages.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop()
}

// LifecycleService wraps a Start/Stop component for suture supervision.
type LifecycleService struct {
	component Lifecycle
	name      string
}

// NewLifecycleService creates a service wrapper around any Start/Stop
// component. The name identifies the service in supervisor logs.
func NewLifecycleService(component Lifecycle, name string) *LifecycleService {
	return &LifecycleService{component: component, name: name}
}

// NewShipperService wraps the transaction log shipper.
func NewShipperService(shipper Lifecycle) *LifecycleService {
	return NewLifecycleService(shipper, "segment-shipper")
}

// NewStreamerService wraps the real-time streaming subprocess manager.
func NewStreamerService(streamer Lifecycle) *LifecycleService {
	return NewLifecycleService(streamer, "log-streamer")
}

// NewRetentionService wraps the retention sweeper.
func NewRetentionService(sweeper Lifecycle) *LifecycleService {
	return NewLifecycleService(sweeper, "retention-sweeper")
}

// NewAuditRecorderService wraps the audit trail recorder.
func NewAuditRecorderService(recorder Lifecycle) *LifecycleService {
	return NewLifecycleService(recorder, "audit-recorder")
}

// Serve implements suture.Service.
//
// A Start error is returned as a failure so the supervisor restarts the
// component. After a successful start it blocks until shutdown, stops
// the component and reports the context error as a clean termination.
func (s *LifecycleService) Serve(ctx context.Context) error {
	if err := s.component.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.name, err)
	}

	<-ctx.Done()

	s.component.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *LifecycleService) String() string {
	return s.name
}
