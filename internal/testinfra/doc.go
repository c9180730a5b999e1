// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package testinfra provides test infrastructure for integration testing with containers.
//
// This package uses testcontainers-go to manage Docker containers for integration tests,
// providing realistic testing environments that closely match production.
//
// # MinIO Container
//
// The MinIOContainer provides a real S3 API for testing the storage backend:
//
//	func TestS3RoundTrip(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//
//	    ctx := context.Background()
//	    srv, err := testinfra.NewMinIOContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, srv.Container)
//
//	    backend, err := storage.NewS3(storage.S3Config{
//	        Endpoint:  srv.Endpoint,
//	        AccessKey: srv.AccessKey,
//	        SecretKey: srv.SecretKey,
//	        Bucket:    "chronovault-it",
//	    })
//	    // Exercise Put/Get/List against a real S3 implementation
//	}
//
// # Benefits Over Mocks
//
// Using real containers provides several advantages:
//   - Tests validate actual API contracts (multipart semantics, listing order)
//   - No mock drift (mocks getting out of sync with real S3 behavior)
//   - Tests run against production-equivalent services
//
// # CI Considerations
//
// These tests require Docker and network access and are gated behind the
// integration build tag:
//
//	go test -tags integration ./...
//
// In CI:
//   - Self-hosted runners have Docker pre-installed
//   - Container images are cached between runs
//   - Tests are skipped gracefully if Docker is unavailable
//
// # Network Requirements
//
// First run may need to download container images. Subsequent runs use cached images.
package testinfra
