// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package main is the chronovault command line interface.
//
// Chronovault is a backup and recovery tool built around three ideas:
// incremental snapshots that detect changes with content checksums,
// continuous transaction log shipping to durable storage, and restores
// to an operator-chosen point in time.
//
// # Commands
//
//	snapshot create <source>    capture a full integrity snapshot
//	changes detect <source>     diff a source against its baseline
//	backup plan <source>        recommend full/differential/incremental
//	backup create <source>      write a base backup archive
//	log ship start|stop         run or signal the shipping daemon
//	log verify <segment>...     classify segments as valid/corrupted/missing
//	pitr list-points            list reachable recovery points
//	pitr restore                restore a source to a point in time
//	pitr status <operation-id>  inspect a finished restore
//	key generate|rotate|list    manage encryption keys
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (CHRONOVAULT_*)
//   - Config file (--config, CHRONOVAULT_CONFIG, or the default search
//     paths: chronovault.yaml, /etc/chronovault/config.yaml)
//   - Built-in defaults
//
// # Exit Codes
//
// Commands exit 0 on success. Failures map the error kind to a
// distinct code so scripts can react without parsing output:
//
//	1  internal error
//	2  not found
//	3  permission denied
//	4  integrity check failed
//	5  invalid argument
//	6  operation already in progress
//	7  timeout
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running command. "log ship start"
// treats this as a graceful shutdown: the supervision tree stops every
// service, in-flight segment work finishes or is rolled back, and the
// pidfile is removed.
//
// # Example Usage
//
// Take a snapshot and plan the next backup:
//
//	chronovault snapshot create pg-main
//	chronovault backup plan pg-main
//
// Run the shipping daemon with Prometheus metrics:
//
//	chronovault log ship start --metrics-listen :9090
//
// Restore to five minutes before an incident:
//
//	chronovault pitr list-points --since 2026-03-01T00:00:00Z
//	chronovault pitr restore --target-time 2026-03-01T11:55:00Z \
//	    --source pg-main --target pg-main-recovered
package main

func main() {
	Execute()
}
