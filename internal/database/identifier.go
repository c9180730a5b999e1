// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package database

import (
	"regexp"

	"github.com/tomtom215/chronovault/internal/fault"
)

// tableNamePattern accepts a bare identifier or one schema-qualified
// identifier. Placeholders cannot bind identifiers, so every table name
// that reaches query text must match this first.
var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ValidateTableName rejects table names that cannot be safely
// interpolated into a query.
func ValidateTableName(name string) error {
	if name == "" {
		return fault.New(fault.InvalidArgument, "database.ValidateTableName", "empty table name")
	}
	if !tableNamePattern.MatchString(name) {
		return fault.Errorf(fault.InvalidArgument, "database.ValidateTableName", "invalid table name %q", name)
	}
	return nil
}
