// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a
// thread-safe singleton validator instance with user-friendly error
// messages. Configuration sections declare constraints as struct tags
// and are validated once at load time, before any backup or recovery
// component starts.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Comprehensive error translation to human-readable messages
//   - Aggregated per-field errors for whole-section reporting
//   - Future v11 compatibility with WithRequiredStructEnabled
//
// # Quick Start
//
//	type ChecksumConfig struct {
//	    CacheDir           string `koanf:"cache_dir"`
//	    CompositeThreshold int64  `koanf:"composite_threshold" validate:"gte=0"`
//	}
//
//	func (c *Config) Validate() error {
//	    if verr := validation.ValidateStruct(&c.Checksum); verr != nil {
//	        return fault.Errorf(fault.InvalidArgument, "config.Validate", "checksum: %v", verr)
//	    }
//	    return nil
//	}
//
// # Common Validation Tags
//
// String validations:
//   - required: Field must not be empty
//   - min=n: Minimum length n characters
//   - max=n: Maximum length n characters
//   - hostname: Valid RFC 1123 hostname
//
// Numeric validations:
//   - gte=n: Greater than or equal to n
//   - lte=n: Less than or equal to n
//   - gt=n: Greater than n
//   - lt=n: Less than n
//
// Enum validations:
//   - oneof=a b c: Must be one of the specified values
//
// # Error Types
//
// FieldError represents a single field validation failure:
//
//	type FieldError struct {
//	    Field()   string      // Struct field name
//	    Tag()     string      // Validation tag that failed
//	    Param()   string      // Tag parameter (e.g., "0" for gte=0)
//	    Value()   interface{} // Actual value that failed
//	    Error()   string      // Human-readable message
//	}
//
// StructError aggregates multiple field errors:
//
//	type StructError struct {
//	    Errors() []FieldError
//	    Error()  string       // Combined message
//	}
//
// # Error Message Translation
//
// Human-readable messages are generated for common validation tags:
//
//	required   -> "DSN is required"
//	min=1      -> "ID must be at least 1 characters"
//	gte=0      -> "CompositeThreshold must be greater than or equal to 0"
//	lte=9      -> "CompressionLevel must be less than or equal to 9"
//	oneof=a b  -> "Backend must be one of: a b"
//
// # Struct Tag Examples
//
// Storage backend selection:
//
//	type Config struct {
//	    Backend string `koanf:"backend" validate:"required,oneof=local s3"`
//	    Dir     string `koanf:"dir"`
//	}
//
// Backup policy bounds:
//
//	type PlanPolicy struct {
//	    FullAfterDays          int     `koanf:"full_after_days" validate:"gte=1"`
//	    FullChangeRatio        float64 `koanf:"full_change_ratio" validate:"gt=0,lte=1"`
//	    DifferentialChangeRatio float64 `koanf:"differential_change_ratio" validate:"gt=0,lte=1"`
//	}
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent use:
//
//	validate := validation.GetValidator()  // Thread-safe
//	err := validation.ValidateStruct(&cfg) // Thread-safe
//
// # Performance
//
// The validator caches struct reflection information:
//   - First validation of a struct type: ~1ms (reflection + caching)
//   - Subsequent validations: ~10us (cached)
//   - Memory: ~500 bytes per cached struct type
//
// # See Also
//
//   - internal/config: Configuration sections using validation
//   - github.com/go-playground/validator/v10: Underlying library
package validation
