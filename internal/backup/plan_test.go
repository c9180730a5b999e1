// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/tracker"
)

func TestDecideLevels(t *testing.T) {
	policy := DefaultPlanPolicy()

	tests := []struct {
		name          string
		sinceLastFull time.Duration
		ratio         float64
		want          tracker.BackupLevel
	}{
		{"small churn stays incremental", 24 * time.Hour, 0.05, tracker.LevelIncremental},
		{"moderate churn promotes to differential", 24 * time.Hour, 0.20, tracker.LevelDifferential},
		{"heavy churn forces full", 24 * time.Hour, 0.50, tracker.LevelFull},
		{"stale full backup forces full", 8 * 24 * time.Hour, 0.01, tracker.LevelFull},
		{"exactly at the age threshold forces full", 7 * 24 * time.Hour, 0.01, tracker.LevelFull},
		{"ratio at differential threshold stays incremental", 24 * time.Hour, 0.10, tracker.LevelIncremental},
		{"ratio at full threshold stays differential", 24 * time.Hour, 0.30, tracker.LevelDifferential},
		{"no changes at all", 24 * time.Hour, 0, tracker.LevelIncremental},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			level, reason := policy.Decide(tc.sinceLastFull, tc.ratio)
			if level != tc.want {
				t.Errorf("expected %s, got %s (%s)", tc.want, level, reason)
			}
			if reason == "" {
				t.Error("expected a non-empty reason")
			}
		})
	}
}

// A source with 1000 tracked files and 350 changed plans a full backup
// even though the last full backup is only a day old.
func TestDecideHeavyChurnOverridesRecency(t *testing.T) {
	policy := DefaultPlanPolicy()

	ratio := changeRatio(350, 1000)
	level, reason := policy.Decide(24*time.Hour, ratio)
	if level != tracker.LevelFull {
		t.Fatalf("expected full backup, got %s (%s)", level, reason)
	}
	if !strings.Contains(reason, "0.35") {
		t.Errorf("expected reason to cite the change ratio, got %q", reason)
	}
}

// More change never yields a smaller backup level.
func TestDecideMonotonicInRatio(t *testing.T) {
	policy := DefaultPlanPolicy()

	prev := 0
	for i := 0; i <= 100; i++ {
		ratio := float64(i) / 100
		level, _ := policy.Decide(time.Hour, ratio)
		rank := levelRank(level)
		if rank < prev {
			t.Fatalf("level rank decreased at ratio %.2f: %d -> %d", ratio, prev, rank)
		}
		prev = rank
	}
}

func TestChangeRatio(t *testing.T) {
	tests := []struct {
		name    string
		changed int
		tracked int
		want    float64
	}{
		{"typical", 350, 1000, 0.35},
		{"no changes", 0, 1000, 0},
		{"empty baseline with changes", 5, 0, 1},
		{"empty baseline without changes", 0, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := changeRatio(tc.changed, tc.tracked); got != tc.want {
				t.Errorf("expected %.2f, got %.2f", tc.want, got)
			}
		})
	}
}

func TestChangeBytes(t *testing.T) {
	changes := []tracker.ChangeRecord{
		{Item: "a.txt", Kind: tracker.ChangeModified, Size: 100},
		{Item: "b.txt", Kind: tracker.ChangeCreated, Size: 50},
		{Item: "c.txt", Kind: tracker.ChangeDeleted},
	}
	if got := changeBytes(changes); got != 150 {
		t.Errorf("expected 150 change bytes, got %d", got)
	}
}

func TestPlanPolicyValidate(t *testing.T) {
	if err := DefaultPlanPolicy().Validate(); err != nil {
		t.Errorf("default policy should validate, got %v", err)
	}

	inverted := PlanPolicy{FullAfterDays: 7, FullChangeRatio: 0.10, DifferentialChangeRatio: 0.30}
	if err := inverted.Validate(); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for inverted thresholds, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}

	cfg.Compression.Algorithm = "lz4"
	if err := cfg.Validate(); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for unknown algorithm, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.SnapshotDir = ""
	if err := cfg.Validate(); !fault.IsKind(err, fault.InvalidArgument) {
		t.Errorf("expected InvalidArgument for empty snapshot dir, got %v", err)
	}
}
