// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package backup

import (
	"fmt"
	"time"

	"github.com/tomtom215/chronovault/internal/tracker"
)

// BackupPlan is the recommendation for the next backup of a source.
type BackupPlan struct {
	SourceID    string              `json:"source_id"`
	Level       tracker.BackupLevel `json:"backup_level"`
	Reason      string              `json:"reason"`
	ChangeCount int                 `json:"change_count"`
	ChangeBytes int64               `json:"change_bytes"`
	ChangeRatio float64             `json:"change_ratio"`
	BaselineID  string              `json:"baseline_id,omitempty"`
	DecidedAt   time.Time           `json:"decided_at"`
}

// levelRank orders backup levels by how much they cover, so tests can
// assert that more change never yields a smaller backup.
func levelRank(level tracker.BackupLevel) int {
	switch level {
	case tracker.LevelIncremental:
		return 1
	case tracker.LevelDifferential:
		return 2
	case tracker.LevelFull:
		return 3
	default:
		return 0
	}
}

// Decide applies the policy rules in order: full when the last full
// backup is too old or too much changed, differential on moderate
// churn, incremental otherwise. The no-baseline case is the caller's,
// since it is a property of the history rather than of the thresholds.
func (p PlanPolicy) Decide(sinceLastFull time.Duration, ratio float64) (tracker.BackupLevel, string) {
	days := sinceLastFull.Hours() / 24
	switch {
	case days >= float64(p.FullAfterDays):
		return tracker.LevelFull, fmt.Sprintf("last full backup is %.1f days old (threshold %d)", days, p.FullAfterDays)
	case ratio > p.FullChangeRatio:
		return tracker.LevelFull, fmt.Sprintf("change ratio %.2f exceeds %.2f", ratio, p.FullChangeRatio)
	case ratio > p.DifferentialChangeRatio:
		return tracker.LevelDifferential, fmt.Sprintf("change ratio %.2f exceeds %.2f", ratio, p.DifferentialChangeRatio)
	default:
		return tracker.LevelIncremental, fmt.Sprintf("change ratio %.2f within incremental range", ratio)
	}
}

// changeRatio is changed items over tracked items. A baseline that
// tracked nothing counts any change as total churn.
func changeRatio(changed, tracked int) float64 {
	if tracked <= 0 {
		if changed > 0 {
			return 1
		}
		return 0
	}
	return float64(changed) / float64(tracked)
}

// changeBytes sums the sizes of surviving changed items. Deletions
// carry no size.
func changeBytes(changes []tracker.ChangeRecord) int64 {
	var total int64
	for _, change := range changes {
		total += change.Size
	}
	return total
}
