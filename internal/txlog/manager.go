// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/fault"
	"github.com/tomtom215/chronovault/internal/logging"
)

// Manager reads the archive directory and derives the recovery points
// an operator can target. It never mutates segments.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{cfg: cfg}, nil
}

// Segments discovers every segment in the archive directory, from its
// sidecar when one exists and by approximation otherwise. Output is in
// replay order.
func (m *Manager) Segments(ctx context.Context) ([]*LogSegment, error) {
	entries, err := os.ReadDir(m.cfg.WatchDir)
	if err != nil {
		return nil, fault.FromOS("txlog.Manager.Segments", err)
	}

	segments := make([]*LogSegment, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if isSidecar(name) || strings.HasSuffix(name, ".tmp") {
			continue
		}
		path := filepath.Join(m.cfg.WatchDir, name)

		seg, sidecarErr := ReadSidecar(SidecarPath(path))
		if sidecarErr == nil {
			segments = append(segments, seg)
			continue
		}
		if !fault.IsKind(sidecarErr, fault.NotFound) {
			logging.Warn().Err(sidecarErr).Str("segment", name).Msg("Unreadable segment sidecar; approximating times")
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			logging.Warn().Err(infoErr).Str("segment", name).Msg("Skipping segment without stat")
			continue
		}
		seq, _ := parseWALSequence(name)
		segments = append(segments, &LogSegment{
			SegmentID:  name,
			LogType:    LogType(m.cfg.LogType),
			Sequence:   seq,
			SourcePath: path,
			Size:       info.Size(),
			CreatedAt:  info.ModTime().UTC(),
			Status:     StatusStreaming,
			Metadata:   map[string]string{"times": "approximate"},
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		if segments[i].Sequence != segments[j].Sequence {
			return segments[i].Sequence < segments[j].Sequence
		}
		if !segments[i].CreatedAt.Equal(segments[j].CreatedAt) {
			return segments[i].CreatedAt.Before(segments[j].CreatedAt)
		}
		return segments[i].SourcePath < segments[j].SourcePath
	})
	return segments, nil
}

// GetAvailableRecoveryPoints synthesizes one recovery point per
// granularity tick across each segment's span, restricted to the
// requested window when start or end are non-zero. Points come back in
// non-decreasing timestamp order, and each lists every segment needed
// to reach it.
func (m *Manager) GetAvailableRecoveryPoints(ctx context.Context, start, end time.Time) ([]RecoveryPoint, error) {
	segments, err := m.Segments(ctx)
	if err != nil {
		return nil, err
	}

	points := make([]RecoveryPoint, 0)
	needed := make([]string, 0, len(segments))
	for _, seg := range segments {
		needed = append(needed, seg.SourcePath)

		segStart, segEnd := m.segmentSpan(seg)
		if !start.IsZero() && segEnd.Before(start) {
			continue
		}
		if !end.IsZero() && segStart.After(end) {
			continue
		}

		added := 0
		for tick := firstTick(segStart, m.cfg.Granularity); !tick.After(segEnd); tick = tick.Add(m.cfg.Granularity) {
			if !start.IsZero() && tick.Before(start) {
				continue
			}
			if !end.IsZero() && tick.After(end) {
				break
			}
			points = append(points, m.newPoint(tick, seg, segEnd, needed))
			added++
		}

		// A segment shorter than one tick still contributes its end.
		if added == 0 && (start.IsZero() || !segEnd.Before(start)) && (end.IsZero() || !segEnd.After(end)) {
			points = append(points, m.newPoint(segEnd, seg, segEnd, needed))
		}
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

func (m *Manager) newPoint(ts time.Time, seg *LogSegment, segEnd time.Time, needed []string) RecoveryPoint {
	point := RecoveryPoint{
		PointID:   uuid.New().String(),
		Timestamp: ts,
		LogFiles:  append([]string(nil), needed...),
		Metadata:  map[string]string{"segment_id": seg.SegmentID},
	}
	if !ts.Before(segEnd) {
		point.LSN = seg.EndLSN
	}
	return point
}

// segmentSpan derives the time range a segment covers. The recorded
// creation time is when the file was finished, so it anchors the end;
// the start is estimated from the size unless the sidecar carries
// explicit bounds.
func (m *Manager) segmentSpan(seg *LogSegment) (time.Time, time.Time) {
	end := seg.CreatedAt
	start := end.Add(-m.approximateSpan(seg.Size))
	if v, ok := seg.Metadata["start_time"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v, ok := seg.Metadata["end_time"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}
	return start, end
}

// approximateSpan estimates how long a segment was open from its size,
// assuming about 1 MiB of log per second, clamped to at least one
// granularity window and at most an hour.
func (m *Manager) approximateSpan(size int64) time.Duration {
	span := time.Duration(size/(1<<20)) * time.Second
	if span < m.cfg.Granularity {
		return m.cfg.Granularity
	}
	if span > time.Hour {
		return time.Hour
	}
	return span
}

// firstTick returns the earliest granularity boundary at or after
// start.
func firstTick(start time.Time, granularity time.Duration) time.Time {
	tick := start.Truncate(granularity)
	if tick.Before(start) {
		tick = tick.Add(granularity)
	}
	return tick
}
