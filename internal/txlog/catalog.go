// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package txlog

import (
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/chronovault/internal/fault"
)

// SegmentCatalog is the in-memory bookkeeping shared by the shipper,
// the retention sweep, and the stream monitor. One mutex guards it;
// no caller holds the lock across file or network I/O.
type SegmentCatalog struct {
	mu      sync.Mutex
	entries map[string]*catalogEntry
	nextSeq uint64
}

type catalogEntry struct {
	segment    *LogSegment
	observedAt time.Time
}

func NewSegmentCatalog() *SegmentCatalog {
	return &SegmentCatalog{entries: make(map[string]*catalogEntry), nextSeq: 1}
}

// Observe registers a segment file if it is new, assigning a sequence
// from the WAL-style filename when possible and from a monotonic
// counter otherwise. Returns the segment and whether it was new.
func (c *SegmentCatalog) Observe(path string, info fs.FileInfo, logType LogType) (*LogSegment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[path]; exists {
		return entry.segment.Clone(), false
	}

	seq, parsed := parseWALSequence(info.Name())
	if parsed {
		if seq >= c.nextSeq {
			c.nextSeq = seq + 1
		}
	} else {
		seq = c.nextSeq
		c.nextSeq++
	}

	seg := &LogSegment{
		SegmentID:  uuid.New().String(),
		LogType:    logType,
		Sequence:   seq,
		SourcePath: path,
		Size:       info.Size(),
		CreatedAt:  info.ModTime().UTC(),
		Status:     StatusStreaming,
	}
	c.entries[path] = &catalogEntry{segment: seg, observedAt: time.Now()}
	return seg.Clone(), true
}

// Get returns a copy of the tracked segment, if any.
func (c *SegmentCatalog) Get(path string) (*LogSegment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, exists := c.entries[path]
	if !exists {
		return nil, false
	}
	return entry.segment.Clone(), true
}

// Segments returns all tracked segments in ascending sequence order.
func (c *SegmentCatalog) Segments() []*LogSegment {
	c.mu.Lock()
	defer c.mu.Unlock()
	segments := make([]*LogSegment, 0, len(c.entries))
	for _, entry := range c.entries {
		segments = append(segments, entry.segment.Clone())
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].Sequence < segments[j].Sequence })
	return segments
}

// Len reports how many segments are tracked.
func (c *SegmentCatalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *SegmentCatalog) transition(path string, next SegmentStatus) (*LogSegment, error) {
	entry, exists := c.entries[path]
	if !exists {
		return nil, fault.Errorf(fault.NotFound, "txlog.SegmentCatalog", "segment %s is not tracked", path)
	}
	if !entry.segment.Status.CanTransitionTo(next) {
		return nil, fault.Errorf(fault.InvalidArgument, "txlog.SegmentCatalog",
			"segment %s cannot move from %s to %s", path, entry.segment.Status, next)
	}
	entry.segment.Status = next
	return entry.segment, nil
}

// MarkArchiving moves a segment into the archiving state.
func (c *SegmentCatalog) MarkArchiving(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.transition(path, StatusArchiving)
	return err
}

// MarkCompleted finalizes a shipped segment with its storage key and
// source checksum.
func (c *SegmentCatalog) MarkCompleted(path, backupPath, checksum string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, err := c.transition(path, StatusCompleted)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	seg.BackupPath = backupPath
	seg.Checksum = checksum
	seg.ArchivedAt = &now
	return nil
}

// MarkFailed records a terminal failure with its cause. Failed
// segments are not retried automatically.
func (c *SegmentCatalog) MarkFailed(path string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, err := c.transition(path, StatusFailed)
	if err != nil {
		return err
	}
	if seg.Metadata == nil {
		seg.Metadata = make(map[string]string, 1)
	}
	if cause != nil {
		seg.Metadata["error"] = cause.Error()
	}
	return nil
}

// Prune drops bookkeeping entries observed before the cutoff and
// returns how many were removed. Durable skip state lives in the
// on-disk sidecars, so pruning never causes a re-ship.
func (c *SegmentCatalog) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for path, entry := range c.entries {
		if entry.observedAt.Before(cutoff) {
			delete(c.entries, path)
			removed++
		}
	}
	return removed
}
