// Chronovault - Incremental Backup and Point-in-Time Recovery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chronovault

package recovery

import (
	"os"
	"path/filepath"

	"github.com/tomtom215/chronovault/internal/fault"
)

// Workspace is the isolated directory tree one recovery operates in.
// Nothing outside it is touched until an operator promotes the result.
type Workspace struct {
	// Root holds the whole tree, removed on Discard.
	Root string

	// DataDir receives extracted base backup contents and the recovery
	// configuration.
	DataDir string

	// SegmentsDir receives staged log segments for replay.
	SegmentsDir string

	// StageDir receives downloaded artifacts before decrypt/extract.
	StageDir string
}

func newWorkspace(baseDir, operationID string) (*Workspace, error) {
	ws := &Workspace{Root: filepath.Join(baseDir, "recovery-"+operationID)}
	ws.DataDir = filepath.Join(ws.Root, "data")
	ws.SegmentsDir = filepath.Join(ws.Root, "segments")
	ws.StageDir = filepath.Join(ws.Root, "stage")

	for _, dir := range []string{ws.DataDir, ws.SegmentsDir, ws.StageDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fault.FromOS("recovery.newWorkspace", err)
		}
	}
	return ws, nil
}

// Discard removes the workspace and everything in it.
func (w *Workspace) Discard() error {
	return os.RemoveAll(w.Root)
}
