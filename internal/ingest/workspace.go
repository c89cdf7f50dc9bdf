package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace is the scratch directory owned by exactly one job.
type Workspace struct {
	Root string
	log  *slog.Logger
}

// NewWorkspace creates <scratch>/<jobID>.
func NewWorkspace(scratch, jobID string, log *slog.Logger) (*Workspace, error) {
	root := filepath.Join(scratch, jobID)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", root, err)
	}
	return &Workspace{Root: root, log: log}, nil
}

func (w *Workspace) ArchivePath() string { return filepath.Join(w.Root, "upload.archive") }

func (w *Workspace) ExtractDir() string { return filepath.Join(w.Root, "extracted") }

// Release removes the workspace. Failures are logged and otherwise ignored so
// they never replace the job's own outcome.
func (w *Workspace) Release() {
	if err := os.RemoveAll(w.Root); err != nil {
		w.log.Warn("workspace cleanup failed", "path", w.Root, "error", err)
		return
	}
	w.log.Debug("workspace removed", "path", w.Root)
}
