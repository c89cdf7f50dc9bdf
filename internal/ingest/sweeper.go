package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Sweeper removes job workspaces left behind by a crashed process. Only
// directories named like a job id and older than MaxAge are touched.
type Sweeper struct {
	Dir    string
	MaxAge time.Duration
	// InUse, when set, reports job ids whose workspace must be kept whatever
	// its age.
	InUse func(jobID string) bool
	log   *slog.Logger
	now   func() time.Time
}

func NewSweeper(dir string, maxAge time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{Dir: dir, MaxAge: maxAge, log: log, now: time.Now}
}

// Sweep makes one pass and reports how many workspaces it removed.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read scratch dir: %w", err)
	}

	cutoff := s.now().Add(-s.MaxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		if s.InUse != nil && s.InUse(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warn("sweep: remove failed", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.log.Info("sweep: stale workspaces removed", "count", removed)
	}
	return removed, nil
}

// Start runs Sweep on a cron schedule until ctx is done.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := s.Sweep(); err != nil {
			s.log.Warn("sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
