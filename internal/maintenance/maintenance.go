// Package maintenance runs the periodic background jobs the control
// plane needs outside of any one scan's lifecycle: temp-directory
// garbage collection, grounded on the teacher's cron-driven scheduler.
package maintenance

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/seznam/gsast-go/internal/coordinator"
)

// GC periodically removes stale per-scan directories under TempRoot
// (rule caches, abandoned clones from a worker that crashed mid-job).
type GC struct {
	cron     *cron.Cron
	tempRoot string
	admin    *coordinator.Admin
	maxAge   time.Duration
}

// New builds a GC that sweeps tempRoot on schedule (standard 5-field
// cron syntax). maxAge bounds how old a scan's temp directory may be
// before it is considered abandoned.
func New(tempRoot string, admin *coordinator.Admin, maxAge time.Duration) *GC {
	return &GC{
		cron:     cron.New(),
		tempRoot: tempRoot,
		admin:    admin,
		maxAge:   maxAge,
	}
}

// Start schedules the sweep and begins running it; schedule uses cron's
// standard 5-field syntax (e.g. "0 * * * *" for hourly).
func (g *GC) Start(schedule string) error {
	if _, err := g.cron.AddFunc(schedule, g.sweep); err != nil {
		return err
	}
	g.cron.Start()
	return nil
}

// Stop blocks until any in-flight sweep finishes.
func (g *GC) Stop() {
	ctx := g.cron.Stop()
	<-ctx.Done()
}

// sweep removes every directory under TempRoot whose mtime exceeds
// maxAge, unless its name is the id of a scan whose status is still
// "started", so a worker crash mid-job doesn't leak disk forever. This
// covers clone directories as well as scan-id directories. Active scans'
// directories are left untouched even past maxAge, matching the
// decision that a coordinator never force-finalizes someone else's
// in-flight work.
func (g *GC) sweep() {
	entries, err := os.ReadDir(g.tempRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("maintenance: read temp root: %v", err)
		}
		return
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		scanID := e.Name()
		info, err := e.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) < g.maxAge {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		rec, ok, err := g.admin.Record(ctx, scanID)
		cancel()
		if err != nil {
			log.Printf("maintenance: lookup scan %s: %v", scanID, err)
			continue
		}
		if ok && rec.Status == coordinator.StatusStarted {
			continue
		}

		path := filepath.Join(g.tempRoot, scanID)
		if err := os.RemoveAll(path); err != nil {
			log.Printf("maintenance: remove %s: %v", path, err)
			continue
		}
		log.Printf("maintenance: reclaimed stale scan directory %s", path)
	}
}
