package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/caseway/caseway/internal/cases"
	"github.com/caseway/caseway/internal/event"
	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/pkg/jsonmap"
	"github.com/caseway/caseway/pkg/log"
)

// fingerprint summarizes a case directory for the stability check.
type fingerprint struct {
	files int
	bytes int64
	mtime time.Time
}

// Scanner watches the intake directory for new case directories. A
// directory is only handed to the case store once its fingerprint is
// identical across two consecutive sweeps, so half-copied cases are
// never submitted. Re-observing a path that already has a case is a
// no-op.
type Scanner struct {
	watchPath string
	ignore    []string
	interval  time.Duration
	store     *cases.Store
	bus       event.Bus
	pending   map[string]fingerprint
}

func New(watchPath string, ignore []string, interval time.Duration, store *cases.Store, bus event.Bus) *Scanner {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Scanner{
		watchPath: watchPath,
		ignore:    ignore,
		interval:  interval,
		store:     store,
		bus:       bus,
		pending:   make(map[string]fingerprint),
	}
}

// Run sweeps the watch directory until the context is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.watchPath, 0o755); err != nil {
		return err
	}

	log.Info("scanner starting", "watch_path", s.watchPath, "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scanner stopping")
			return nil
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Error("scanner sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs one pass over the watch directory. Exported so tests
// can drive sweeps deterministically.
func (s *Scanner) Sweep(ctx context.Context) error {
	entries, err := os.ReadDir(s.watchPath)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || s.ignored(entry.Name()) {
			continue
		}

		path := filepath.Join(s.watchPath, entry.Name())
		seen[path] = true

		fp, err := snapshot(path)
		if err != nil {
			log.Warn("failed to fingerprint case directory", "path", path, "error", err)
			continue
		}

		previous, observed := s.pending[path]
		if !observed || previous != fp {
			s.pending[path] = fp
			continue
		}

		// A failing admission must not starve the other directories;
		// the path stays pending and is retried next sweep.
		if err := s.admit(ctx, path, fp); err != nil {
			log.Error("failed to admit case directory", "path", path, "error", err)
			continue
		}
		delete(s.pending, path)
	}

	// Forget directories that disappeared between sweeps.
	for path := range s.pending {
		if !seen[path] {
			delete(s.pending, path)
		}
	}

	return nil
}

func (s *Scanner) admit(ctx context.Context, path string, fp fingerprint) error {
	existing, err := s.store.FindBySourcePath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	meta := jsonmap.FromStringMap(map[string]string{
		"files": strconv.Itoa(fp.files),
		"bytes": strconv.FormatInt(fp.bytes, 10),
	})

	c, err := s.store.Create(ctx, path, meta)
	if err != nil {
		return err
	}

	metrics.CasesDetectedTotal.Inc()
	s.bus.Publish(event.New(event.TypeCaseDetected, c.ID, ""))
	log.Info("new case detected", "case_id", c.ID, "path", path,
		"files", fp.files, "bytes", fp.bytes)

	return nil
}

func (s *Scanner) ignored(name string) bool {
	for _, pattern := range s.ignore {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// snapshot walks the directory and captures its file count, total
// size, and most recent modification time.
func snapshot(root string) (fingerprint, error) {
	var fp fingerprint

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		fp.files++
		fp.bytes += info.Size()
		if info.ModTime().After(fp.mtime) {
			fp.mtime = info.ModTime()
		}
		return nil
	})

	return fp, err
}
