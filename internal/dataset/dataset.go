// Package dataset provides the record sources the reporting server reads.
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/csvlog"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/internal/store"
	"github.com/dj-oyu/rdk-x5_people-counter/counter-server/pkg/types"
)

// Source yields the full record history.
type Source interface {
	Records(ctx context.Context) ([]types.Record, error)
	Name() string
}

// CSVSource reads the CSV log, reparsing only when the file changed.
type CSVSource struct {
	path string

	mu      sync.Mutex
	records []types.Record
	skipped int
	modTime time.Time
	size    int64
	loaded  bool
	loads   int

	watcher *fsnotify.Watcher
}

// NewCSVSource creates a source for path. Call Watch to invalidate the cache
// on filesystem events; without it, changes are detected by mtime and size.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Name implements Source.
func (s *CSVSource) Name() string { return "csv:" + s.path }

// Path returns the log path.
func (s *CSVSource) Path() string { return s.path }

// Records implements Source.
func (s *CSVSource) Records(ctx context.Context) ([]types.Record, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", csvlog.ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to stat csv log: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.records, nil
	}

	res, err := csvlog.LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	if res.Skipped > 0 {
		logger.Warn("Dataset", "Skipped %d malformed rows in %s", res.Skipped, s.path)
	}
	s.records = res.Records
	s.skipped = res.Skipped
	s.modTime = info.ModTime()
	s.size = info.Size()
	s.loaded = true
	s.loads++
	logger.Debug("Dataset", "Loaded %d records from %s", len(res.Records), s.path)
	return s.records, nil
}

// Invalidate drops the cached records.
func (s *CSVSource) Invalidate() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

// Watch invalidates the cache on write, create, rename and remove events for
// the log until ctx is cancelled. It watches the parent directory so that a
// log created or replaced after startup is still seen.
func (s *CSVSource) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)
	logger.Info("Dataset", "Watching %s", target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				s.Invalidate()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Dataset", "Watcher error: %v", err)
		}
	}
}

// Stats reports cache counters for the debug endpoint.
func (s *CSVSource) Stats() (loads, skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads, s.skipped
}

// StoreSource reads from the SQLite mirror.
type StoreSource struct {
	DB *store.DB
}

// Name implements Source.
func (s StoreSource) Name() string { return "sqlite:" + s.DB.Path() }

// Records implements Source.
func (s StoreSource) Records(ctx context.Context) ([]types.Record, error) {
	return s.DB.Records(ctx)
}

// Static is a fixed record set, used by tests and the charts CLI.
type Static []types.Record

// Name implements Source.
func (Static) Name() string { return "static" }

// Records implements Source.
func (s Static) Records(context.Context) ([]types.Record, error) { return s, nil }
