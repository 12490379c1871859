// Package watcher keeps a documents folder in sync with the index.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dream-ai/docchat/internal/registry"
)

// Ingester is the ingestion surface the watcher drives.
type Ingester interface {
	IngestPath(ctx context.Context, path string) (*registry.File, bool, error)
	DeleteByName(ctx context.Context, filename string) (int, error)
}

type action int

const (
	ignore action = iota
	upsert
	remove
)

// Watcher ingests files written to a directory and forgets removed ones.
// Subdirectories and hidden files are skipped.
type Watcher struct {
	dir      string
	ingester Ingester
	debounce time.Duration
	logger   *slog.Logger
}

func New(dir string, ing Ingester, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{dir: dir, ingester: ing, debounce: debounce, logger: logger}
}

// classify maps an event to what should happen to its file.
func classify(ev fsnotify.Event) action {
	if strings.HasPrefix(filepath.Base(ev.Name), ".") {
		return ignore
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return remove
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
			return ignore
		}
		return upsert
	}
	return ignore
}

// Scan ingests every regular file already in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.ingest(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

// Run scans the directory, then handles events until ctx is cancelled.
// Bursts of events for one file collapse into a single action.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", w.dir, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching documents", "dir", w.dir)

	if err := w.Scan(ctx); err != nil {
		return err
	}

	type due struct {
		path string
		act  action
	}
	pending := map[string]*time.Timer{}
	ready := make(chan due, 16)

	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			act := classify(ev)
			if act == ignore {
				continue
			}
			if t, ok := pending[ev.Name]; ok {
				t.Stop()
			}
			path := ev.Name
			pending[path] = time.AfterFunc(w.debounce, func() {
				select {
				case ready <- due{path: path, act: act}:
				case <-ctx.Done():
				}
			})

		case d := <-ready:
			delete(pending, d.path)
			switch d.act {
			case upsert:
				w.ingest(ctx, d.path)
			case remove:
				w.forget(ctx, d.path)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "err", err)
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	f, changed, err := w.ingester.IngestPath(ctx, path)
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		w.logger.Warn("failed to ingest file", "path", path, "err", err)
	case err != nil:
	case changed:
		w.logger.Info("file synced", "path", path, "file_id", f.ID, "chunks", f.ChunkCount)
	default:
		w.logger.Debug("file unchanged", "path", path)
	}
}

func (w *Watcher) forget(ctx context.Context, path string) {
	// a rename may leave the file in place under the same name
	if _, err := os.Stat(path); err == nil {
		w.ingest(ctx, path)
		return
	}
	n, err := w.ingester.DeleteByName(ctx, filepath.Base(path))
	if err != nil {
		w.logger.Warn("failed to remove file", "path", path, "err", err)
		return
	}
	if n > 0 {
		w.logger.Info("file removed", "path", path, "files", n)
	}
}
