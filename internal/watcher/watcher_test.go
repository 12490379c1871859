package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/registry"
)

type recorder struct {
	mu       sync.Mutex
	ingested []string
	deleted  []string
}

func (r *recorder) IngestPath(_ context.Context, path string) (*registry.File, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingested = append(r.ingested, filepath.Base(path))
	return &registry.File{ID: "id-" + filepath.Base(path)}, true, nil
}

func (r *recorder) DeleteByName(_ context.Context, filename string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, filename)
	return 1, nil
}

func (r *recorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ingested...), append([]string(nil), r.deleted...)
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	hidden := filepath.Join(dir, ".a.txt.swp")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0o644))
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	tests := []struct {
		name string
		ev   fsnotify.Event
		want action
	}{
		{"create file", fsnotify.Event{Name: file, Op: fsnotify.Create}, upsert},
		{"write file", fsnotify.Event{Name: file, Op: fsnotify.Write}, upsert},
		{"remove file", fsnotify.Event{Name: filepath.Join(dir, "gone.txt"), Op: fsnotify.Remove}, remove},
		{"rename file", fsnotify.Event{Name: filepath.Join(dir, "old.txt"), Op: fsnotify.Rename}, remove},
		{"chmod", fsnotify.Event{Name: file, Op: fsnotify.Chmod}, ignore},
		{"directory", fsnotify.Event{Name: sub, Op: fsnotify.Create}, ignore},
		{"hidden", fsnotify.Event{Name: hidden, Op: fsnotify.Write}, ignore},
		{"vanished before stat", fsnotify.Event{Name: filepath.Join(dir, "tmp.txt"), Op: fsnotify.Create}, ignore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.ev))
		})
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("h"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	rec := &recorder{}
	w := New(dir, rec, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, w.Scan(context.Background()))

	ingested, _ := rec.snapshot()
	assert.Equal(t, []string{"a.txt"}, ingested)
}

func TestRun_IngestsAndForgets(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := New(dir, rec, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0o644))
	assert.Eventually(t, func() bool {
		ingested, _ := rec.snapshot()
		return len(ingested) > 0 && ingested[len(ingested)-1] == "notes.txt"
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		_, deleted := rec.snapshot()
		return len(deleted) == 1 && deleted[0] == "notes.txt"
	}, 3*time.Second, 10*time.Millisecond)
}
