package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/embeddings"
	"github.com/dream-ai/docchat/internal/registry"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	svc      *Service
	gateway  *vectorindex.Gateway
	registry registry.Registry
	dir      string
}

func newHarness(t *testing.T, emb embeddings.Embedder, reg registry.Registry) *harness {
	t.Helper()
	if emb == nil {
		emb = embeddings.NewHashEmbedder(64)
	}
	if reg == nil {
		reg = registry.NewMemory()
	}
	dir := t.TempDir()
	p := documents.NewProcessor(documents.Options{ChunkSize: 200, ChunkOverlap: 20, MaxFileSize: 1 << 20, Logger: discard})
	g := vectorindex.NewGateway(vectorindex.NewMemoryStore(), emb, vectorindex.Options{Logger: discard})
	svc := NewService(p, g, reg, Options{UploadDir: filepath.Join(dir, "uploads"), Logger: discard})
	return &harness{svc: svc, gateway: g, registry: reg, dir: filepath.Join(dir, "uploads")}
}

func (h *harness) stored(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUpload_TextIsRecoverable(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	f, err := h.svc.Upload(ctx, "notes/猫.txt", []byte("猫在窗台上睡觉"))
	require.NoError(t, err)
	assert.Equal(t, "猫.txt", f.Filename)
	assert.Equal(t, 1, f.ChunkCount)
	assert.Equal(t, "plain-text", f.Family)
	assert.Len(t, f.Hash, 64)
	assert.Equal(t, []string{f.ID}, h.stored(t))

	hits, err := h.gateway.Search(ctx, "窗台", 5, vectorindex.Scope{f.ID})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "猫在窗台上睡觉", hits[0].Text)

	files, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, f.ID, files[0].ID)
}

func TestUpload_EmptyFileRegistersNothing(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, "empty.txt", nil)
	require.ErrorIs(t, err, documents.ErrEmptyFile)
	assert.True(t, IsValidation(err))

	files, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, h.stored(t))
}

type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, string) (pgvector.Vector, error) {
	return pgvector.Vector{}, embeddings.ErrUnavailable
}

func (downEmbedder) EmbedBatch(context.Context, []string) ([]pgvector.Vector, error) {
	return nil, embeddings.ErrUnavailable
}

func TestUpload_IndexOutage(t *testing.T) {
	h := newHarness(t, downEmbedder{}, nil)

	_, err := h.svc.Upload(context.Background(), "a.txt", []byte("hello"))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))

	files, err := h.svc.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, h.stored(t))
}

// brokenRegistry fails every write.
type brokenRegistry struct {
	*registry.Memory
}

func (brokenRegistry) Put(context.Context, registry.File) error {
	return errors.New("disk full")
}

func TestUpload_RegistryFailureRollsBackIndex(t *testing.T) {
	h := newHarness(t, nil, brokenRegistry{registry.NewMemory()})
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, "a.txt", []byte("lonely words"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	hits, err := h.gateway.Search(ctx, "lonely words", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, h.stored(t))
}

func TestUpload_ProcessingFailure(t *testing.T) {
	h := newHarness(t, nil, nil)

	_, err := h.svc.Upload(context.Background(), "broken.pdf", []byte("not a pdf at all"))
	var pe *documents.ProcessingError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "broken.pdf", pe.Filename)
	assert.False(t, IsValidation(err))
	assert.Empty(t, h.stored(t))
}

func TestReindexAndDelete(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	f, err := h.svc.Upload(ctx, "fox.txt", []byte(text))
	require.NoError(t, err)
	require.Greater(t, f.ChunkCount, 1)

	again, err := h.svc.Reindex(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID)
	assert.Equal(t, f.ChunkCount, again.ChunkCount)

	count, err := h.gateway.Count(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ChunkCount, count)

	_, err = h.svc.Reindex(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, h.svc.Delete(ctx, f.ID))
	require.NoError(t, h.svc.Delete(ctx, f.ID))
	hits, err := h.gateway.Search(ctx, "quick brown fox", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, h.stored(t))
}

func TestIngestPath(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "report.md")

	require.NoError(t, os.WriteFile(path, []byte("# Report\n\nfirst draft"), 0o644))
	first, changed, err := h.svc.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)

	same, changed, err := h.svc.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first.ID, same.ID)

	require.NoError(t, os.WriteFile(path, []byte("# Report\n\nfinal version"), 0o644))
	updated, changed, err := h.svc.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, first.ID, updated.ID)
	assert.NotEqual(t, first.Hash, updated.Hash)

	files, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	hits, err := h.gateway.Search(ctx, "final version", 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Text, "final version")

	stored, err := os.ReadFile(filepath.Join(h.dir, first.ID))
	require.NoError(t, err)
	assert.Contains(t, string(stored), "final version")
}

// pausingIndex holds Index calls after the chunks are stored until
// release is closed.
type pausingIndex struct {
	*vectorindex.Gateway
	indexed chan string
	release chan struct{}
}

func (p *pausingIndex) Index(ctx context.Context, fileID, filename string, chunks []documents.Chunk) (int, error) {
	n, err := p.Gateway.Index(ctx, fileID, filename, chunks)
	p.indexed <- fileID
	<-p.release
	return n, err
}

func TestDeleteWaitsForInFlightUpload(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	idx := &pausingIndex{Gateway: h.gateway, indexed: make(chan string, 1), release: make(chan struct{})}
	p := documents.NewProcessor(documents.Options{ChunkSize: 200, ChunkOverlap: 20, MaxFileSize: 1 << 20, Logger: discard})
	svc := NewService(p, idx, h.registry, Options{UploadDir: h.dir, Logger: discard})

	uploaded := make(chan error, 1)
	go func() {
		_, err := svc.Upload(ctx, "race.txt", []byte("chunks that must not outlive their file"))
		uploaded <- err
	}()
	id := <-idx.indexed

	deleted := make(chan error, 1)
	go func() { deleted <- svc.Delete(ctx, id) }()

	select {
	case <-deleted:
		t.Fatal("delete finished while the upload still held the file")
	case <-time.After(50 * time.Millisecond):
	}

	close(idx.release)
	require.NoError(t, <-uploaded)
	require.NoError(t, <-deleted)

	_, err := h.registry.Get(ctx, id)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	count, err := h.gateway.Count(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, h.stored(t))
}

func TestIngestExistingFileGoneDropsChunks(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	f := registry.File{ID: "gone", Filename: "gone.txt", Size: 5}
	_, err := h.svc.ingest(ctx, f, []byte("ghost"), true)
	require.ErrorIs(t, err, registry.ErrNotFound)

	count, err := h.gateway.Count(ctx, "gone")
	require.NoError(t, err)
	assert.Zero(t, count)
	files, err := h.svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestIngestPathRepairsLostChunks(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("windowsill notes"), 0o644))

	first, _, err := h.svc.IngestPath(ctx, path)
	require.NoError(t, err)
	require.NoError(t, h.gateway.Delete(ctx, first.ID))

	again, changed, err := h.svc.IngestPath(ctx, path)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, first.ID, again.ID)

	count, err := h.gateway.Count(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, again.ChunkCount, count)
}

func TestDeleteByName(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	_, err := h.svc.Upload(ctx, "dup.txt", []byte("one"))
	require.NoError(t, err)
	_, err = h.svc.Upload(ctx, "dup.txt", []byte("two"))
	require.NoError(t, err)
	keep, err := h.svc.Upload(ctx, "keep.txt", []byte("three"))
	require.NoError(t, err)

	n, err := h.svc.DeleteByName(ctx, "dup.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	files, err := h.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, keep.ID, files[0].ID)
}

func TestCleanName(t *testing.T) {
	tests := map[string]string{
		"a.txt":                "a.txt",
		"dir/b.pdf":            "b.pdf",
		`C:\Users\x\c.docx`:    "c.docx",
		"../../etc/passwd.txt": "passwd.txt",
		"":                     "",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanName(in), in)
	}
}
