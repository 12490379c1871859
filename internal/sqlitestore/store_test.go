package sqlitestore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/embeddings"
	"github.com/dream-ai/docchat/internal/memory"
	"github.com/dream-ai/docchat/internal/registry"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

var (
	_ vectorindex.Store       = (*Store)(nil)
	_ vectorindex.AtomicStore = (*Store)(nil)
	_ registry.Registry       = (*Files)(nil)
	_ memory.FactStore        = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "docchat.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func vec(v ...float32) pgvector.Vector { return pgvector.NewVector(v) }

func TestStore_ReplaceSearchDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.Replace(ctx, "a", []vectorindex.Record{
		{Filename: "a.txt", ChunkIndex: 0, Text: "north", Embedding: vec(1, 0, 0)},
		{Filename: "a.txt", ChunkIndex: 1, Text: "east", Embedding: vec(0, 1, 0), Position: documents.Position{Kind: "slide", Index: 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.Replace(ctx, "b", []vectorindex.Record{{Filename: "b.txt", Text: "up", Embedding: vec(0, 0.9, 0.1)}})
	require.NoError(t, err)

	hits, err := s.Search(ctx, vec(0, 1, 0), 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "east", hits[0].Text)
	assert.Equal(t, documents.Position{Kind: "slide", Index: 4}, hits[0].Position)
	assert.Equal(t, "b", hits[1].FileID)

	hits, err = s.Search(ctx, vec(0, 1, 0), 5, vectorindex.Scope{"b"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "up", hits[0].Text)

	n, err = s.Replace(ctx, "a", []vectorindex.Record{{Filename: "a.txt", Text: "west", Embedding: vec(-1, 0, 0)}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	count, err := s.Count(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_WithGateway(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	g := vectorindex.NewGateway(s, embeddings.NewHashEmbedder(64), vectorindex.Options{})

	n, err := g.Index(ctx, "cat", "cat.txt", []documents.Chunk{{Text: "猫在窗台上睡觉"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := g.Search(ctx, "窗台", 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "猫在窗台上睡觉", hits[0].Text)
}

func TestFiles_Registry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	reg := s.Files()
	now := time.Now().UTC()

	require.NoError(t, reg.Put(ctx, registry.File{ID: "old", Filename: "old.txt", Size: 1, UploadedAt: now.Add(-time.Hour)}))
	require.NoError(t, reg.Put(ctx, registry.File{ID: "new", Filename: "new.txt", Size: 2, UploadedAt: now, Family: "plain-text"}))
	require.NoError(t, reg.SetChunkCount(ctx, "new", 3))

	files, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "new", files[0].ID)
	assert.Equal(t, 3, files[0].ChunkCount)
	assert.True(t, files[0].UploadedAt.Equal(now))

	_, err = reg.Get(ctx, "missing")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.ErrorIs(t, reg.SetChunkCount(ctx, "missing", 1), registry.ErrNotFound)

	require.NoError(t, reg.Delete(ctx, "old"))
	require.NoError(t, reg.Delete(ctx, "old"))
	files, err = reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestStore_Facts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFact(ctx, memory.Fact{ID: uuid.New(), UserID: "u", Text: "likes tea", Embedding: vec(1, 0), CreatedAt: time.Now()}))
	require.NoError(t, s.AddFact(ctx, memory.Fact{ID: uuid.New(), UserID: "u", Text: "lives in Oslo", Embedding: vec(0, 1), CreatedAt: time.Now()}))

	facts, err := s.SearchFacts(ctx, "u", vec(0.1, 0.9), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"lives in Oslo"}, facts)

	facts, err = s.SearchFacts(ctx, "other", vec(1, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestVectorCodec(t *testing.T) {
	in := vec(1.5, -2, 0, 3.25)
	assert.Equal(t, in.Slice(), decodeVector(encodeVector(in)))
}
