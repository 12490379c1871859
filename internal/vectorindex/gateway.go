package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/embeddings"
)

// DefaultTopK is used when a search asks for zero results.
const DefaultTopK = 5

// Options configures a Gateway.
type Options struct {
	EmbedTimeout  time.Duration
	SearchTimeout time.Duration
	Logger        *slog.Logger
}

// Gateway embeds chunks into a Store and searches it.
type Gateway struct {
	store    Store
	embedder embeddings.Embedder
	opts     Options
	logger   *slog.Logger

	files *KeyedMutex
	// swap guards stores without transactional replace: Replace takes it
	// exclusively, Search shared.
	swap   sync.RWMutex
	atomic bool
}

// NewGateway creates a gateway over store.
func NewGateway(store Store, embedder embeddings.Embedder, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logger,
		files:    NewKeyedMutex(),
	}
	if a, ok := store.(AtomicStore); ok {
		g.atomic = a.AtomicReplace()
	}
	return g
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// embedError classifies an embedder failure.
func embedError(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if errors.Is(err, embeddings.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(op, err)
	}
	return &RetrievalError{Op: op, Err: err}
}

// Index embeds chunks and replaces everything stored under fileID. It
// returns the number of chunks stored. On error the previous chunk set is
// left in place.
func (g *Gateway) Index(ctx context.Context, fileID, filename string, chunks []documents.Chunk) (int, error) {
	if fileID == "" {
		return 0, &RetrievalError{Op: "index", Err: errors.New("file id is required")}
	}
	unlock := g.files.Lock(fileID)
	defer unlock()

	records := make([]Record, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		texts = append(texts, c.Text)
		records = append(records, Record{
			FileID:     fileID,
			Filename:   filename,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Position:   c.Position,
		})
	}

	if len(texts) > 0 {
		ectx, cancel := withTimeout(ctx, g.opts.EmbedTimeout)
		vecs, err := g.embedder.EmbedBatch(ectx, texts)
		cancel()
		if err != nil {
			return 0, embedError(ctx, "embed", err)
		}
		if len(vecs) != len(records) {
			return 0, &RetrievalError{Op: "embed", Err: fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(records))}
		}
		for i := range records {
			records[i].Embedding = vecs[i]
		}
	}

	if !g.atomic {
		g.swap.Lock()
		defer g.swap.Unlock()
	}
	n, err := g.store.Replace(ctx, fileID, records)
	if err != nil {
		return 0, unavailable("replace", err)
	}
	g.logger.Debug("indexed file", "file_id", fileID, "filename", filename, "chunks", n)
	return n, nil
}

// Search returns the topK chunks most similar to query within scope,
// ordered by descending score. No matches is an empty slice, not an error.
func (g *Gateway) Search(ctx context.Context, query string, topK int, scope Scope) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	ectx, cancel := withTimeout(ctx, g.opts.EmbedTimeout)
	vec, err := g.embedder.Embed(ectx, query)
	cancel()
	if err != nil {
		return nil, embedError(ctx, "embed query", err)
	}

	if !g.atomic {
		g.swap.RLock()
		defer g.swap.RUnlock()
	}
	sctx, cancel := withTimeout(ctx, g.opts.SearchTimeout)
	defer cancel()
	hits, err := g.store.Search(sctx, vec, topK, scope)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ctx.Err()
		}
		return nil, unavailable("search", err)
	}
	return Rank(hits, topK, scope), nil
}

// Delete removes all chunks of fileID. Deleting an unknown id succeeds.
func (g *Gateway) Delete(ctx context.Context, fileID string) error {
	unlock := g.files.Lock(fileID)
	defer unlock()
	if !g.atomic {
		g.swap.Lock()
		defer g.swap.Unlock()
	}
	if err := g.store.Delete(ctx, fileID); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Count returns the number of chunks stored for fileID.
func (g *Gateway) Count(ctx context.Context, fileID string) (int, error) {
	n, err := g.store.Count(ctx, fileID)
	if err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}
