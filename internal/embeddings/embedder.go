// Package embeddings turns text into vectors for the index and the memory store.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrUnavailable marks transport failures and 5xx/429 answers from the provider.
	ErrUnavailable = errors.New("embedding service unavailable")
)

// Embedder produces one vector per input text.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Limited paces calls to an Embedder and splits batches.
type Limited struct {
	next      Embedder
	limiter   *rate.Limiter
	batchSize int
}

// NewLimited wraps next. rps <= 0 disables pacing; batchSize <= 0 sends
// every batch in one call.
func NewLimited(next Embedder, rps float64, batchSize int) *Limited {
	l := &Limited{next: next, batchSize: batchSize}
	if rps > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return l
}

func (l *Limited) wait(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Embed waits for a token then embeds text.
func (l *Limited) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	if err := l.wait(ctx); err != nil {
		return pgvector.Vector{}, err
	}
	return l.next.Embed(ctx, text)
}

// EmbedBatch embeds texts in batches of at most batchSize, one token per batch.
func (l *Limited) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	size := l.batchSize
	if size <= 0 {
		size = len(texts)
	}
	out := make([]pgvector.Vector, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := l.next.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}
