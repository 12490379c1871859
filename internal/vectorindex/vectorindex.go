// Package vectorindex embeds document chunks and serves scoped similarity
// search over them.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/documents"
)

// ErrUnavailable marks failures of the embedding service or the store.
// Callers may retry; it is distinct from an empty result.
var ErrUnavailable = errors.New("vector index unavailable")

// RetrievalError reports a failed index operation.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("vector index %s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retryable reports whether the failure was an outage.
func (e *RetrievalError) Retryable() bool { return errors.Is(e.Err, ErrUnavailable) }

func unavailable(op string, err error) error {
	return &RetrievalError{Op: op, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
}

// Record is one stored chunk.
type Record struct {
	FileID     string
	Filename   string
	ChunkIndex int
	Text       string
	Position   documents.Position
	Embedding  pgvector.Vector
}

// Hit is one search result. Score is cosine similarity, higher is closer.
type Hit struct {
	FileID     string             `json:"file_id"`
	Filename   string             `json:"filename"`
	ChunkIndex int                `json:"chunk_index"`
	Text       string             `json:"text"`
	Position   documents.Position `json:"position"`
	Score      float64            `json:"score"`
}

// Scope restricts a search to a set of file ids. An empty scope is all files.
type Scope []string

// All reports whether the scope is unrestricted.
func (s Scope) All() bool { return len(s) == 0 }

// Contains reports whether fileID is searchable under s.
func (s Scope) Contains(fileID string) bool {
	return s.All() || slices.Contains(s, fileID)
}

// Store persists records. Implementations must be safe for concurrent use.
type Store interface {
	// Replace swaps the record set of fileID and returns the number of
	// records stored for it afterwards.
	Replace(ctx context.Context, fileID string, records []Record) (int, error)
	// Search returns up to topK records closest to vec, best first.
	Search(ctx context.Context, vec pgvector.Vector, topK int, scope Scope) ([]Hit, error)
	// Delete removes every record of fileID. Unknown ids are not an error.
	Delete(ctx context.Context, fileID string) error
	// Count returns the number of records stored for fileID.
	Count(ctx context.Context, fileID string) (int, error)
}

// AtomicStore is implemented by stores whose Replace is invisible to
// concurrent searches until it commits.
type AtomicStore interface {
	AtomicReplace() bool
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank orders hits by descending score keeping the incoming order for ties,
// drops hits outside scope and truncates to topK.
func Rank(hits []Hit, topK int, scope Scope) []Hit {
	out := hits[:0:0]
	for _, h := range hits {
		if scope.Contains(h.FileID) {
			out = append(out, h)
		}
	}
	slices.SortStableFunc(out, func(a, b Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
