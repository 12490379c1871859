package rag

import (
	"context"
	"fmt"

	"github.com/dream-ai/docchat/internal/registry"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// Searcher is the part of the vector index the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, scope vectorindex.Scope) ([]vectorindex.Hit, error)
}

// Retriever handles RAG retrieval using vector similarity search
type Retriever struct {
	searcher Searcher
	registry registry.Registry
	topK     int
}

// NewRetriever creates a new RAG retriever. A nil registry disables scope
// filtering.
func NewRetriever(searcher Searcher, reg registry.Registry, topK int) *Retriever {
	if topK <= 0 {
		topK = vectorindex.DefaultTopK
	}
	return &Retriever{searcher: searcher, registry: reg, topK: topK}
}

// Retrieve finds the passages most relevant to query. Requested ids that
// are not registered are ignored; if none of them are, nothing is searched
// and the result is empty. No ids means every file.
func (r *Retriever) Retrieve(ctx context.Context, query string, fileIDs []string) ([]vectorindex.Hit, error) {
	var scope vectorindex.Scope
	if len(fileIDs) > 0 {
		scope = fileIDs
		if r.registry != nil {
			known, err := registry.Filter(ctx, r.registry, fileIDs)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve file scope: %w", err)
			}
			scope = known
		}
		if len(scope) == 0 {
			return []vectorindex.Hit{}, nil
		}
	}
	return r.searcher.Search(ctx, query, r.topK, scope)
}
