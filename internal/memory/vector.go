package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/embeddings"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// maxFactRunes bounds each side of a stored exchange.
const maxFactRunes = 1000

// Fact is one stored memory.
type Fact struct {
	ID        uuid.UUID
	UserID    string
	Text      string
	Embedding pgvector.Vector
	CreatedAt time.Time
}

// FactStore persists facts and searches them within one user's namespace.
type FactStore interface {
	AddFact(ctx context.Context, f Fact) error
	SearchFacts(ctx context.Context, userID string, vec pgvector.Vector, limit int) ([]string, error)
}

// VectorMemory embeds exchanges and recalls them by similarity.
type VectorMemory struct {
	store    FactStore
	embedder embeddings.Embedder
}

// NewVectorMemory creates a vector backed memory.
func NewVectorMemory(store FactStore, embedder embeddings.Embedder) *VectorMemory {
	return &VectorMemory{store: store, embedder: embedder}
}

func (v *VectorMemory) Recall(ctx context.Context, userID, query string, limit int) ([]string, error) {
	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return v.store.SearchFacts(ctx, userID, vec, limit)
}

func (v *VectorMemory) Remember(ctx context.Context, userID string, ex Exchange) error {
	text := FactText(ex)
	vec, err := v.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed fact: %w", err)
	}
	return v.store.AddFact(ctx, Fact{
		ID:        uuid.New(),
		UserID:    userID,
		Text:      text,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	})
}

// FactText renders an exchange as a single fact.
func FactText(ex Exchange) string {
	return fmt.Sprintf("User asked: %s\nAssistant answered: %s", truncate(ex.Question), truncate(ex.Answer))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxFactRunes {
		return s
	}
	return string(r[:maxFactRunes]) + "…"
}

// MemoryFactStore keeps facts in process.
type MemoryFactStore struct {
	mu    sync.RWMutex
	facts map[string][]Fact
}

// NewMemoryFactStore creates an empty store.
func NewMemoryFactStore() *MemoryFactStore {
	return &MemoryFactStore{facts: make(map[string][]Fact)}
}

func (m *MemoryFactStore) AddFact(_ context.Context, f Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[f.UserID] = append(m.facts[f.UserID], f)
	return nil
}

func (m *MemoryFactStore) SearchFacts(_ context.Context, userID string, vec pgvector.Vector, limit int) ([]string, error) {
	m.mu.RLock()
	facts := slices.Clone(m.facts[userID])
	m.mu.RUnlock()

	type scored struct {
		text  string
		score float64
	}
	q := vec.Slice()
	ranked := make([]scored, len(facts))
	for i, f := range facts {
		ranked[i] = scored{text: f.Text, score: vectorindex.Cosine(q, f.Embedding.Slice())}
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, s := range ranked {
		out[i] = s.text
	}
	return out, nil
}
