package vectorindex

import (
	"context"
	"sync"

	"github.com/pgvector/pgvector-go"
)

// MemoryStore keeps records in process. Records are kept in insertion order.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AtomicReplace is true: the swap happens under one write lock.
func (m *MemoryStore) AtomicReplace() bool { return true }

func (m *MemoryStore) Replace(_ context.Context, fileID string, records []Record) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]Record, 0, len(m.records)+len(records))
	for _, r := range m.records {
		if r.FileID != fileID {
			next = append(next, r)
		}
	}
	for _, r := range records {
		r.FileID = fileID
		next = append(next, r)
	}
	m.records = next
	return len(records), nil
}

func (m *MemoryStore) Search(ctx context.Context, vec pgvector.Vector, topK int, scope Scope) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := vec.Slice()
	var hits []Hit
	for _, r := range m.records {
		if !scope.Contains(r.FileID) {
			continue
		}
		hits = append(hits, Hit{
			FileID:     r.FileID,
			Filename:   r.Filename,
			ChunkIndex: r.ChunkIndex,
			Text:       r.Text,
			Position:   r.Position,
			Score:      Cosine(q, r.Embedding.Slice()),
		})
	}
	return Rank(hits, topK, scope), nil
}

func (m *MemoryStore) Delete(_ context.Context, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.FileID != fileID {
			kept = append(kept, r)
		}
	}
	clear(m.records[len(kept):])
	m.records = kept
	return nil
}

func (m *MemoryStore) Count(_ context.Context, fileID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if r.FileID == fileID {
			n++
		}
	}
	return n, nil
}
