package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Registry.
type Memory struct {
	mu    sync.RWMutex
	files map[string]File
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]File)}
}

func (m *Memory) Put(_ context.Context, f File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (m *Memory) List(_ context.Context) ([]File, error) {
	m.mu.RLock()
	out := make([]File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

func (m *Memory) SetChunkCount(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}
	f.ChunkCount = n
	m.files[id] = f
	return nil
}
