// Package registry is the catalogue of uploaded files.
package registry

import (
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned by Get and SetChunkCount for unknown ids.
var ErrNotFound = errors.New("file not found")

// File is one uploaded document. ChunkCount mirrors what the vector index
// holds for ID.
type File struct {
	ID         string    `json:"file_id"`
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
	ChunkCount int       `json:"chunks_count"`
	Family     string    `json:"family,omitempty"`
	Hash       string    `json:"sha256,omitempty"`
}

// Registry stores File records. Implementations must be safe for
// concurrent use.
type Registry interface {
	// Put inserts or overwrites f.
	Put(ctx context.Context, f File) error
	Get(ctx context.Context, id string) (*File, error)
	// List returns every file, newest first.
	List(ctx context.Context) ([]File, error)
	// Delete removes id. Unknown ids are not an error.
	Delete(ctx context.Context, id string) error
	SetChunkCount(ctx context.Context, id string, n int) error
}

// Filter returns the ids that are registered, deduplicated, in request
// order. Unknown ids are dropped.
func Filter(ctx context.Context, reg Registry, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	files, err := reg.List(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.ID] = true
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if known[id] && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out, nil
}

// SortNewestFirst orders files by upload time, newest first, then by id.
func SortNewestFirst(files []File) {
	slices.SortFunc(files, func(a, b File) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
