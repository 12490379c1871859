package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dream-ai/docchat/internal/registry"
)

// Files is the registry view of the database.
type Files struct {
	db *DB
}

// Files returns the file registry backed by the files table.
func (db *DB) Files() *Files {
	return &Files{db: db}
}

const fileColumns = `id, filename, size_bytes, family, sha256, chunk_count, uploaded_at`

func scanFile(row pgx.Row) (*registry.File, error) {
	var f registry.File
	if err := row.Scan(&f.ID, &f.Filename, &f.Size, &f.Family, &f.Hash, &f.ChunkCount, &f.UploadedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// Put creates or replaces a file record
func (r *Files) Put(ctx context.Context, f registry.File) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO files (`+fileColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   filename = EXCLUDED.filename, size_bytes = EXCLUDED.size_bytes,
		   family = EXCLUDED.family, sha256 = EXCLUDED.sha256,
		   chunk_count = EXCLUDED.chunk_count, uploaded_at = EXCLUDED.uploaded_at`,
		f.ID, f.Filename, f.Size, f.Family, f.Hash, f.ChunkCount, f.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

// Get retrieves a file by id
func (r *Files) Get(ctx context.Context, id string) (*registry.File, error) {
	f, err := scanFile(r.db.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// List retrieves all files, newest first
func (r *Files) List(ctx context.Context) ([]registry.File, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+fileColumns+` FROM files ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()

	files := []registry.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

// Delete removes a file record. Chunks are removed through the vector index.
func (r *Files) Delete(ctx context.Context, id string) error {
	if _, err := r.db.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// SetChunkCount records the stored chunk count for id
func (r *Files) SetChunkCount(ctx context.Context, id string, n int) error {
	tag, err := r.db.pool.Exec(ctx, `UPDATE files SET chunk_count = $2 WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrNotFound
	}
	return nil
}
