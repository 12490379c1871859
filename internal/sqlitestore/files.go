package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/registry"
)

// Files is the registry view of the store.
type Files struct {
	s *Store
}

// Files returns the file registry.
func (s *Store) Files() *Files {
	return &Files{s: s}
}

const fileColumns = `id, filename, size_bytes, family, sha256, chunk_count, uploaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*registry.File, error) {
	var (
		f  registry.File
		ns int64
	)
	if err := row.Scan(&f.ID, &f.Filename, &f.Size, &f.Family, &f.Hash, &f.ChunkCount, &ns); err != nil {
		return nil, err
	}
	f.UploadedAt = time.Unix(0, ns).UTC()
	return &f, nil
}

func (r *Files) Put(ctx context.Context, f registry.File) error {
	_, err := r.s.db.ExecContext(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   filename = excluded.filename, size_bytes = excluded.size_bytes,
		   family = excluded.family, sha256 = excluded.sha256,
		   chunk_count = excluded.chunk_count, uploaded_at = excluded.uploaded_at`,
		f.ID, f.Filename, f.Size, f.Family, f.Hash, f.ChunkCount, f.UploadedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}
	return nil
}

func (r *Files) Get(ctx context.Context, id string) (*registry.File, error) {
	f, err := scanFile(r.s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

func (r *Files) List(ctx context.Context) ([]registry.File, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY uploaded_at DESC, id`)
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

func (r *Files) Delete(ctx context.Context, id string) error {
	if _, err := r.s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (r *Files) SetChunkCount(ctx context.Context, id string, n int) error {
	res, err := r.s.db.ExecContext(ctx, `UPDATE files SET chunk_count = ? WHERE id = ?`, n, id)
	if err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func encodePosition(p documents.Position) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode position: %w", err)
	}
	return string(b), nil
}

func decodePosition(raw string) documents.Position {
	var p documents.Position
	_ = json.Unmarshal([]byte(raw), &p)
	return p
}
