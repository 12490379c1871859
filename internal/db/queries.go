package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/vectorindex"
)

const insertChunkSQL = `INSERT INTO chunks (file_id, filename, chunk_index, content, position, embedding)
	 VALUES ($1, $2, $3, $4, $5::jsonb, $6::vector)`

// AtomicReplace is true: chunk swaps run in one transaction.
func (db *DB) AtomicReplace() bool { return true }

// Replace deletes the chunks of fileID and inserts records in one
// transaction, returning the committed count.
func (db *DB) Replace(ctx context.Context, fileID string, records []vectorindex.Record) (int, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	if len(records) > 0 {
		batch := &pgx.Batch{}
		for _, r := range records {
			pos, err := positionJSON(r.Position)
			if err != nil {
				return 0, err
			}
			batch.Queue(insertChunkSQL, fileID, r.Filename, r.ChunkIndex, r.Text, pos, r.Embedding)
		}
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < len(records); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return 0, fmt.Errorf("failed to insert chunk %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return 0, fmt.Errorf("failed to insert chunks: %w", err)
		}
	}

	var n int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = $1`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return n, nil
}

const (
	searchAllSQL = `SELECT file_id, filename, chunk_index, content, position, 1 - (embedding <=> $1::vector) AS score
	 FROM chunks
	 ORDER BY embedding <=> $1::vector, id
	 LIMIT $2`

	// HNSW yields only ef_search candidates before the file filter runs,
	// so scoped searches rank the filtered rows exactly.
	searchScopedSQL = `WITH scoped AS MATERIALIZED (
		SELECT id, file_id, filename, chunk_index, content, position, embedding <=> $1::vector AS distance
		FROM chunks
		WHERE file_id = ANY($2::text[])
	 )
	 SELECT file_id, filename, chunk_index, content, position, 1 - distance AS score
	 FROM scoped
	 ORDER BY distance, id
	 LIMIT $3`
)

// searchQuery picks the statement and arguments for scope.
func searchQuery(vec pgvector.Vector, topK int, scope vectorindex.Scope) (string, []any) {
	if scope.All() {
		return searchAllSQL, []any{vec, topK}
	}
	return searchScopedSQL, []any{vec, []string(scope), topK}
}

// Search finds similar chunks using cosine distance, restricted to scope.
func (db *DB) Search(ctx context.Context, vec pgvector.Vector, topK int, scope vectorindex.Scope) ([]vectorindex.Hit, error) {
	query, args := searchQuery(vec, topK, scope)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	var hits []vectorindex.Hit
	for rows.Next() {
		var h vectorindex.Hit
		var pos []byte
		if err := rows.Scan(&h.FileID, &h.Filename, &h.ChunkIndex, &h.Text, &pos, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		h.Position = parsePosition(pos)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Delete removes every chunk of fileID.
func (db *DB) Delete(ctx context.Context, fileID string) error {
	if _, err := db.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// Count returns the number of chunks stored for fileID.
func (db *DB) Count(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = $1`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
