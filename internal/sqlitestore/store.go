// Package sqlitestore keeps chunks, the file registry and memory facts in a
// single SQLite database. Similarity is computed in process.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/vectorindex"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL,
	family      TEXT NOT NULL DEFAULT '',
	sha256      TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	uploaded_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id     TEXT NOT NULL,
	filename    TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	content     TEXT NOT NULL,
	position    TEXT NOT NULL DEFAULT '{}',
	embedding   BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);

CREATE TABLE IF NOT EXISTS memory_facts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	embedding  BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_facts_user ON memory_facts(user_id, created_at);
`

// Store is a SQLite backed vector store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// one connection: writes and the search that follows them are serialised
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AtomicReplace is true: swaps run in one transaction on the only connection.
func (s *Store) AtomicReplace() bool { return true }

func (s *Store) Replace(ctx context.Context, fileID string, records []vectorindex.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (file_id, filename, chunk_index, content, position, embedding) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		pos, err := encodePosition(r.Position)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, fileID, r.Filename, r.ChunkIndex, r.Text, pos, encodeVector(r.Embedding)); err != nil {
			return 0, fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = ?`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit chunks: %w", err)
	}
	return n, nil
}

func (s *Store) Search(ctx context.Context, vec pgvector.Vector, topK int, scope vectorindex.Scope) ([]vectorindex.Hit, error) {
	query := `SELECT file_id, filename, chunk_index, content, position, embedding FROM chunks`
	var args []any
	if !scope.All() {
		query += ` WHERE file_id IN (?` + strings.Repeat(", ?", len(scope)-1) + `)`
		for _, id := range scope {
			args = append(args, id)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	defer rows.Close()

	q := vec.Slice()
	var hits []vectorindex.Hit
	for rows.Next() {
		var (
			h   vectorindex.Hit
			pos string
			emb []byte
		)
		if err := rows.Scan(&h.FileID, &h.Filename, &h.ChunkIndex, &h.Text, &pos, &emb); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		h.Position = decodePosition(pos)
		h.Score = vectorindex.Cosine(q, decodeVector(emb))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return vectorindex.Rank(hits, topK, scope), nil
}

func (s *Store) Delete(ctx context.Context, fileID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE file_id = ?`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// encodeVector packs v as little-endian float32s.
func encodeVector(v pgvector.Vector) []byte {
	s := v.Slice()
	buf := make([]byte, 4*len(s))
	for i, f := range s {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
