package db

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/memory"
)

// AddFact stores a memory fact
func (db *DB) AddFact(ctx context.Context, f memory.Fact) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO memory_facts (id, user_id, content, embedding, created_at)
		 VALUES ($1, $2, $3, $4::vector, $5)`,
		f.ID, f.UserID, f.Text, f.Embedding, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory fact: %w", err)
	}
	return nil
}

// SearchFacts finds the user's facts closest to vec
func (db *DB) SearchFacts(ctx context.Context, userID string, vec pgvector.Vector, limit int) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT content FROM memory_facts
		 WHERE user_id = $2
		 ORDER BY embedding <=> $1::vector, created_at DESC
		 LIMIT $3`,
		vec, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory facts: %w", err)
	}
	defer rows.Close()

	var facts []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan memory fact: %w", err)
		}
		facts = append(facts, text)
	}
	return facts, rows.Err()
}
