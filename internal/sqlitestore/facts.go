package sqlitestore

import (
	"context"
	"fmt"
	"slices"

	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/memory"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

func (s *Store) AddFact(ctx context.Context, f memory.Fact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_facts (id, user_id, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
		f.ID.String(), f.UserID, f.Text, encodeVector(f.Embedding), f.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory fact: %w", err)
	}
	return nil
}

func (s *Store) SearchFacts(ctx context.Context, userID string, vec pgvector.Vector, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content, embedding FROM memory_facts WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to search memory facts: %w", err)
	}
	defer rows.Close()

	type scored struct {
		text  string
		score float64
	}
	q := vec.Slice()
	var all []scored
	for rows.Next() {
		var (
			text string
			emb  []byte
		)
		if err := rows.Scan(&text, &emb); err != nil {
			return nil, fmt.Errorf("failed to scan memory fact: %w", err)
		}
		all = append(all, scored{text: text, score: vectorindex.Cosine(q, decodeVector(emb))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, f := range all {
		out[i] = f.text
	}
	return out, nil
}
