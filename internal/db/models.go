package db

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/dream-ai/docchat/internal/documents"
)

//go:embed schema.sql
var schemaSQL string

// positionJSON encodes chunk position metadata for the jsonb column.
func positionJSON(p documents.Position) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode position: %w", err)
	}
	return string(b), nil
}

func parsePosition(raw []byte) documents.Position {
	var p documents.Position
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &p)
	}
	return p
}
