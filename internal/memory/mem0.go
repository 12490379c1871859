package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Mem0 talks to the Mem0 Platform REST API.
type Mem0 struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewMem0 creates a Mem0 client.
func NewMem0(baseURL, apiKey string) *Mem0 {
	if baseURL == "" {
		baseURL = "https://api.mem0.ai"
	}
	return &Mem0{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type mem0Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type mem0Memory struct {
	ID     string  `json:"id"`
	Memory string  `json:"memory"`
	Score  float64 `json:"score"`
}

func (m *Mem0) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("mem0 API error: %d - %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (m *Mem0) Recall(ctx context.Context, userID, query string, limit int) ([]string, error) {
	// search answers either a bare array or {"results": [...]}
	var raw json.RawMessage
	err := m.post(ctx, "/v1/memories/search/", map[string]any{
		"query":   query,
		"user_id": userID,
		"limit":   limit,
	}, &raw)
	if err != nil {
		return nil, err
	}

	var memories []mem0Memory
	if err := json.Unmarshal(raw, &memories); err != nil {
		var wrapped struct {
			Results []mem0Memory `json:"results"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode search results: %w", err)
		}
		memories = wrapped.Results
	}

	out := make([]string, 0, len(memories))
	for _, mem := range memories {
		out = append(out, mem.Memory)
	}
	return out, nil
}

func (m *Mem0) Remember(ctx context.Context, userID string, ex Exchange) error {
	return m.post(ctx, "/v1/memories/", map[string]any{
		"user_id": userID,
		"messages": []mem0Message{
			{Role: "user", Content: ex.Question},
			{Role: "assistant", Content: ex.Answer},
		},
	}, nil)
}
