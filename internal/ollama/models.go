package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

// ModelInfo represents information about an Ollama model
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// ListModelsResponse represents the response from listing models
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// chatModelPreference is tried in order when no configured model exists.
var chatModelPreference = []string{
	"qwen2.5",
	"llama3.2",
	"llama3.1",
	"mistral",
	"llama3",
}

// ModelSelector handles model selection logic
type ModelSelector struct {
	client *Client
}

// NewModelSelector creates a new model selector
func NewModelSelector(client *Client) *ModelSelector {
	return &ModelSelector{client: client}
}

// ListModels lists all available Ollama models
func (ms *ModelSelector) ListModels(ctx context.Context) ([]ModelInfo, error) {
	url := fmt.Sprintf("%s/api/tags", ms.client.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := ms.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// Resolve returns preferred when the server has it. Otherwise it picks the
// first installed chat model from the preference list, then the largest
// installed model. Embedding-only models are never picked.
func (ms *ModelSelector) Resolve(ctx context.Context, preferred string) (string, error) {
	models, err := ms.ListModels(ctx)
	if err != nil {
		return "", err
	}
	for _, m := range models {
		if preferred != "" && (m.Name == preferred || strings.TrimSuffix(m.Name, ":latest") == preferred) {
			return m.Name, nil
		}
	}

	models = slices.DeleteFunc(models, func(m ModelInfo) bool {
		return strings.Contains(strings.ToLower(m.Name), "embed")
	})
	if len(models) == 0 {
		return "", fmt.Errorf("no chat models available on %s", ms.client.baseURL)
	}

	for _, want := range chatModelPreference {
		for _, m := range models {
			if strings.Contains(strings.ToLower(m.Name), want) {
				return m.Name, nil
			}
		}
	}

	largest := slices.MaxFunc(models, func(a, b ModelInfo) int {
		switch {
		case a.Size < b.Size:
			return -1
		case a.Size > b.Size:
			return 1
		}
		return 0
	})
	return largest.Name, nil
}
