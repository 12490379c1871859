// Package qdrant is a REST client that keeps chunk vectors in a Qdrant
// collection. The collection uses cosine distance.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// pointNamespace derives point ids from file id, generation and chunk index.
var pointNamespace = uuid.MustParse("6f1d8c2e-5a43-4b7e-9d0a-3c2b1e4f5a60")

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Storage implements vectorindex.Store over the Qdrant HTTP API.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "docchat"
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// AtomicReplace is false: the upsert and the removal of the previous
// generation are two requests.
func (s *Storage) AtomicReplace() bool { return false }

// Init creates the collection and the file_id payload index if missing.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return fmt.Errorf("failed to inspect collection: %w", err)
	}
	if status == http.StatusNotFound {
		body := map[string]any{
			"vectors": map[string]any{"size": dimension, "distance": "Cosine"},
		}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	for _, field := range []string{"file_id", "gen"} {
		index := map[string]any{"field_name": field, "field_schema": "keyword"}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
			return fmt.Errorf("failed to create payload index on %s: %w", field, err)
		}
	}
	return nil
}

type payload struct {
	FileID     string             `json:"file_id"`
	Gen        string             `json:"gen,omitempty"`
	Filename   string             `json:"filename"`
	ChunkIndex int                `json:"chunk_index"`
	Text       string             `json:"text"`
	Position   documents.Position `json:"position"`
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

func fileFilter(ids ...string) map[string]any {
	match := map[string]any{"value": ids[0]}
	if len(ids) > 1 {
		match = map[string]any{"any": ids}
	}
	return map[string]any{
		"must": []map[string]any{{"key": "file_id", "match": match}},
	}
}

// genFilter matches the points of fileID in generation gen, or outside it
// when exclude is set.
func genFilter(fileID, gen string, exclude bool) map[string]any {
	f := fileFilter(fileID)
	cond := []map[string]any{{"key": "gen", "match": map[string]any{"value": gen}}}
	if exclude {
		f["must_not"] = cond
	} else {
		f["must"] = append(f["must"].([]map[string]any), cond...)
	}
	return f
}

func pointID(fileID, gen string, index int) string {
	return uuid.NewSHA1(pointNamespace, fmt.Appendf(nil, "%s:%s:%d", fileID, gen, index)).String()
}

// Replace writes records as a new generation of fileID and only then drops
// the older generations, so a failed upsert leaves the previous chunk set
// in place.
func (s *Storage) Replace(ctx context.Context, fileID string, records []vectorindex.Record) (int, error) {
	if len(records) == 0 {
		if err := s.Delete(ctx, fileID); err != nil {
			return 0, err
		}
		return 0, nil
	}

	gen := uuid.NewString()
	points := make([]point, len(records))
	for i, r := range records {
		points[i] = point{
			ID:     pointID(fileID, gen, i),
			Vector: r.Embedding.Slice(),
			Payload: payload{
				FileID:     fileID,
				Gen:        gen,
				Filename:   r.Filename,
				ChunkIndex: r.ChunkIndex,
				Text:       r.Text,
				Position:   r.Position,
			},
		}
	}
	body := map[string]any{"points": points}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
		if derr := s.deleteWhere(context.WithoutCancel(ctx), genFilter(fileID, gen, false)); derr != nil {
			err = errors.Join(err, derr)
		}
		return 0, fmt.Errorf("failed to upsert points: %w", err)
	}
	if err := s.deleteWhere(ctx, genFilter(fileID, gen, true)); err != nil {
		return 0, fmt.Errorf("failed to drop previous points: %w", err)
	}
	return s.Count(ctx, fileID)
}

func (s *Storage) Search(ctx context.Context, vec pgvector.Vector, topK int, scope vectorindex.Scope) ([]vectorindex.Hit, error) {
	if topK <= 0 {
		topK = vectorindex.DefaultTopK
	}
	req := map[string]any{
		"vector":       vec.Slice(),
		"limit":        topK,
		"with_payload": true,
	}
	if !scope.All() {
		req["filter"] = fileFilter(scope...)
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}
	hits := make([]vectorindex.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorindex.Hit{
			FileID:     r.Payload.FileID,
			Filename:   r.Payload.Filename,
			ChunkIndex: r.Payload.ChunkIndex,
			Text:       r.Payload.Text,
			Position:   r.Payload.Position,
			Score:      r.Score,
		})
	}
	return hits, nil
}

func (s *Storage) Delete(ctx context.Context, fileID string) error {
	return s.deleteWhere(ctx, fileFilter(fileID))
}

func (s *Storage) deleteWhere(ctx context.Context, filter map[string]any) error {
	body := map[string]any{"filter": filter}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

func (s *Storage) Count(ctx context.Context, fileID string) (int, error) {
	body := map[string]any{"filter": fileFilter(fileID), "exact": true}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), body, &resp); err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return resp.Result.Count, nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

// do sends body as JSON and decodes the reply into out. The status code is
// returned even when it signals an error.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
