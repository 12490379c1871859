package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/embeddings"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingBackend struct{}

func (failingBackend) Recall(context.Context, string, string, int) ([]string, error) {
	return nil, errors.New("memory service down")
}

func (failingBackend) Remember(context.Context, string, Exchange) error {
	return errors.New("memory service down")
}

type slowBackend struct{}

func (slowBackend) Recall(ctx context.Context, _, _ string, _ int) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowBackend) Remember(ctx context.Context, _ string, _ Exchange) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestGateway_DegradesFailures(t *testing.T) {
	g := NewGateway(failingBackend{}, 3, time.Second, testLogger())
	assert.Nil(t, g.Recall(context.Background(), "u", "q"))
	g.Remember(context.Background(), "u", Exchange{Question: "q", Answer: "a"})
}

func TestGateway_TimeoutBoundsCalls(t *testing.T) {
	g := NewGateway(slowBackend{}, 3, 20*time.Millisecond, testLogger())

	start := time.Now()
	assert.Nil(t, g.Recall(context.Background(), "u", "q"))
	g.Remember(context.Background(), "u", Exchange{Question: "q", Answer: "a"})
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestVectorMemory_RecallIsPerUser(t *testing.T) {
	ctx := context.Background()
	vm := NewVectorMemory(NewMemoryFactStore(), embeddings.NewHashEmbedder(128))
	g := NewGateway(vm, 2, time.Second, testLogger())

	g.Remember(ctx, "alice", Exchange{Question: "what is my cat called", Answer: "your cat is called Miso"})
	g.Remember(ctx, "alice", Exchange{Question: "where do I work", Answer: "you work at the harbour office"})
	g.Remember(ctx, "alice", Exchange{Question: "favourite colour", Answer: "teal"})
	g.Remember(ctx, "bob", Exchange{Question: "what is my cat called", Answer: "your cat is called Pixel"})

	facts := g.Recall(ctx, "alice", "my cat")
	require.Len(t, facts, 2)
	assert.Contains(t, facts[0], "Miso")
	for _, f := range facts {
		assert.NotContains(t, f, "Pixel")
	}

	assert.Empty(t, g.Recall(ctx, "carol", "my cat"))
}

func TestGateway_EmptyUserUsesDefault(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFactStore()
	g := NewGateway(NewVectorMemory(store, embeddings.NewHashEmbedder(64)), 5, 0, testLogger())

	g.Remember(ctx, "", Exchange{Question: "hello there", Answer: "hi"})
	assert.Len(t, store.facts[DefaultUser], 1)
	assert.Len(t, g.Recall(ctx, "  ", "hello"), 1)
}

func TestGateway_SkipsIncompleteExchange(t *testing.T) {
	store := NewMemoryFactStore()
	g := NewGateway(NewVectorMemory(store, embeddings.NewHashEmbedder(64)), 5, 0, testLogger())

	g.Remember(context.Background(), "u", Exchange{Question: "q", Answer: "  "})
	assert.Empty(t, store.facts["u"])
}

func TestFactText_Truncates(t *testing.T) {
	text := FactText(Exchange{Question: "q", Answer: strings.Repeat("猫", maxFactRunes+10)})
	assert.True(t, strings.HasSuffix(text, "…"))
	assert.Equal(t, maxFactRunes, strings.Count(text, "猫"))
}

func TestMem0_RoundTrip(t *testing.T) {
	var added map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token key-1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v1/memories/":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&added))
			_, _ = w.Write([]byte(`[{"id":"m1","event":"ADD"}]`))
		case "/v1/memories/search/":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "u1", body["user_id"])
			assert.Equal(t, float64(3), body["limit"])
			_, _ = w.Write([]byte(`[{"id":"m1","memory":"Likes green tea","score":0.9}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewMem0(srv.URL+"/", "key-1")
	require.NoError(t, m.Remember(context.Background(), "u1", Exchange{Question: "drink?", Answer: "green tea"}))
	assert.Equal(t, "u1", added["user_id"])
	require.Len(t, added["messages"], 2)

	facts, err := m.Recall(context.Background(), "u1", "drinks", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Likes green tea"}, facts)
}

func TestMem0_WrappedResultsAndErrors(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "nope", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"memory":"a"},{"memory":"b"}]}`))
	}))
	defer srv.Close()

	m := NewMem0(srv.URL, "k")
	facts, err := m.Recall(context.Background(), "u", "q", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, facts)

	fail.Store(true)
	_, err = m.Recall(context.Background(), "u", "q", 5)
	assert.ErrorContains(t, err, "401")
}
