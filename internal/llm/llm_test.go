package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dream-ai/docchat/internal/ollama"
)

var (
	_ Completer = (*OpenAI)(nil)
	_ Completer = (*Anthropic)(nil)
	_ Completer = (*Ollama)(nil)
)

func conversation() []Message {
	return []Message{
		{Role: RoleSystem, Content: "answer from the passages"},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleUser, Content: "where is the cat?"},
	}
}

func TestSplitSystem(t *testing.T) {
	system, turns := splitSystem([]Message{
		{Role: RoleSystem, Content: "one"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleSystem, Content: "two"},
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleAssistant, Content: "c"},
		{Role: "tool", Content: "d"},
	})
	assert.Equal(t, "one\n\ntwo", system)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "a\n\nb"},
		{Role: RoleAssistant, Content: "c"},
		{Role: RoleUser, Content: "d"},
	}, turns)

	_, turns = splitSystem([]Message{
		{Role: RoleAssistant, Content: "greeting"},
		{Role: RoleAssistant, Content: "still greeting"},
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer"},
	})
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer"},
	}, turns)
}

func TestOpenAI_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req struct {
			Model    string    `json:"model"`
			Stream   bool      `json:"stream"`
			Messages []Message `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		assert.Equal(t, "gpt-test", req.Model)
		assert.Len(t, req.Messages, 4)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"The cat", " is on", " the sill."} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewOpenAI("key", srv.URL, "gpt-test", Options{})
	out, err := Complete(context.Background(), c, conversation())
	require.NoError(t, err)
	assert.Equal(t, "The cat is on the sill.", out)
	assert.Equal(t, "openai/gpt-test", c.Name())
}

func TestOpenAI_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	err := NewOpenAI("key", srv.URL, "gpt-test", Options{}).Stream(context.Background(), conversation(), func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestAnthropic_Params(t *testing.T) {
	a := NewAnthropic("key", "", "claude-test", Options{Temperature: 0.2})
	p, err := a.params(conversation())
	require.NoError(t, err)
	assert.Equal(t, int64(1024), p.MaxTokens)
	require.Len(t, p.System, 1)
	assert.Equal(t, "answer from the passages", p.System[0].Text)
	assert.Len(t, p.Messages, 3)

	_, err = a.params([]Message{{Role: RoleSystem, Content: "only system"}})
	assert.Error(t, err)
}

func TestAnthropic_ParamsLeadingAssistantTurn(t *testing.T) {
	a := NewAnthropic("key", "", "", Options{})
	p, err := a.params([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleAssistant, Content: "Hello! How can I help?"},
		{Role: RoleUser, Content: "where is the cat?"},
	})
	require.NoError(t, err)
	require.Len(t, p.Messages, 1)
	assert.EqualValues(t, "user", p.Messages[0].Role)
}

func TestAnthropic_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"On the "}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"windowsill."}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, e := range events {
			var head struct{ Type string }
			_ = json.Unmarshal([]byte(e), &head)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, e)
		}
	}))
	defer srv.Close()

	a := NewAnthropic("key", srv.URL, "claude-test", Options{})
	out, err := Complete(context.Background(), a, conversation())
	require.NoError(t, err)
	assert.Equal(t, "On the windowsill.", out)
}

func TestOllama_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollama.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5", req.Model)
		assert.EqualValues(t, 0.5, req.Options["temperature"])
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"meow"},"done":false}`)
		fmt.Fprintln(w, `{"done":true}`)
	}))
	defer srv.Close()

	o := NewOllama(ollama.NewClient(srv.URL), "qwen2.5", Options{Temperature: 0.5})
	out, err := Complete(context.Background(), o, conversation())
	require.NoError(t, err)
	assert.Equal(t, "meow", out)
}

func TestComplete_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Complete(context.Background(), failing{err: boom}, nil)
	assert.ErrorIs(t, err, boom)
}

type failing struct{ err error }

func (failing) Name() string { return "failing" }
func (f failing) Stream(context.Context, []Message, func(string) error) error {
	return f.err
}
