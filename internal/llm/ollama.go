package llm

import (
	"context"

	"github.com/dream-ai/docchat/internal/ollama"
)

// Ollama streams from a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
	opts   Options
}

func NewOllama(client *ollama.Client, model string, opts Options) *Ollama {
	return &Ollama{client: client, model: model, opts: opts}
}

func (o *Ollama) Name() string { return "ollama/" + o.model }

func (o *Ollama) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	req := &ollama.ChatRequest{Model: o.model}
	for _, m := range messages {
		req.Messages = append(req.Messages, ollama.Message{Role: m.Role, Content: m.Content})
	}
	options := map[string]any{}
	if o.opts.Temperature > 0 {
		options["temperature"] = o.opts.Temperature
	}
	if o.opts.MaxTokens > 0 {
		options["num_predict"] = o.opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}
	return o.client.ChatStream(ctx, req, onDelta)
}
