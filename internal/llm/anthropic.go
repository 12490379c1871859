package llm

import (
	"context"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic streams from the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
	opts   Options
}

func NewAnthropic(apiKey, baseURL, model string, opts Options) *Anthropic {
	reqOpts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, anthropicopt.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...), model: model, opts: opts}
}

func (a *Anthropic) Name() string { return "anthropic/" + a.model }

func (a *Anthropic) params(messages []Message) (anthropic.MessageNewParams, error) {
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, errors.New("conversation has no user turn")
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: int64(a.opts.MaxTokens),
	}
	if system != "" {
		p.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if a.opts.Temperature > 0 {
		p.Temperature = anthropic.Float(float64(a.opts.Temperature))
	}
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == RoleAssistant {
			p.Messages = append(p.Messages, anthropic.NewAssistantMessage(block))
		} else {
			p.Messages = append(p.Messages, anthropic.NewUserMessage(block))
		}
	}
	return p, nil
}

func (a *Anthropic) Stream(ctx context.Context, messages []Message, onDelta func(string) error) error {
	params, err := a.params(messages)
	if err != nil {
		return err
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
			if err := onDelta(delta.Text); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("completion stream failed: %w", err)
	}
	return nil
}
