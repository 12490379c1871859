// Package llm streams chat completions from OpenAI, Anthropic or Ollama
// behind one interface.
package llm

import (
	"context"
	"strings"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tune generation. Zero values leave provider defaults.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Completer streams the assistant reply to messages. onDelta receives each
// text fragment in order; returning an error from it stops generation and
// Stream returns that error. Cancelling ctx aborts the upstream request.
type Completer interface {
	Name() string
	Stream(ctx context.Context, messages []Message, onDelta func(string) error) error
}

// Complete collects a full reply.
func Complete(ctx context.Context, c Completer, messages []Message) (string, error) {
	var b strings.Builder
	err := c.Stream(ctx, messages, func(s string) error {
		b.WriteString(s)
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// splitSystem separates system prompts from the conversation and merges
// consecutive turns of the same role. Assistant turns before the first
// user turn are dropped so the conversation always opens with the user.
func splitSystem(messages []Message) (string, []Message) {
	var (
		system []string
		turns  []Message
	)
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := RoleUser
		if m.Role == RoleAssistant {
			role = RoleAssistant
		}
		if role == RoleAssistant && len(turns) == 0 {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content += "\n\n" + m.Content
			continue
		}
		turns = append(turns, Message{Role: role, Content: m.Content})
	}
	return strings.Join(system, "\n\n"), turns
}
