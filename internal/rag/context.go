package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dream-ai/docchat/internal/llm"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

const systemPrompt = `You are a helpful assistant with long-term memory and access to the user's uploaded documents.

Answer from the document passages when the question is about them, and cite passages by their number, for example [2].
Do not invent facts that the passages do not support. If the passages do not contain the answer, say that the selected documents do not cover it.
For everyday or general knowledge questions you may answer directly.
Use what you remember about the user to personalise the answer.
Reply in the language of the question.`

const noPassages = "No passages from the selected documents matched this question."

// ContextBuilder builds context for LLM from retrieval results
type ContextBuilder struct {
	maxTokens    int
	historyTurns int
}

// NewContextBuilder creates a new context builder
func NewContextBuilder(maxTokens, historyTurns int) *ContextBuilder {
	if maxTokens <= 0 {
		maxTokens = 3000
	}
	if historyTurns < 0 {
		historyTurns = 0
	}
	return &ContextBuilder{maxTokens: maxTokens, historyTurns: historyTurns}
}

// BuildContext labels each passage "[n] filename (score 0.873)" in the
// order given and returns the text with the hits it used. Passages that
// would overflow the budget (about four characters per token, counted in
// runes) are dropped; the first is always kept.
func (cb *ContextBuilder) BuildContext(hits []vectorindex.Hit) (string, []vectorindex.Hit) {
	maxRunes := cb.maxTokens * 4
	var (
		b    strings.Builder
		used int
		kept []vectorindex.Hit
	)
	for i, h := range hits {
		passage := fmt.Sprintf("[%d] %s (score %.3f)\n%s\n", i+1, h.Filename, h.Score, strings.TrimSpace(h.Text))
		n := utf8.RuneCountInString(passage)
		if i > 0 && used+n > maxRunes {
			break
		}
		if i > 0 {
			b.WriteByte('\n')
			used++
		}
		b.WriteString(passage)
		used += n
		kept = append(kept, h)
	}
	return strings.TrimRight(b.String(), "\n"), kept
}

// BuildMessages assembles the chat sent to the completer: instructions and
// recalled facts, the most recent history, then passages and the question.
// It also returns the hits that made it into the prompt.
func (cb *ContextBuilder) BuildMessages(question string, hits []vectorindex.Hit, facts []string, history []llm.Message) ([]llm.Message, []vectorindex.Hit) {
	system := systemPrompt
	if len(facts) > 0 {
		system += "\n\n## What you remember about the user:\n- " + strings.Join(facts, "\n- ")
	}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}
	messages = append(messages, cb.recent(history)...)

	var user strings.Builder
	user.WriteString("## Document passages:\n")
	passages, kept := cb.BuildContext(hits)
	if passages != "" {
		user.WriteString(passages)
	} else {
		user.WriteString(noPassages)
	}
	user.WriteString("\n\n## Question:\n")
	user.WriteString(question)

	return append(messages, llm.Message{Role: llm.RoleUser, Content: user.String()}), kept
}

// recent keeps the last historyTurns user and assistant messages, starting
// at a user message.
func (cb *ContextBuilder) recent(history []llm.Message) []llm.Message {
	var kept []llm.Message
	for _, m := range history {
		if m.Role != llm.RoleUser && m.Role != llm.RoleAssistant {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > cb.historyTurns {
		kept = kept[len(kept)-cb.historyTurns:]
	}
	for len(kept) > 0 && kept[0].Role == llm.RoleAssistant {
		kept = kept[1:]
	}
	return kept
}
