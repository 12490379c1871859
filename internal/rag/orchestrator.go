// Package rag answers questions over indexed documents: it retrieves
// passages, recalls user memory, composes the prompt and streams the
// completion as events.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dream-ai/docchat/internal/llm"
	"github.com/dream-ai/docchat/internal/memory"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// ErrValidation rejects a request before any work starts.
var ErrValidation = errors.New("invalid query")

// GenerationError is a failure of the completion engine.
type GenerationError struct {
	Completer string
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation with %s failed: %v", e.Completer, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// State is the lifecycle stage of one query.
type State int

const (
	StateReceived State = iota
	StateRetrieving
	StateComposing
	StateStreaming
	StateCompleted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRetrieving:
		return "retrieving"
	case StateComposing:
		return "composing"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Request is one question.
type Request struct {
	Message string `json:"message"`
	// FileIDs restricts retrieval. Empty means every file.
	FileIDs     []string      `json:"file_ids"`
	UserID      string        `json:"user_id"`
	ChatHistory []llm.Message `json:"chat_history"`
}

// Answer is the non-streaming result.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

// Memory is the part of the memory gateway the orchestrator needs.
type Memory interface {
	Recall(ctx context.Context, userID, query string) []string
	Remember(ctx context.Context, userID string, ex memory.Exchange)
}

type Options struct {
	GenerationTimeout time.Duration
	Logger            *slog.Logger
}

// Orchestrator runs queries.
type Orchestrator struct {
	retriever *Retriever
	memory    Memory
	completer llm.Completer
	context   *ContextBuilder
	opts      Options
	logger    *slog.Logger

	pending sync.WaitGroup
}

func NewOrchestrator(retriever *Retriever, mem Memory, completer llm.Completer, cb *ContextBuilder, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if mem == nil {
		mem = memory.NewGateway(nil, 0, 0, logger)
	}
	if cb == nil {
		cb = NewContextBuilder(0, 0)
	}
	return &Orchestrator{
		retriever: retriever,
		memory:    mem,
		completer: completer,
		context:   cb,
		opts:      opts,
		logger:    logger,
	}
}

// Wait blocks until background memory writes have finished.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// clientError marks a failure to deliver an event.
type clientError struct{ err error }

func (e *clientError) Error() string { return "event delivery failed: " + e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

// run tracks one query through its states.
type run struct {
	id     string
	state  State
	start  time.Time
	logger *slog.Logger
}

func (r *run) to(s State) {
	r.logger.Debug("query state", "query_id", r.id, "from", r.state, "to", s)
	r.state = s
}

// Stream answers req, passing events to emit as they are produced: one
// sources event, then content deltas. A failure emits a single error event
// and returns the error. When ctx is cancelled nothing more is emitted,
// nothing is remembered and ctx.Err() is returned.
func (o *Orchestrator) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	r := &run{id: uuid.NewString(), state: StateReceived, start: time.Now(), logger: o.logger}

	question := strings.TrimSpace(req.Message)
	if question == "" {
		return fmt.Errorf("%w: message is empty", ErrValidation)
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = memory.DefaultUser
	}

	r.to(StateRetrieving)
	var (
		hits  []vectorindex.Hit
		facts []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = o.retriever.Retrieve(gctx, question, req.FileIDs)
		return err
	})
	g.Go(func() error {
		facts = o.memory.Recall(gctx, userID, question)
		return nil
	})
	if err := g.Wait(); err != nil {
		return o.fail(ctx, r, emit, err)
	}

	r.to(StateComposing)
	// sources are exactly the passages placed in the prompt
	messages, hits := o.context.BuildMessages(question, hits, facts, req.ChatHistory)

	r.to(StateStreaming)
	send := func(e Event) error {
		if err := emit(e); err != nil {
			return &clientError{err: err}
		}
		return nil
	}
	if err := send(Event{Type: EventSources, Sources: toSources(hits)}); err != nil {
		return o.fail(ctx, r, emit, err)
	}

	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if o.opts.GenerationTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, o.opts.GenerationTimeout)
	}
	defer cancel()

	var answer strings.Builder
	err := o.completer.Stream(genCtx, messages, func(delta string) error {
		answer.WriteString(delta)
		return send(Event{Type: EventContent, Delta: delta})
	})
	if err != nil {
		var ce *clientError
		if !errors.As(err, &ce) {
			err = &GenerationError{Completer: o.completer.Name(), Err: err}
		}
		return o.fail(ctx, r, emit, err)
	}
	// a completer may swallow cancellation and return early
	if ctx.Err() != nil {
		return o.fail(ctx, r, emit, ctx.Err())
	}

	r.to(StateCompleted)
	o.logger.Info("query completed",
		"query_id", r.id, "user_id", userID, "sources", len(hits), "facts", len(facts),
		"answer_chars", answer.Len(), "duration", time.Since(r.start))

	ex := memory.Exchange{Question: question, Answer: answer.String()}
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		o.memory.Remember(context.WithoutCancel(ctx), userID, ex)
	}()
	return nil
}

// fail ends the query. A cancelled request or an undeliverable event is an
// abort: no error event is sent.
func (o *Orchestrator) fail(ctx context.Context, r *run, emit func(Event) error, err error) error {
	var ce *clientError
	if ctx.Err() != nil || errors.As(err, &ce) {
		r.to(StateAborted)
		o.logger.Info("query aborted", "query_id", r.id, "after", time.Since(r.start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	r.to(StateFailed)
	o.logger.Error("query failed", "query_id", r.id, "err", err)
	if emitErr := emit(Event{Type: EventError, Message: userMessage(err)}); emitErr != nil {
		o.logger.Debug("error event not delivered", "query_id", r.id, "err", emitErr)
	}
	return err
}

// userMessage turns err into text fit for the client.
func userMessage(err error) string {
	var (
		re *vectorindex.RetrievalError
		ge *GenerationError
	)
	switch {
	case errors.As(err, &re) && re.Retryable():
		return "Document search is temporarily unavailable. Please try again."
	case errors.As(err, &re):
		return "Document search failed: " + re.Err.Error()
	case errors.As(err, &ge) && errors.Is(err, context.DeadlineExceeded):
		return "The answer took too long to generate."
	case errors.As(err, &ge):
		return "The language model could not answer: " + ge.Err.Error()
	}
	return "The query failed: " + err.Error()
}

// Query answers req without streaming.
func (o *Orchestrator) Query(ctx context.Context, req Request) (*Answer, error) {
	ans := &Answer{Sources: []Source{}}
	var b strings.Builder
	err := o.Stream(ctx, req, func(e Event) error {
		switch e.Type {
		case EventContent:
			b.WriteString(e.Delta)
		case EventSources:
			ans.Sources = e.Sources
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ans.Response = b.String()
	return ans, nil
}
