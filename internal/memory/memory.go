// Package memory keeps long-term facts per user. Every failure is absorbed:
// a query without memory is still a valid query.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultUser is the namespace used when a request carries no user id.
const DefaultUser = "default_user"

// Exchange is one finished question and answer.
type Exchange struct {
	Question string
	Answer   string
}

// Backend is a memory service. Facts are opaque text.
type Backend interface {
	Recall(ctx context.Context, userID, query string, limit int) ([]string, error)
	Remember(ctx context.Context, userID string, ex Exchange) error
}

// Gateway wraps a Backend with timeouts and degrades errors to no memory.
type Gateway struct {
	backend Backend
	limit   int
	timeout time.Duration
	logger  *slog.Logger
}

// NewGateway creates a gateway. A nil backend behaves like Noop.
func NewGateway(backend Backend, limit int, timeout time.Duration, logger *slog.Logger) *Gateway {
	if backend == nil {
		backend = Noop{}
	}
	if limit <= 0 {
		limit = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{backend: backend, limit: limit, timeout: timeout, logger: logger}
}

func (g *Gateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Recall returns facts relevant to query. Errors yield nil.
func (g *Gateway) Recall(ctx context.Context, userID, query string) []string {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	facts, err := g.backend.Recall(ctx, normalizeUser(userID), query, g.limit)
	if err != nil {
		g.logger.Warn("memory recall failed, continuing without memory", "user_id", userID, "err", err)
		return nil
	}
	out := facts[:0:0]
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) > g.limit {
		out = out[:g.limit]
	}
	return out
}

// Remember stores ex for userID. Errors are logged.
func (g *Gateway) Remember(ctx context.Context, userID string, ex Exchange) {
	if strings.TrimSpace(ex.Question) == "" || strings.TrimSpace(ex.Answer) == "" {
		return
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	if err := g.backend.Remember(ctx, normalizeUser(userID), ex); err != nil {
		g.logger.Warn("memory write failed", "user_id", userID, "err", err)
	}
}

func normalizeUser(id string) string {
	if id = strings.TrimSpace(id); id == "" {
		return DefaultUser
	}
	return id
}

// Noop remembers nothing.
type Noop struct{}

func (Noop) Recall(context.Context, string, string, int) ([]string, error) { return nil, nil }
func (Noop) Remember(context.Context, string, Exchange) error             { return nil }
