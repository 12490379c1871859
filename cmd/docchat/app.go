package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dream-ai/docchat/config"
	"github.com/dream-ai/docchat/internal/db"
	"github.com/dream-ai/docchat/internal/documents"
	"github.com/dream-ai/docchat/internal/embeddings"
	"github.com/dream-ai/docchat/internal/ingest"
	"github.com/dream-ai/docchat/internal/llm"
	"github.com/dream-ai/docchat/internal/memory"
	"github.com/dream-ai/docchat/internal/ollama"
	"github.com/dream-ai/docchat/internal/qdrant"
	"github.com/dream-ai/docchat/internal/rag"
	"github.com/dream-ai/docchat/internal/registry"
	"github.com/dream-ai/docchat/internal/sqlitestore"
	"github.com/dream-ai/docchat/internal/vectorindex"
)

// app holds the wired components for one process.
type app struct {
	cfg     *config.Config
	ingest  *ingest.Service
	orch    *rag.Orchestrator
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// stores is what a storage backend contributes.
type stores struct {
	chunks vectorindex.Store
	files  registry.Registry
	facts  memory.FactStore
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Logging.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildApp wires storage, embeddings, completion and memory from cfg.
// withChat=false skips the completion provider for ingest-only commands.
func buildApp(ctx context.Context, cfg *config.Config, withChat bool) (*app, error) {
	a := &app{cfg: cfg}

	st, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Storage.VectorStore == "qdrant" {
		q := qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    cfg.Timeouts.Search,
		})
		if err := q.Init(ctx, cfg.Database.Dimensions); err != nil {
			a.Close()
			return nil, err
		}
		st.chunks = q
	}

	index := vectorindex.NewGateway(st.chunks, embedder, vectorindex.Options{
		EmbedTimeout:  cfg.Timeouts.Embed,
		SearchTimeout: cfg.Timeouts.Search,
		Logger:        logger,
	})

	processor := documents.NewProcessor(documents.Options{
		ChunkSize:         cfg.Processing.ChunkSize,
		ChunkOverlap:      cfg.Processing.ChunkOverlap,
		MaxFileSize:       cfg.Processing.MaxFileSize,
		AllowedExtensions: cfg.Processing.AllowedExtensions,
		LegacyConverter:   cfg.Processing.LegacyConverter,
		Timeout:           cfg.Timeouts.Ingest,
		Logger:            logger,
	})

	a.ingest = ingest.NewService(processor, index, st.files, ingest.Options{
		UploadDir: cfg.Paths.UploadDir,
		Timeout:   cfg.Timeouts.Ingest,
		Logger:    logger,
	})

	if !withChat {
		return a, nil
	}

	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var backend memory.Backend
	switch cfg.Memory.Backend {
	case "local":
		backend = memory.NewVectorMemory(st.facts, embedder)
	case "mem0":
		backend = memory.NewMem0(cfg.Memory.Mem0BaseURL, cfg.Memory.Mem0APIKey)
	}
	mem := memory.NewGateway(backend, cfg.Memory.RecallLimit, cfg.Timeouts.Memory, logger)

	a.orch = rag.NewOrchestrator(
		rag.NewRetriever(index, st.files, cfg.Processing.TopK),
		mem,
		completer,
		rag.NewContextBuilder(0, cfg.Completion.HistoryTurns),
		rag.Options{GenerationTimeout: cfg.Timeouts.Generation, Logger: logger},
	)
	a.closers = append(a.closers, a.orch.Wait)

	logger.Info("components ready",
		"backend", cfg.Storage.Backend,
		"vector_store", vectorStoreName(cfg),
		"embeddings", cfg.Embeddings.Provider,
		"completion", completer.Name(),
		"memory", cfg.Memory.Backend)
	return a, nil
}

func vectorStoreName(cfg *config.Config) string {
	if cfg.Storage.VectorStore != "" {
		return cfg.Storage.VectorStore
	}
	return cfg.Storage.Backend
}

func (a *app) openStores(ctx context.Context) (*stores, error) {
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		database, err := db.New(ctx, cfg.Database.ConnectionString, cfg.Database.MaxConns)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, database.Close)
		if err := database.Migrate(ctx, cfg.Database.Dimensions); err != nil {
			return nil, err
		}
		return &stores{chunks: database, files: database.Files(), facts: database}, nil

	case config.BackendSQLite:
		store, err := sqlitestore.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close sqlite store", "error", err)
			}
		})
		return &stores{chunks: store, files: store.Files(), facts: store}, nil

	default:
		return &stores{
			chunks: vectorindex.NewMemoryStore(),
			files:  registry.NewMemory(),
			facts:  memory.NewMemoryFactStore(),
		}, nil
	}
}

func newEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	var next embeddings.Embedder
	switch cfg.Embeddings.Provider {
	case "ollama":
		next = embeddings.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Embeddings.TextModel)
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("embeddings.provider openai requires OPENAI_API_KEY")
		}
		next = embeddings.NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.EmbeddingModel)
	case "hash":
		next = embeddings.NewHashEmbedder(cfg.Database.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}
	return embeddings.NewLimited(next, cfg.Embeddings.RequestsPerSecond, cfg.Embeddings.BatchSize), nil
}

func newCompleter(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	opts := llm.Options{Temperature: cfg.Completion.Temperature}
	switch cfg.Completion.Provider {
	case "ollama":
		client := ollama.NewClient(cfg.Ollama.BaseURL)
		model, err := ollama.NewModelSelector(client).Resolve(ctx, cfg.Ollama.DefaultModel)
		if err != nil {
			return nil, fmt.Errorf("failed to pick ollama model: %w", err)
		}
		return llm.NewOllama(client, model, opts), nil
	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("completion.provider openai requires OPENAI_API_KEY")
		}
		return llm.NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, opts), nil
	case "anthropic":
		if cfg.Anthropic.APIKey == "" {
			return nil, fmt.Errorf("completion.provider anthropic requires ANTHROPIC_API_KEY")
		}
		opts.MaxTokens = cfg.Anthropic.MaxTokens
		return llm.NewAnthropic(cfg.Anthropic.APIKey, "", cfg.Anthropic.Model, opts), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Completion.Provider)
	}
}
