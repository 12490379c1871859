package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dream-ai/docchat/internal/documents"
)

// Backend names accepted by Storage.Backend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Addr              string        `yaml:"addr"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Storage struct {
		// Backend selects where the file registry and chunk vectors live.
		Backend     string `yaml:"backend"`
		VectorStore string `yaml:"vector_store"`
		SQLitePath  string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Database struct {
		ConnectionString string `yaml:"connection_string"`
		MaxConns         int32  `yaml:"max_conns"`
		Dimensions       int    `yaml:"dimensions"`
	} `yaml:"database"`
	Qdrant struct {
		URL        string `yaml:"url"`
		APIKey     string `yaml:"api_key"`
		Collection string `yaml:"collection"`
	} `yaml:"qdrant"`
	Ollama struct {
		BaseURL      string `yaml:"base_url"`
		DefaultModel string `yaml:"default_model"`
	} `yaml:"ollama"`
	OpenAI struct {
		APIKey         string `yaml:"api_key"`
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		EmbeddingModel string `yaml:"embedding_model"`
	} `yaml:"openai"`
	Anthropic struct {
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
	} `yaml:"anthropic"`
	Embeddings struct {
		Provider          string  `yaml:"provider"`
		TextModel         string  `yaml:"text_model"`
		BatchSize         int     `yaml:"batch_size"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
	} `yaml:"embeddings"`
	Completion struct {
		Provider     string  `yaml:"provider"`
		Temperature  float32 `yaml:"temperature"`
		HistoryTurns int     `yaml:"history_turns"`
	} `yaml:"completion"`
	Memory struct {
		Backend     string `yaml:"backend"`
		Mem0APIKey  string `yaml:"mem0_api_key"`
		Mem0BaseURL string `yaml:"mem0_base_url"`
		RecallLimit int    `yaml:"recall_limit"`
	} `yaml:"memory"`
	Processing struct {
		ChunkSize         int      `yaml:"chunk_size"`
		ChunkOverlap      int      `yaml:"chunk_overlap"`
		TopK              int      `yaml:"top_k"`
		MaxFileSize       int64    `yaml:"max_file_size"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
		LegacyConverter   string   `yaml:"legacy_converter"`
	} `yaml:"processing"`
	Timeouts struct {
		Ingest     time.Duration `yaml:"ingest"`
		Embed      time.Duration `yaml:"embed"`
		Search     time.Duration `yaml:"search"`
		Memory     time.Duration `yaml:"memory"`
		Generation time.Duration `yaml:"generation"`
	} `yaml:"timeouts"`
	Paths struct {
		DocumentsDir string `yaml:"documents_dir"`
		UploadDir    string `yaml:"upload_dir"`
	} `yaml:"paths"`
}

// DefaultPath returns ~/.docchat/config.yaml.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".docchat", "config.yaml")
}

// Load loads configuration from the default path or returns defaults
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the YAML file at path on top of Default(), then applies
// .env and environment overrides. A missing file is not an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save saves configuration to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	switch c.Storage.VectorStore {
	case "", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("storage.vector_store: unknown store %q", c.Storage.VectorStore))
	}
	if c.Processing.ChunkSize <= 0 {
		errs = append(errs, errors.New("processing.chunk_size must be positive"))
	}
	if c.Processing.ChunkOverlap < 0 || c.Processing.ChunkOverlap >= c.Processing.ChunkSize {
		errs = append(errs, errors.New("processing.chunk_overlap must be in [0, chunk_size)"))
	}
	if c.Processing.TopK <= 0 {
		errs = append(errs, errors.New("processing.top_k must be positive"))
	}
	if c.Processing.MaxFileSize <= 0 {
		errs = append(errs, errors.New("processing.max_file_size must be positive"))
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider: unknown provider %q", c.Embeddings.Provider))
	}
	switch c.Completion.Provider {
	case "ollama", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("completion.provider: unknown provider %q", c.Completion.Provider))
	}
	switch c.Memory.Backend {
	case "none", "local", "mem0":
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}
	return errors.Join(errs...)
}

// applyEnv lets credentials and deployment knobs come from the environment.
func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "DOCCHAT_ADDR")
	setString(&c.Storage.Backend, "DOCCHAT_STORAGE_BACKEND")
	setString(&c.Storage.VectorStore, "DOCCHAT_VECTOR_STORE")
	setString(&c.Database.ConnectionString, "DATABASE_URL")
	setString(&c.Qdrant.URL, "QDRANT_URL")
	setString(&c.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.Ollama.BaseURL, "OLLAMA_HOST")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_API_BASE")
	setString(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Memory.Mem0APIKey, "MEM0_API_KEY")
	setString(&c.Logging.Level, "DOCCHAT_LOG_LEVEL")
	if v := os.Getenv("DOCCHAT_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processing.ChunkSize = n
		}
	}
	if v := os.Getenv("DOCCHAT_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Processing.ChunkOverlap = n
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Server.Addr = "127.0.0.1:8000"
	cfg.Server.ReadHeaderTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Storage.Backend = BackendSQLite
	cfg.Database.ConnectionString = "postgres://postgres@localhost/postgres?sslmode=disable"
	cfg.Database.MaxConns = 10
	cfg.Database.Dimensions = 768
	cfg.Qdrant.URL = "http://localhost:6333"
	cfg.Qdrant.Collection = "docchat"
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.DefaultModel = ""
	cfg.OpenAI.BaseURL = "https://api.openai.com/v1"
	cfg.OpenAI.Model = "gpt-4o-mini"
	cfg.OpenAI.EmbeddingModel = "text-embedding-3-small"
	cfg.Anthropic.Model = "claude-3-5-sonnet-latest"
	cfg.Anthropic.MaxTokens = 1024
	cfg.Embeddings.Provider = "ollama"
	cfg.Embeddings.TextModel = "nomic-embed-text"
	cfg.Embeddings.BatchSize = 16
	cfg.Embeddings.RequestsPerSecond = 20
	cfg.Completion.Provider = "ollama"
	cfg.Completion.Temperature = 0.1
	cfg.Completion.HistoryTurns = 6
	cfg.Memory.Backend = "local"
	cfg.Memory.Mem0BaseURL = "https://api.mem0.ai"
	cfg.Memory.RecallLimit = 5
	cfg.Processing.ChunkSize = 1024
	cfg.Processing.ChunkOverlap = 200
	cfg.Processing.TopK = 5
	cfg.Processing.MaxFileSize = 15 << 20
	cfg.Processing.AllowedExtensions = documents.SupportedExtensions()
	cfg.Processing.LegacyConverter = "antiword"
	cfg.Timeouts.Ingest = 5 * time.Minute
	cfg.Timeouts.Embed = 60 * time.Second
	cfg.Timeouts.Search = 15 * time.Second
	cfg.Timeouts.Memory = 10 * time.Second
	cfg.Timeouts.Generation = 5 * time.Minute

	homeDir := os.Getenv("HOME")
	cfg.Storage.SQLitePath = filepath.Join(homeDir, ".docchat", "docchat.db")
	cfg.Paths.DocumentsDir = filepath.Join(homeDir, "documents")
	cfg.Paths.UploadDir = filepath.Join(homeDir, ".docchat", "uploads")

	return cfg
}
