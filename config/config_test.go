package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DOCCHAT_ADDR", "DOCCHAT_STORAGE_BACKEND", "DOCCHAT_VECTOR_STORE",
		"DOCCHAT_CHUNK_SIZE", "DOCCHAT_CHUNK_OVERLAP", "DOCCHAT_LOG_LEVEL",
		"QDRANT_URL", "OLLAMA_HOST",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1024, cfg.Processing.ChunkSize)
	assert.Equal(t, 200, cfg.Processing.ChunkOverlap)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, int64(15<<20), cfg.Processing.MaxFileSize)
	assert.Contains(t, cfg.Processing.AllowedExtensions, ".docx")
	assert.NotContains(t, cfg.Processing.AllowedExtensions, ".png")
}

func TestLoadFromMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
}

func TestLoadFromYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: 0.0.0.0:9000
storage:
  backend: memory
processing:
  chunk_size: 512
  chunk_overlap: 64
timeouts:
  generation: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 512, cfg.Processing.ChunkSize)
	assert.Equal(t, 64, cfg.Processing.ChunkOverlap)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Generation)
	// untouched keys keep their defaults
	assert.Equal(t, 5, cfg.Processing.TopK)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCCHAT_ADDR", "127.0.0.1:7777")
	t.Setenv("DOCCHAT_CHUNK_SIZE", "300")
	t.Setenv("DOCCHAT_CHUNK_OVERLAP", "30")
	t.Setenv("DOCCHAT_VECTOR_STORE", "qdrant")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.Addr)
	assert.Equal(t, 300, cfg.Processing.ChunkSize)
	assert.Equal(t, 30, cfg.Processing.ChunkOverlap)
	assert.Equal(t, "qdrant", cfg.Storage.VectorStore)
}

func TestLoadFromBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0600))

	_, err := LoadFrom(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"backend", func(c *Config) { c.Storage.Backend = "mongo" }, "storage.backend"},
		{"vector store", func(c *Config) { c.Storage.VectorStore = "milvus" }, "storage.vector_store"},
		{"chunk size", func(c *Config) { c.Processing.ChunkSize = 0 }, "chunk_size must be positive"},
		{"overlap", func(c *Config) { c.Processing.ChunkOverlap = c.Processing.ChunkSize }, "chunk_overlap"},
		{"top k", func(c *Config) { c.Processing.TopK = 0 }, "top_k"},
		{"max size", func(c *Config) { c.Processing.MaxFileSize = 0 }, "max_file_size"},
		{"embeddings", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"completion", func(c *Config) { c.Completion.Provider = "gemini" }, "completion.provider"},
		{"memory", func(c *Config) { c.Memory.Backend = "redis" }, "memory.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Completion.Provider = "anthropic"
	cfg.Processing.AllowedExtensions = []string{".pdf", ".txt"}
	require.NoError(t, cfg.Save(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", loaded.Completion.Provider)
	assert.Equal(t, []string{".pdf", ".txt"}, loaded.Processing.AllowedExtensions)
	assert.Equal(t, cfg.Timeouts.Ingest, loaded.Timeouts.Ingest)
}
