package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)
	assert.Equal(t, DefaultOllamaEmbedModel, cfg.Embeddings.Ollama.Model)
	assert.Equal(t, DefaultOpenAIEmbedModel, cfg.Embeddings.OpenAI.Model)

	// Chunking and retrieval defaults
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Retrieval.DocumentResults)
	assert.Equal(t, 10, cfg.Chat.HistoryLimit)

	// Memory defaults
	assert.True(t, cfg.Memory.Enabled)
	assert.True(t, cfg.Memory.SearchBothTypes)
	assert.Equal(t, 3, cfg.Memory.MaxResults)

	assert.Equal(t, "https://api.x.ai/v1", cfg.Providers.GrokBaseURL)
	assert.Equal(t, "sqlite", cfg.VectorStore.Backend)
	assert.Equal(t, "sqlite", cfg.Database.Driver)

	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"overlap equals chunk size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }, true},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, true},
		{"zero chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }, true},
		{"qdrant backend", func(c *Config) { c.VectorStore.Backend = "qdrant" }, false},
		{"unknown backend", func(c *Config) { c.VectorStore.Backend = "chroma" }, true},
		{"postgres driver", func(c *Config) { c.Database.Driver = "postgres" }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultPaths(t *testing.T) {
	configDir := DefaultConfigDir()
	dataDir := DefaultDataDir()

	assert.Contains(t, configDir, "ragchat")
	assert.Contains(t, dataDir, "ragchat")
	assert.Contains(t, DefaultVectorStorePath(), "vectors.db")
	assert.Contains(t, DefaultDatabaseDSN(), "app.db")
	assert.Contains(t, DefaultStateFilePath(), "migration_state.json")
}

func TestLoadWithConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
embeddings:
  provider: openai
  openai:
    model: text-embedding-3-large
    base_url: https://custom-api.example.com
vector_store:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6335
database:
  driver: postgres
  dsn: host=db user=rag dbname=rag
chunking:
  chunk_size: 1000
  overlap: 100
memory:
  enabled: false
redis:
  addr: localhost:6379
  history_ttl: 5m
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	err = Load(configPath)
	require.NoError(t, err)

	loadedCfg := Get()

	assert.Equal(t, "openai", loadedCfg.Embeddings.Provider)
	assert.Equal(t, "text-embedding-3-large", loadedCfg.Embeddings.OpenAI.Model)
	assert.Equal(t, "https://custom-api.example.com", loadedCfg.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, "qdrant", loadedCfg.VectorStore.Backend)
	assert.Equal(t, "qdrant.internal", loadedCfg.VectorStore.Qdrant.Host)
	assert.Equal(t, 6335, loadedCfg.VectorStore.Qdrant.Port)
	assert.Equal(t, "postgres", loadedCfg.Database.Driver)
	assert.Equal(t, 1000, loadedCfg.Chunking.ChunkSize)
	assert.Equal(t, 100, loadedCfg.Chunking.Overlap)
	assert.False(t, loadedCfg.Memory.Enabled)
	assert.Equal(t, 5*time.Minute, loadedCfg.Redis.HistoryTTL)

	// Untouched sections keep their defaults
	assert.Equal(t, DefaultMemoryMaxResults, loadedCfg.Memory.MaxResults)
	assert.Equal(t, DefaultGrokBaseURL, loadedCfg.Providers.GrokBaseURL)
}

func TestLoadRejectsInvalidChunking(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("chunking:\n  chunk_size: 100\n  overlap: 100\n"), 0644))

	err := Load(configPath)
	assert.Error(t, err)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	cfg = nil

	t.Setenv("RAGCHAT_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("RAGCHAT_MEMORY_MAX_RESULTS", "7")
	t.Setenv("OPENAI_API_KEY", "test-api-key")

	err := Load("")
	require.NoError(t, err)

	loadedCfg := Get()

	assert.Equal(t, "openai", loadedCfg.Embeddings.Provider)
	assert.Equal(t, 7, loadedCfg.Memory.MaxResults)
	assert.Equal(t, "test-api-key", loadedCfg.Embeddings.OpenAI.APIKey)
}

func TestLoadMissingConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	err := Load("")
	require.NoError(t, err)

	loadedCfg := Get()
	assert.Equal(t, DefaultEmbeddingProvider, loadedCfg.Embeddings.Provider)
	assert.Equal(t, DefaultChatModel, loadedCfg.Chat.DefaultModel)
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)

	c2 := Get()
	assert.Same(t, c1, c2)
}

func TestGlobalConfigPath(t *testing.T) {
	path := GlobalConfigPath()
	assert.Contains(t, path, "ragchat")
	assert.Contains(t, path, "config.yaml")
}
