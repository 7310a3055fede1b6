// Package config handles configuration loading and validation for ragchat.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete ragchat configuration.
type Config struct {
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Chunking    ChunkingConfig    `mapstructure:"chunking"`
	Memory      MemoryConfig      `mapstructure:"memory"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Chat        ChatConfig        `mapstructure:"chat"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Security    SecurityConfig    `mapstructure:"security"`
	Redis       RedisConfig       `mapstructure:"redis"`
	RabbitMQ    RabbitMQConfig    `mapstructure:"rabbitmq"`
	Migrations  MigrationsConfig  `mapstructure:"migrations"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Ignore      []string          `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider          string            `mapstructure:"provider"`
	BatchSize         int               `mapstructure:"batch_size"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Ollama            OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI            OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// VectorStoreConfig selects and configures the vector collection backend.
type VectorStoreConfig struct {
	Backend string       `mapstructure:"backend"`
	Path    string       `mapstructure:"path"`
	Qdrant  QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig configures the qdrant gRPC client.
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ChunkingConfig configures document chunking. Sizes are in characters.
type ChunkingConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// MemoryConfig configures cross-conversation memory.
type MemoryConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxResults      int  `mapstructure:"max_results"`
	SearchBothTypes bool `mapstructure:"search_both_types"`
}

// RetrievalConfig configures document retrieval.
type RetrievalConfig struct {
	DocumentResults int `mapstructure:"document_results"`
}

// ChatConfig configures chat turns.
type ChatConfig struct {
	HistoryLimit int    `mapstructure:"history_limit"`
	DefaultModel string `mapstructure:"default_model"`
	TitleLength  int    `mapstructure:"title_length"`
}

// ProvidersConfig holds the base URLs of the LLM backends.
type ProvidersConfig struct {
	OpenAIBaseURL    string `mapstructure:"openai_base_url"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	GoogleBaseURL    string `mapstructure:"google_base_url"`
	GrokBaseURL      string `mapstructure:"grok_base_url"`
	OllamaURL        string `mapstructure:"ollama_url"`
}

// StorageConfig configures raw file storage.
type StorageConfig struct {
	UploadsPath string `mapstructure:"uploads_path"`
}

// SecurityConfig configures secrets handling.
type SecurityConfig struct {
	SecretKey string `mapstructure:"secret_key"`
}

// RedisConfig configures the history cache. An empty Addr disables it.
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// RabbitMQConfig configures the memory indexing queue. An empty URL disables it.
type RabbitMQConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

// MigrationsConfig configures the schema migrator.
type MigrationsConfig struct {
	StateFile string `mapstructure:"state_file"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:  DefaultEmbeddingProvider,
			BatchSize: DefaultEmbedBatchSize,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		VectorStore: VectorStoreConfig{
			Backend: DefaultVectorBackend,
			Path:    DefaultVectorStorePath(),
			Qdrant: QdrantConfig{
				Host: DefaultQdrantHost,
				Port: DefaultQdrantPort,
			},
		},
		Database: DatabaseConfig{
			Driver: DefaultDatabaseDriver,
			DSN:    DefaultDatabaseDSN(),
		},
		Chunking: ChunkingConfig{
			ChunkSize: DefaultChunkSize,
			Overlap:   DefaultChunkOverlap,
		},
		Memory: MemoryConfig{
			Enabled:         true,
			MaxResults:      DefaultMemoryMaxResults,
			SearchBothTypes: true,
		},
		Retrieval: RetrievalConfig{
			DocumentResults: DefaultDocumentResults,
		},
		Chat: ChatConfig{
			HistoryLimit: DefaultHistoryLimit,
			DefaultModel: DefaultChatModel,
			TitleLength:  DefaultTitleLength,
		},
		Providers: ProvidersConfig{
			OpenAIBaseURL:    DefaultOpenAIBaseURL,
			AnthropicBaseURL: DefaultAnthropicBaseURL,
			GoogleBaseURL:    DefaultGoogleBaseURL,
			GrokBaseURL:      DefaultGrokBaseURL,
			OllamaURL:        DefaultOllamaURL,
		},
		Storage: StorageConfig{
			UploadsPath: DefaultUploadsPath(),
		},
		Security: SecurityConfig{
			SecretKey: DefaultDevelopmentSecret,
		},
		Redis: RedisConfig{
			HistoryTTL: DefaultHistoryTTL,
		},
		RabbitMQ: RabbitMQConfig{
			Queue: DefaultMemoryQueue,
		},
		Migrations: MigrationsConfig{
			StateFile: DefaultStateFilePath(),
		},
		Watch: WatchConfig{
			Debounce: DefaultWatchDebounce,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from a .env file, the config file and environment variables.
func Load(configFile string) error {
	// A missing .env is the common case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load .env", "error", err)
	}

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("RAGCHAT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	loaded := &Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return err
	}

	cfg = loaded
	loadAPIKeysFromEnv()

	return nil
}

// Validate checks settings that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking.overlap (%d) must be in [0, chunk_size)", c.Chunking.Overlap)
	}

	switch c.VectorStore.Backend {
	case "sqlite", "qdrant":
	default:
		return fmt.Errorf("unknown vector_store.backend: %s", c.VectorStore.Backend)
	}

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unknown database.driver: %s", c.Database.Driver)
	}

	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embeddings.provider: %s", c.Embeddings.Provider)
	}

	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	d := DefaultConfig()

	// Embeddings
	viper.SetDefault("embeddings.provider", d.Embeddings.Provider)
	viper.SetDefault("embeddings.batch_size", d.Embeddings.BatchSize)
	viper.SetDefault("embeddings.requests_per_second", 0)
	viper.SetDefault("embeddings.ollama.url", d.Embeddings.Ollama.URL)
	viper.SetDefault("embeddings.ollama.model", d.Embeddings.Ollama.Model)
	viper.SetDefault("embeddings.openai.model", d.Embeddings.OpenAI.Model)

	// Vector store
	viper.SetDefault("vector_store.backend", d.VectorStore.Backend)
	viper.SetDefault("vector_store.path", d.VectorStore.Path)
	viper.SetDefault("vector_store.qdrant.host", d.VectorStore.Qdrant.Host)
	viper.SetDefault("vector_store.qdrant.port", d.VectorStore.Qdrant.Port)

	// Relational store
	viper.SetDefault("database.driver", d.Database.Driver)
	viper.SetDefault("database.dsn", d.Database.DSN)

	viper.SetDefault("chunking.chunk_size", d.Chunking.ChunkSize)
	viper.SetDefault("chunking.overlap", d.Chunking.Overlap)

	viper.SetDefault("memory.enabled", d.Memory.Enabled)
	viper.SetDefault("memory.max_results", d.Memory.MaxResults)
	viper.SetDefault("memory.search_both_types", d.Memory.SearchBothTypes)

	viper.SetDefault("retrieval.document_results", d.Retrieval.DocumentResults)

	viper.SetDefault("chat.history_limit", d.Chat.HistoryLimit)
	viper.SetDefault("chat.default_model", d.Chat.DefaultModel)
	viper.SetDefault("chat.title_length", d.Chat.TitleLength)

	// Providers
	viper.SetDefault("providers.openai_base_url", d.Providers.OpenAIBaseURL)
	viper.SetDefault("providers.anthropic_base_url", d.Providers.AnthropicBaseURL)
	viper.SetDefault("providers.google_base_url", d.Providers.GoogleBaseURL)
	viper.SetDefault("providers.grok_base_url", d.Providers.GrokBaseURL)
	viper.SetDefault("providers.ollama_url", d.Providers.OllamaURL)

	viper.SetDefault("storage.uploads_path", d.Storage.UploadsPath)
	viper.SetDefault("security.secret_key", d.Security.SecretKey)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.history_ttl", d.Redis.HistoryTTL)

	viper.SetDefault("rabbitmq.url", "")
	viper.SetDefault("rabbitmq.queue", d.RabbitMQ.Queue)

	viper.SetDefault("migrations.state_file", d.Migrations.StateFile)
	viper.SetDefault("watch.debounce", d.Watch.Debounce)

	viper.SetDefault("ignore", d.Ignore)
}

// findRCFile searches for .ragchat.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".ragchat.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads the embedding API key from the conventional variable if unset.
// Chat provider keys are per user and live in the relational store.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
