package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "ollama"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "all-minilm"
	DefaultOpenAIEmbedModel  = "text-embedding-3-small"
	DefaultEmbedBatchSize    = 64

	// Vector store defaults
	DefaultVectorBackend = "sqlite"
	DefaultQdrantHost    = "localhost"
	DefaultQdrantPort    = 6334

	// Relational store defaults
	DefaultDatabaseDriver = "sqlite"

	// Chunking defaults (characters)
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50

	// Retrieval defaults
	DefaultDocumentResults  = 10
	DefaultMemoryMaxResults = 3

	// Chat defaults
	DefaultHistoryLimit = 10
	DefaultChatModel    = "gpt-4"
	DefaultTitleLength  = 50

	// Provider endpoints
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	DefaultGoogleBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultGrokBaseURL      = "https://api.x.ai/v1"

	// Queue defaults
	DefaultMemoryQueue = "ragchat.memory"

	DefaultHistoryTTL    = 30 * time.Minute
	DefaultWatchDebounce = 500 * time.Millisecond

	// File names under the data directory
	DefaultVectorDBFileName  = "vectors.db"
	DefaultAppDBFileName     = "app.db"
	DefaultUploadsDirName    = "uploads"
	DefaultStateFileName     = "migration_state.json"
	DefaultDevelopmentSecret = "dev-secret-key-change-in-production"
)

// DefaultIgnorePatterns returns the default list of patterns skipped during bulk ingestion.
func DefaultIgnorePatterns() []string {
	return []string{
		// Version control
		".git/",
		".svn/",
		".hg/",

		// Dependencies and build outputs
		"node_modules/",
		"vendor/",
		".venv/",
		"dist/",
		"build/",

		// Editor artifacts
		".idea/",
		".vscode/",
		"*.swp",
		"*~",

		// Misc
		".DS_Store",
		"Thumbs.db",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ragchat"
	}
	return filepath.Join(home, ".config", "ragchat")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/ragchat"
	}
	return filepath.Join(home, ".local", "share", "ragchat")
}

// DefaultVectorStorePath returns the default sqlite-vec database path.
func DefaultVectorStorePath() string {
	return filepath.Join(DefaultDataDir(), DefaultVectorDBFileName)
}

// DefaultDatabaseDSN returns the default relational database DSN (a sqlite file).
func DefaultDatabaseDSN() string {
	return filepath.Join(DefaultDataDir(), DefaultAppDBFileName)
}

// DefaultUploadsPath returns the default directory for raw uploaded PDFs.
func DefaultUploadsPath() string {
	return filepath.Join(DefaultDataDir(), DefaultUploadsDirName)
}

// DefaultStateFilePath returns the default migration state file path.
func DefaultStateFilePath() string {
	return filepath.Join(DefaultDataDir(), DefaultStateFileName)
}
