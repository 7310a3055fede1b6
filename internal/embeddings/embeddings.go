// Package embeddings maps text to fixed-dimension vectors.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/ragchat/internal/config"
)

// ErrEmbeddingUnavailable marks model initialization or inference failures.
// Callers never retry it automatically.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Provider represents an embedding provider type.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Service defines the interface for embedding services.
type Service interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a search query (some models use a different task prefix).
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimensions for this model.
	Dimensions() int

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// EmbedOne embeds a single document text as a one-element batch.
func EmbedOne(ctx context.Context, svc Service, text string) ([]float32, error) {
	vectors, err := svc.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrEmbeddingUnavailable, len(vectors))
	}
	return vectors[0], nil
}

// Known model dimensions
var modelDimensions = map[string]int{
	// Ollama models
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,

	// OpenAI models
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates the configured provider service, batched and paced.
func NewService(cfg *config.Config) (Service, error) {
	var (
		svc Service
		err error
	)
	switch cfg.Embeddings.Provider {
	case "ollama":
		svc, err = NewOllamaService(
			cfg.Embeddings.Ollama.URL,
			cfg.Embeddings.Ollama.Model,
		)
	case "openai":
		svc, err = NewOpenAIService(
			cfg.Embeddings.OpenAI.APIKey,
			cfg.Embeddings.OpenAI.Model,
			cfg.Embeddings.OpenAI.BaseURL,
			cfg.Embeddings.OpenAI.Dimensions,
		)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embeddings.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewBatched(svc, BatchOptions{
		BatchSize:         cfg.Embeddings.BatchSize,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}), nil
}

// NewLazyService defers NewService until the first embedding call.
func NewLazyService(cfg *config.Config) *Lazy {
	return NewLazy(func(context.Context) (Service, error) {
		return NewService(cfg)
	})
}
