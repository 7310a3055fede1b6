package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// keepAlive keeps the model resident between ingestions and chat turns.
const keepAlive = "10m"

// Some retrieval models are trained with a marker on the query side.
var queryPrefixes = map[string]string{
	"nomic-embed-text":  "search_query: ",
	"mxbai-embed-large": "Represent this sentence for searching relevant passages: ",
}

// Document-side markers for the same models.
var documentPrefixes = map[string]string{
	"nomic-embed-text": "search_document: ",
}

// OllamaService embeds with a model served by a local Ollama daemon.
type OllamaService struct {
	baseURL string
	model   string
	dims    *dimensions
	client  *http.Client
}

type ollamaEmbedRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	KeepAlive string   `json:"keep_alive,omitempty"`
	Truncate  bool     `json:"truncate,omitempty"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewOllamaService creates the service. Nothing is sent to Ollama until the
// first Embed call.
func NewOllamaService(baseURL, model string) (*OllamaService, error) {
	if model == "" {
		return nil, fmt.Errorf("%w: no ollama embedding model configured", ErrEmbeddingUnavailable)
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	hint := GetModelDimensions(model)
	if hint == 0 {
		log.Debug("Unknown model dimensions, learning them from the first response", "model", model)
	}

	return &OllamaService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		dims:    newDimensions(hint),
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Embed embeds chunk texts.
func (s *OllamaService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, withPrefix(documentPrefixes[s.model], texts))
}

// EmbedQuery embeds a search query.
func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embed(ctx, withPrefix(queryPrefixes[s.model], []string{text}))
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimensions returns the vector width, or 0 for an unknown model that has
// not answered yet.
func (s *OllamaService) Dimensions() int { return s.dims.get() }

func (s *OllamaService) Provider() Provider { return ProviderOllama }

func (s *OllamaService) ModelName() string { return s.model }

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

func (s *OllamaService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{
		Model:     s.model,
		Input:     texts,
		KeepAlive: keepAlive,
		Truncate:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from Ollama", "model", s.model, "count", len(texts))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama at %s: %w", ErrEmbeddingUnavailable, s.baseURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: model %s is not available; run 'ollama pull %s'", ErrEmbeddingUnavailable, s.model, s.model)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrEmbeddingUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", ErrEmbeddingUnavailable, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("%w: ollama: %s", ErrEmbeddingUnavailable, result.Error)
	}

	if err := s.dims.check(s.model, len(texts), result.Embeddings); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}
