package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIService embeds with the OpenAI embeddings endpoint or a compatible
// server. Requests are not retried; a failure surfaces as
// ErrEmbeddingUnavailable.
type OpenAIService struct {
	client openai.Client
	model  string
	dims   *dimensions

	// requested is sent as the dimensions parameter when set.
	requested int
}

// NewOpenAIService creates the service. A non-zero dimensions asks the
// model to shorten its vectors, which only text-embedding-3 models support.
func NewOpenAIService(apiKey, model, baseURL string, dimensions int) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OpenAI API key is required", ErrEmbeddingUnavailable)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	hint := dimensions
	if hint == 0 {
		hint = GetModelDimensions(model)
	}

	return &OpenAIService{
		client:    openai.NewClient(opts...),
		model:     model,
		dims:      newDimensions(hint),
		requested: dimensions,
	}, nil
}

// Embed embeds chunk texts.
func (s *OpenAIService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, texts)
}

// EmbedQuery embeds a search query. OpenAI models take no task prefix.
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return EmbedOne(ctx, s, text)
}

func (s *OpenAIService) Dimensions() int { return s.dims.get() }

func (s *OpenAIService) Provider() Provider { return ProviderOpenAI }

func (s *OpenAIService) ModelName() string { return s.model }

func (s *OpenAIService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	log.Debug("Requesting embeddings from OpenAI", "model", s.model, "count", len(texts))

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if s.requested > 0 {
		params.Dimensions = openai.Int(int64(s.requested))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrEmbeddingUnavailable, s.model, err)
	}

	// Results carry their input index; place them accordingly.
	vectors := make([][]float32, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(vectors) {
			continue
		}
		v := make([]float32, len(data.Embedding))
		for i, x := range data.Embedding {
			v[i] = float32(x)
		}
		vectors[idx] = v
	}

	if err := s.dims.check(s.model, len(texts), vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}
