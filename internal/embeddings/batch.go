package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// BatchOptions configures request splitting.
type BatchOptions struct {
	// BatchSize caps the number of texts per provider request. Zero sends one request.
	BatchSize int

	// RequestsPerSecond paces provider requests. Zero disables pacing.
	RequestsPerSecond float64
}

// Batched splits large inputs into provider-sized requests and reassembles the
// results in input order. Errors are wrapped with ErrEmbeddingUnavailable.
type Batched struct {
	Service
	batchSize int
	limiter   *rate.Limiter
}

// NewBatched wraps svc.
func NewBatched(svc Service, opts BatchOptions) *Batched {
	b := &Batched{Service: svc, batchSize: opts.BatchSize}
	if opts.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return b
}

// Embed embeds texts batch by batch.
func (b *Batched) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	size := b.batchSize
	if size <= 0 {
		size = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))

		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		log.Debug("Embedding batch", "start", start, "count", end-start, "total", len(texts))
		vectors, err := b.Service.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingUnavailable, end-start, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a query, wrapping errors like Embed.
func (b *Batched) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	vector, err := b.Service.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	return vector, nil
}
