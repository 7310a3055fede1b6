package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Factory builds the underlying embedding service.
type Factory func(ctx context.Context) (Service, error)

// Lazy initializes its service once, on first use, under a lock. A failed
// initialization is reported to that caller and attempted again on the next call.
type Lazy struct {
	factory Factory

	mu    sync.Mutex
	inner Service
}

// NewLazy wraps factory.
func NewLazy(factory Factory) *Lazy {
	return &Lazy{factory: factory}
}

func (l *Lazy) get(ctx context.Context) (Service, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inner != nil {
		return l.inner, nil
	}

	svc, err := l.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	log.Debug("Embedding service initialized", "provider", svc.Provider(), "model", svc.ModelName())
	l.inner = svc
	return svc, nil
}

// Init forces initialization.
func (l *Lazy) Init(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

// Embed embeds texts, initializing the service if needed.
func (l *Lazy) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	svc, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Embed(ctx, texts)
}

// EmbedQuery embeds a query, initializing the service if needed.
func (l *Lazy) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	svc, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.EmbedQuery(ctx, text)
}

// Dimensions returns 0 until the service has been initialized.
func (l *Lazy) Dimensions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return 0
	}
	return l.inner.Dimensions()
}

// Provider returns the provider name, or "" before initialization.
func (l *Lazy) Provider() Provider {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return ""
	}
	return l.inner.Provider()
}

// ModelName returns the model name, or "" before initialization.
func (l *Lazy) ModelName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inner == nil {
		return ""
	}
	return l.inner.ModelName()
}
