// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/nickcecere/ragchat/internal/embeddings"
)

// HashEmbedder is a deterministic bag-of-words embedder: every lowercase
// word adds weight to one hashed dimension. Identical texts get identical
// vectors, so an exact-text query has distance zero.
type HashEmbedder struct {
	Dims int

	mu    sync.Mutex
	calls int
	Err   error
}

func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{Dims: 64}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *HashEmbedder) Dimensions() int               { return e.Dims }
func (e *HashEmbedder) Provider() embeddings.Provider { return embeddings.ProviderOllama }
func (e *HashEmbedder) ModelName() string             { return "hash" }

// Calls returns how many Embed calls were made.
func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Fail makes every later call return err.
func (e *HashEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		err = errors.New("embedder down")
	}
	e.Err = err
}

func (e *HashEmbedder) vector(text string) []float32 {
	v := make([]float32, e.Dims)
	// A constant component keeps empty texts off the zero vector.
	v[0] = 0.01
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(e.Dims)] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
