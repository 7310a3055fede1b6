package embeddings

import (
	"fmt"
	"sync"
)

// dimensions tracks the vector width of a model. A hint from the model
// table or the configuration is used until the first response; after that
// the observed width is fixed and any other width is an error, since
// vectors of different widths can't be compared with the ones already
// stored.
type dimensions struct {
	mu     sync.Mutex
	n      int
	pinned bool
}

func newDimensions(hint int) *dimensions {
	return &dimensions{n: hint}
}

func (d *dimensions) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

// check validates one response batch against the pinned width.
func (d *dimensions) check(model string, want int, vectors [][]float32) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: %s returned %d vectors for %d inputs", ErrEmbeddingUnavailable, model, len(vectors), want)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: %s returned an empty vector for input %d", ErrEmbeddingUnavailable, model, i)
		}
		if !d.pinned {
			d.n = len(v)
			d.pinned = true
			continue
		}
		if len(v) != d.n {
			return fmt.Errorf("%w: %s returned %d dimensions, expected %d", ErrEmbeddingUnavailable, model, len(v), d.n)
		}
	}
	return nil
}
