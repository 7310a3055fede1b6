// Package store persists embedding vectors in named collections, backed by
// SQLite with sqlite-vec or by a Qdrant server.
package store

import (
	"errors"
	"time"
)

// ErrCollectionNotFound is returned when an operation targets a collection
// that was never created.
var ErrCollectionNotFound = errors.New("collection not found")

// ErrDuplicateRecord is returned when an insert reuses a record id.
var ErrDuplicateRecord = errors.New("duplicate record id")

// duplicateID returns the first id repeated within records.
func duplicateID(records []Record) (string, bool) {
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			return r.ID, true
		}
		seen[r.ID] = struct{}{}
	}
	return "", false
}

// MetricCosine is the only similarity metric collections are created with.
const MetricCosine = "cosine"

// Collection describes a named container of vectors.
type Collection struct {
	Name      string            `json:"name"`
	Metric    string            `json:"metric"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// Metadata is the free-form payload stored next to each vector.
//
// Values read back from a store are normalized: integral numbers become
// int64, other numbers float64, and strings stay strings.
type Metadata map[string]any

// String returns the metadata value for key rendered as text.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

// Record is a single vector with its text and metadata.
type Record struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"-"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// Hit is a query result.
type Hit struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"` // cosine distance, lower is closer
}

// Score converts the distance to a similarity.
func (h Hit) Score() float64 {
	return 1 - h.Distance
}
