// Package ingest turns uploaded PDFs into vectors in the owner's collection
// and removes them again.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragchat/internal/chunker"
	"github.com/nickcecere/ragchat/internal/embeddings"
	"github.com/nickcecere/ragchat/internal/store"
)

var (
	// ErrExtractionFailed means the file is unreadable or has no usable text.
	ErrExtractionFailed = errors.New("extraction failed")

	ErrDuplicateDocument = errors.New("document already uploaded")
	ErrDocumentNotFound  = errors.New("document not found")
)

// Pipeline runs extract, chunk, embed and insert for one document.
type Pipeline struct {
	store     store.Store
	embedder  embeddings.Service
	chunker   *chunker.Chunker
	extractor Extractor
}

func NewPipeline(st store.Store, emb embeddings.Service, ch *chunker.Chunker, ex Extractor) *Pipeline {
	if ex == nil {
		ex = PDFExtractor{}
	}
	return &Pipeline{store: st, embedder: emb, chunker: ch, extractor: ex}
}

// Ingest indexes the document at path into the user's default collection
// and returns the number of chunks stored. It does not clean up after a
// failure; callers use RemoveChunks for that.
func (p *Pipeline) Ingest(ctx context.Context, docID, userID int64, path string) (int, error) {
	start := time.Now()

	pages, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return 0, err
	}

	chunks := p.chunker.Chunk(pages)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("%w: no chunks produced from %s", ErrExtractionFailed, path)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", embeddings.ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	docKey := store.FormatID(docID)
	records := make([]store.Record, len(chunks))
	for i, c := range chunks {
		records[i] = store.Record{
			ID:     store.ChunkID(docID, c.ChunkIndex),
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: store.Metadata{
				store.KeyDocID:      docKey,
				store.KeyPageNumber: c.PageNumber,
				store.KeyChunkIndex: c.ChunkIndex,
			},
		}
	}
	if err := p.insert(ctx, userID, records); err != nil {
		return 0, err
	}

	log.Debug("Ingested document",
		"doc_id", docID,
		"user_id", userID,
		"pages", len(pages),
		"chunks", len(chunks),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return len(chunks), nil
}

// insert writes records to the user's default collection. A removal of the
// user's last document can drop the collection between creating it and
// inserting, so a missing collection is created again once.
func (p *Pipeline) insert(ctx context.Context, userID int64, records []store.Record) error {
	for attempt := 0; ; attempt++ {
		col, err := store.OpenUserCollection(ctx, p.store, userID, store.KindDefault)
		if err != nil {
			return err
		}
		err = p.store.Insert(ctx, col.Name, records)
		if err == nil {
			return nil
		}
		if attempt > 0 || !errors.Is(err, store.ErrCollectionNotFound) {
			return fmt.Errorf("failed to store chunks: %w", err)
		}
		log.Debug("Collection dropped before insert, recreating", "collection", col.Name)
	}
}

// RemoveChunks deletes a document's chunks from the user's default
// collection and drops the collection once it is empty.
func (p *Pipeline) RemoveChunks(ctx context.Context, userID, docID int64) ([]string, error) {
	name := store.UserCollectionName(userID, store.KindDefault)
	ids, err := p.store.DeleteByFilter(ctx, name, store.Where(store.Eq(store.KeyDocID, docID)))
	if err != nil {
		return nil, fmt.Errorf("failed to delete chunks of document %d: %w", docID, err)
	}
	dropped, err := p.store.DropIfEmpty(ctx, name)
	if err != nil {
		log.Warn("Failed to drop empty collection", "collection", name, "error", err)
	} else if dropped {
		log.Debug("Dropped empty collection", "collection", name)
	}
	return ids, nil
}
