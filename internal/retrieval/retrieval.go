// Package retrieval searches a user's documents and past conversations and
// formats the hits as prompt context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nickcecere/ragchat/internal/embeddings"
	"github.com/nickcecere/ragchat/internal/store"
)

// Separator joins formatted hits.
const Separator = "\n\n---\n\n"

const (
	DefaultDocumentK = 10
	DefaultMemoryK   = 3
)

// Engine runs similarity searches through the collection store.
type Engine struct {
	store    store.Store
	embedder embeddings.Service
}

func New(st store.Store, emb embeddings.Service) *Engine {
	return &Engine{store: st, embedder: emb}
}

// MemoryOptions narrows a memory search.
type MemoryOptions struct {
	// ExcludeConversationID drops hits from that conversation. Zero disables.
	ExcludeConversationID int64
	K                     int
	// Types restricts hits to these message types. Empty means all.
	Types []string
}

// Request describes both searches of a chat turn.
type Request struct {
	UserID    int64
	Query     string
	Documents bool
	DocumentK int
	DocIDs    []int64
	Memory    bool
	MemoryOpt MemoryOptions
}

// Context is the formatted output of Retrieve. Either part may be empty.
type Context struct {
	Documents string
	Memory    string
}

// Retrieve embeds the query once and runs the document and memory searches
// concurrently. Only an embedding failure is returned as an error; search
// failures are logged and yield empty sections.
func (e *Engine) Retrieve(ctx context.Context, req Request) (Context, error) {
	var out Context
	if !req.Documents && !req.Memory {
		return out, nil
	}

	vector, err := e.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return out, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if req.Documents {
		g.Go(func() error {
			hits, err := e.DocumentHits(gctx, req.UserID, vector, req.DocumentK, req.DocIDs)
			if err != nil {
				log.Warn("Document search failed", "user_id", req.UserID, "error", err)
				return nil
			}
			out.Documents = FormatDocuments(hits)
			return nil
		})
	}
	if req.Memory {
		g.Go(func() error {
			hits, err := e.MemoryHits(gctx, req.UserID, vector, req.MemoryOpt)
			if err != nil {
				log.Warn("Memory search failed", "user_id", req.UserID, "error", err)
				return nil
			}
			out.Memory = FormatMemory(hits)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// RetrieveDocumentContext returns the formatted top-k document chunks for
// query, or "" when nothing matches.
func (e *Engine) RetrieveDocumentContext(ctx context.Context, userID int64, query string, k int, docIDs []int64) (string, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return "", err
	}
	hits, err := e.DocumentHits(ctx, userID, vector, k, docIDs)
	if err != nil {
		return "", err
	}
	return FormatDocuments(hits), nil
}

// SearchDocuments returns the top-k document chunks for query whose score
// is at least minScore.
func (e *Engine) SearchDocuments(ctx context.Context, userID int64, query string, k int, docIDs []int64, minScore float64) ([]store.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query cannot be empty")
	}
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.DocumentHits(ctx, userID, vector, k, docIDs)
	if err != nil {
		return nil, err
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score() >= minScore {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// RetrieveMemoryContext returns the formatted top-k memories for query.
func (e *Engine) RetrieveMemoryContext(ctx context.Context, userID int64, query string, opts MemoryOptions) (string, error) {
	vector, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return "", err
	}
	hits, err := e.MemoryHits(ctx, userID, vector, opts)
	if err != nil {
		return "", err
	}
	return FormatMemory(hits), nil
}

// DocumentHits searches the user's default collection plus any legacy
// per-document collections that have not been migrated yet, and returns the
// k closest chunks overall.
func (e *Engine) DocumentHits(ctx context.Context, userID int64, vector []float32, k int, docIDs []int64) ([]store.Hit, error) {
	if k <= 0 {
		k = DefaultDocumentK
	}

	var filter *store.Filter
	if len(docIDs) > 0 {
		filter = store.Where(store.In(store.KeyDocID, docIDs))
	}

	hits, err := e.query(ctx, store.UserCollectionName(userID, store.KindDefault), vector, k, filter)
	if err != nil {
		return nil, err
	}

	legacy, err := e.store.List(ctx, store.LegacyCollectionPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy collections: %w", err)
	}
	for _, col := range legacy {
		_, docID, ok := store.ParseLegacyCollectionName(col.Name)
		if !ok || (len(docIDs) > 0 && !contains(docIDs, docID)) {
			continue
		}
		more, err := e.query(ctx, col.Name, vector, k, nil)
		if err != nil {
			return nil, err
		}
		for i := range more {
			if more[i].Metadata == nil {
				more[i].Metadata = store.Metadata{}
			}
			if _, ok := more[i].Metadata[store.KeyDocID]; !ok {
				more[i].Metadata[store.KeyDocID] = fmt.Sprint(docID)
			}
		}
		hits = append(hits, more...)
	}

	if len(legacy) > 0 {
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
		// a migrated document whose legacy collection was not dropped shows up twice
		hits = uniqueByID(hits)
		if len(hits) > k {
			hits = hits[:k]
		}
	}
	return hits, nil
}

// MemoryHits searches the user's conversations collection.
func (e *Engine) MemoryHits(ctx context.Context, userID int64, vector []float32, opts MemoryOptions) ([]store.Hit, error) {
	k := opts.K
	if k <= 0 {
		k = DefaultMemoryK
	}

	filter := &store.Filter{}
	if len(opts.Types) > 0 {
		filter.Must = append(filter.Must, store.In(store.KeyType, opts.Types))
	}
	if opts.ExcludeConversationID != 0 {
		filter.Not(store.Eq(store.KeyConversationID, opts.ExcludeConversationID))
	}

	return e.query(ctx, store.UserCollectionName(userID, store.KindConversations), vector, k, filter)
}

// query treats a missing collection as no hits.
func (e *Engine) query(ctx context.Context, name string, vector []float32, k int, filter *store.Filter) ([]store.Hit, error) {
	hits, err := e.store.Query(ctx, name, vector, k, filter)
	if errors.Is(err, store.ErrCollectionNotFound) {
		return nil, nil
	}
	return hits, err
}

// FormatDocuments renders hits as "[Document: <doc_id>, Page: <page>]" blocks.
func FormatDocuments(hits []store.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("[Document: %s, Page: %s]\n%s",
			orUnknown(h.Metadata.String(store.KeyDocID)),
			orUnknown(h.Metadata.String(store.KeyPageNumber)),
			h.Text))
	}
	return strings.Join(parts, Separator)
}

// FormatMemory renders hits as "[Memory from conversation <id> (<type>)]" blocks.
func FormatMemory(hits []store.Hit) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("[Memory from conversation %s (%s)]\n%s",
			orUnknown(h.Metadata.String(store.KeyConversationID)),
			orUnknown(h.Metadata.String(store.KeyType)),
			h.Text))
	}
	return strings.Join(parts, Separator)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// uniqueByID keeps the first hit for each record id.
func uniqueByID(hits []store.Hit) []store.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
