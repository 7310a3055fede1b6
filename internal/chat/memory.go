package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragchat/internal/embeddings"
	"github.com/nickcecere/ragchat/internal/store"
)

// MemoryEntry is one chat message to be indexed into the owner's
// conversations collection.
type MemoryEntry struct {
	UserID         int64     `json:"user_id"`
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	Type           string    `json:"type"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// MemoryWriter records memories without blocking or failing the turn.
type MemoryWriter interface {
	Write(ctx context.Context, entry MemoryEntry)
}

// MemoryIndexer embeds and stores memory entries.
type MemoryIndexer struct {
	store    store.Store
	embedder embeddings.Service
}

func NewMemoryIndexer(st store.Store, emb embeddings.Service) *MemoryIndexer {
	return &MemoryIndexer{store: st, embedder: emb}
}

// Index stores entry under conv_{cid}_msg_{mid}.
func (m *MemoryIndexer) Index(ctx context.Context, entry MemoryEntry) error {
	if entry.Text == "" {
		return nil
	}
	vector, err := m.embedder.EmbedQuery(ctx, entry.Text)
	if err != nil {
		return err
	}
	col, err := store.OpenUserCollection(ctx, m.store, entry.UserID, store.KindConversations)
	if err != nil {
		return err
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	err = m.store.Insert(ctx, col.Name, []store.Record{{
		ID:     store.MemoryID(entry.ConversationID, entry.MessageID),
		Vector: vector,
		Text:   entry.Text,
		Metadata: store.Metadata{
			store.KeyConversationID: store.FormatID(entry.ConversationID),
			store.KeyMessageID:      store.FormatID(entry.MessageID),
			store.KeyType:           entry.Type,
			store.KeyTimestamp:      ts.UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// AsyncMemoryWriter indexes entries on background goroutines that outlive
// the turn's context.
type AsyncMemoryWriter struct {
	indexer *MemoryIndexer
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewAsyncMemoryWriter(indexer *MemoryIndexer, timeout time.Duration) *AsyncMemoryWriter {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &AsyncMemoryWriter{indexer: indexer, timeout: timeout}
}

func (w *AsyncMemoryWriter) Write(ctx context.Context, entry MemoryEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer cancel()
		if err := w.indexer.Index(ctx, entry); err != nil {
			log.Warn("Failed to store memory",
				"conversation_id", entry.ConversationID,
				"message_id", entry.MessageID,
				"error", err,
			)
			return
		}
		log.Debug("Stored memory", "conversation_id", entry.ConversationID, "message_id", entry.MessageID, "type", entry.Type)
	}()
}

// Wait blocks until every pending write has finished.
func (w *AsyncMemoryWriter) Wait() {
	w.wg.Wait()
}

// nopMemoryWriter drops every entry.
type nopMemoryWriter struct{}

func (nopMemoryWriter) Write(context.Context, MemoryEntry) {}
