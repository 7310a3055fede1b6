package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nickcecere/ragchat/internal/chat"
)

const prefetch = 8

// Indexer stores one memory entry.
type Indexer interface {
	Index(ctx context.Context, entry chat.MemoryEntry) error
}

// MemoryWorker consumes memory entries and indexes them. A failed entry is
// requeued once and dropped on its second failure.
type MemoryWorker struct {
	ch      Channel
	queue   string
	indexer Indexer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewMemoryWorker(ch Channel, queue string, indexer Indexer) *MemoryWorker {
	return &MemoryWorker{ch: ch, queue: queue, indexer: indexer}
}

// Start begins consuming in the background.
func (w *MemoryWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	if err := declare(w.ch, w.queue); err != nil {
		return err
	}
	if err := w.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch failed: %w", err)
	}
	deliveries, err := w.ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()
	return nil
}

func (w *MemoryWorker) handle(ctx context.Context, d amqp.Delivery) {
	var entry chat.MemoryEntry
	if err := json.Unmarshal(d.Body, &entry); err != nil {
		log.Warn("Dropping undecodable memory message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := w.indexer.Index(ctx, entry); err != nil {
		log.Warn("Failed to index memory",
			"conversation_id", entry.ConversationID,
			"message_id", entry.MessageID,
			"redelivered", d.Redelivered,
			"error", err,
		)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

// Close stops consuming and waits for the in-flight message.
func (w *MemoryWorker) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return w.ch.Close()
}
