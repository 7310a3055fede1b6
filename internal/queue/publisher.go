package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nickcecere/ragchat/internal/chat"
)

const publishTimeout = 5 * time.Second

// MemoryPublisher hands memory entries to the broker. It implements
// chat.MemoryWriter.
type MemoryPublisher struct {
	mu    sync.Mutex
	ch    Channel
	queue string
}

// NewMemoryPublisher declares queue on ch.
func NewMemoryPublisher(ch Channel, queue string) (*MemoryPublisher, error) {
	if err := declare(ch, queue); err != nil {
		return nil, err
	}
	return &MemoryPublisher{ch: ch, queue: queue}, nil
}

// Publish sends one entry as a persistent message.
func (p *MemoryPublisher) Publish(ctx context.Context, entry chat.MemoryEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal memory entry failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.Timestamp,
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish memory entry failed: %w", err)
	}
	return nil
}

// Write publishes entry and logs a failure instead of returning it.
func (p *MemoryPublisher) Write(ctx context.Context, entry chat.MemoryEntry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.Publish(ctx, entry); err != nil {
		log.Warn("Failed to queue memory", "conversation_id", entry.ConversationID, "message_id", entry.MessageID, "error", err)
	}
}

func (p *MemoryPublisher) Close() error {
	return p.ch.Close()
}
