// Package cache keeps the recent messages of active conversations in Redis
// in front of the relational store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"

	"github.com/nickcecere/ragchat/internal/model"
)

const keyPrefix = "ragchat:history:"

// Source loads history on a cache miss.
type Source interface {
	Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error)
}

// HistoryCache caches the last Capacity messages of each conversation.
// Redis failures fall back to the source and are never returned.
type HistoryCache struct {
	client   redis.UniversalClient
	source   Source
	ttl      time.Duration
	capacity int
}

// NewHistoryCache caches up to capacity messages per conversation for ttl.
func NewHistoryCache(client redis.UniversalClient, source Source, capacity int, ttl time.Duration) *HistoryCache {
	if capacity <= 0 {
		capacity = 11
	}
	return &HistoryCache{client: client, source: source, ttl: ttl, capacity: capacity}
}

func key(conversationID int64) string {
	return fmt.Sprintf("%s%d", keyPrefix, conversationID)
}

// Recent returns up to limit messages in chronological order, skipping
// excludeID. Requests larger than the cache go straight to the source.
func (c *HistoryCache) Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit+1 > c.capacity {
		return c.source.Recent(ctx, conversationID, limit, excludeID)
	}

	cached, err := c.read(ctx, conversationID)
	if err != nil {
		log.Warn("History cache read failed", "conversation_id", conversationID, "error", err)
		return c.source.Recent(ctx, conversationID, limit, excludeID)
	}
	if cached == nil {
		cached, err = c.source.Recent(ctx, conversationID, c.capacity, 0)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, conversationID, cached)
	}

	out := make([]model.Message, 0, limit)
	for _, m := range cached {
		if m.ID != excludeID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Append adds msg to a conversation that is already cached. Uncached
// conversations are loaded on their next read.
func (c *HistoryCache) Append(ctx context.Context, msg model.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn("History cache encode failed", "message_id", msg.ID, "error", err)
		return
	}
	k := key(msg.ConversationID)
	_, err = c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPushX(ctx, k, data)
		p.LTrim(ctx, k, int64(-c.capacity), -1)
		if c.ttl > 0 {
			p.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	if err != nil {
		log.Warn("History cache append failed", "conversation_id", msg.ConversationID, "error", err)
	}
}

// Invalidate forgets a conversation.
func (c *HistoryCache) Invalidate(ctx context.Context, conversationID int64) {
	if err := c.client.Del(ctx, key(conversationID)).Err(); err != nil {
		log.Warn("History cache invalidate failed", "conversation_id", conversationID, "error", err)
	}
}

// read returns nil, nil on a miss.
func (c *HistoryCache) read(ctx context.Context, conversationID int64) ([]model.Message, error) {
	raw, err := c.client.LRange(ctx, key(conversationID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]model.Message, 0, len(raw))
	for _, r := range raw {
		var m model.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode cached message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *HistoryCache) fill(ctx context.Context, conversationID int64, messages []model.Message) {
	if len(messages) == 0 {
		return
	}
	values := make([]any, 0, len(messages))
	for _, m := range messages {
		data, err := json.Marshal(m)
		if err != nil {
			log.Warn("History cache encode failed", "message_id", m.ID, "error", err)
			return
		}
		values = append(values, data)
	}
	k := key(conversationID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		p.RPush(ctx, k, values...)
		if c.ttl > 0 {
			p.Expire(ctx, k, c.ttl)
		}
		return nil
	})
	if err != nil {
		log.Warn("History cache fill failed", "conversation_id", conversationID, "error", err)
	}
}
