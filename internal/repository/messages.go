package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"

	"github.com/nickcecere/ragchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// Recent returns up to limit messages of a conversation in chronological
// order, skipping the message with id excludeID.
func (r *MessageRepository) Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var messages []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND id <> ?", conversationID, excludeID).
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (r *MessageRepository) CountByConversationID(ctx context.Context, conversationID int64) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.Message{}).Where("conversation_id = ?", conversationID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count messages failed: %w", err)
	}
	return n, nil
}

// SaveReply stores the assistant message and touches the conversation in one
// transaction. A non-empty title replaces the conversation title.
func (r *MessageRepository) SaveReply(ctx context.Context, msg *model.Message, title string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("create reply failed: %w", err)
		}
		updates := map[string]any{"updated_at": time.Now()}
		if title != "" {
			updates["title"] = title
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", msg.ConversationID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update conversation failed: %w", err)
		}
		return nil
	})
}
