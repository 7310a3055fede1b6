// Package model holds the relational records persisted through gorm.
package model

import "time"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email     string    `gorm:"size:128" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is an uploaded PDF. CollectionRef names the vector collection
// holding its chunks: user_{uid}_default, or doc_{uid}_{id} before migration.
type Document struct {
	ID            int64     `gorm:"primaryKey" json:"id"`
	UserID        int64     `gorm:"not null;index" json:"user_id"`
	Filename      string    `gorm:"size:256;not null" json:"filename"`
	FilePath      string    `gorm:"size:1024" json:"file_path"`
	ContentHash   string    `gorm:"size:64;index" json:"content_hash"`
	FileSize      int64     `json:"file_size"`
	ChunkCount    int       `json:"chunk_count"`
	CollectionRef string    `gorm:"size:128" json:"collection_ref"`
	CreatedAt     time.Time `json:"created_at"`
}

type Conversation struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"not null;index" json:"user_id"`
	Title     string    `gorm:"size:256" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID int64     `gorm:"not null;index" json:"conversation_id"`
	Role           string    `gorm:"size:16;not null" json:"role"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	ModelUsed      string    `gorm:"size:128" json:"model_used"`
	CreatedAt      time.Time `json:"created_at"`
}

// APIKey stores one encrypted provider credential per user and provider.
type APIKey struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UserID       int64     `gorm:"not null;uniqueIndex:idx_api_keys_user_provider" json:"user_id"`
	Provider     string    `gorm:"size:32;not null;uniqueIndex:idx_api_keys_user_provider" json:"provider"`
	EncryptedKey string    `gorm:"type:text;not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{&User{}, &Document{}, &Conversation{}, &Message{}, &APIKey{}}
}
