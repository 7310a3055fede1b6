package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind selects one of the two per-user collections.
type Kind string

const (
	KindDefault       Kind = "default"
	KindConversations Kind = "conversations"
)

// Metadata keys written by the ingestion and memory paths.
const (
	KeyDocID          = "doc_id"
	KeyPageNumber     = "page_number"
	KeyChunkIndex     = "chunk_index"
	KeyConversationID = "conversation_id"
	KeyMessageID      = "message_id"
	KeyType           = "type"
	KeyTimestamp      = "timestamp"
)

// Memory types stored under KeyType.
const (
	TypeUserMessage      = "user_message"
	TypeAssistantMessage = "assistant_message"
)

// UserCollectionName returns user_{uid}_{kind}.
func UserCollectionName(userID int64, kind Kind) string {
	return fmt.Sprintf("user_%d_%s", userID, kind)
}

// UserCollectionPrefix is the prefix shared by every current collection of a user.
func UserCollectionPrefix(userID int64) string {
	return fmt.Sprintf("user_%d_", userID)
}

// IsUserCollection reports whether ref already names a per-user collection
// of userID.
func IsUserCollection(ref string, userID int64) bool {
	return strings.HasPrefix(ref, UserCollectionPrefix(userID))
}

// LegacyCollectionName returns the per-document name doc_{uid}_{doc}.
func LegacyCollectionName(userID, docID int64) string {
	return fmt.Sprintf("doc_%d_%d", userID, docID)
}

// LegacyCollectionPrefix matches every legacy collection of a user.
func LegacyCollectionPrefix(userID int64) string {
	return fmt.Sprintf("doc_%d_", userID)
}

// ParseLegacyCollectionName extracts user and document ids from a legacy name.
func ParseLegacyCollectionName(name string) (userID, docID int64, ok bool) {
	rest, found := strings.CutPrefix(name, "doc_")
	if !found {
		return 0, 0, false
	}
	u, d, found := strings.Cut(rest, "_")
	if !found {
		return 0, 0, false
	}
	var err error
	if userID, err = strconv.ParseInt(u, 10, 64); err != nil {
		return 0, 0, false
	}
	if docID, err = strconv.ParseInt(d, 10, 64); err != nil {
		return 0, 0, false
	}
	return userID, docID, true
}

// ChunkID returns doc_{doc}_chunk_{i}.
func ChunkID(docID int64, chunkIndex int) string {
	return fmt.Sprintf("doc_%d_chunk_%d", docID, chunkIndex)
}

// MemoryID returns conv_{cid}_msg_{mid}.
func MemoryID(conversationID, messageID int64) string {
	return fmt.Sprintf("conv_%d_msg_%d", conversationID, messageID)
}

// FormatID renders a relational id the way it is stored in metadata.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
