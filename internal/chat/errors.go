package chat

import "errors"

var (
	// ErrCredentialMissing means the user has no API key for the model's provider.
	ErrCredentialMissing = errors.New("no API key configured for provider")
	// ErrConversationNotFound means the conversation does not exist or belongs to someone else.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidTurn means a required field of the turn is missing.
	ErrInvalidTurn = errors.New("invalid chat request")
	// ErrGeneration covers failures after the user message was stored.
	ErrGeneration = errors.New("generation failed")
)

// Stable failure reasons reported to clients.
const (
	ReasonCredentialMissing    = "credential_missing"
	ReasonConversationNotFound = "conversation_not_found"
	ReasonInvalidRequest       = "invalid_request"
	ReasonGenerationFailed     = "generation_failed"
)

// Reason maps err to a stable reason string.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrCredentialMissing):
		return ReasonCredentialMissing
	case errors.Is(err, ErrConversationNotFound):
		return ReasonConversationNotFound
	case errors.Is(err, ErrInvalidTurn):
		return ReasonInvalidRequest
	default:
		return ReasonGenerationFailed
	}
}
