// Package chat runs a chat turn: it stores the user's message, gathers
// document and memory context, streams the model's reply and stores it.
package chat

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragchat/internal/llm"
	"github.com/nickcecere/ragchat/internal/model"
	"github.com/nickcecere/ragchat/internal/retrieval"
	"github.com/nickcecere/ragchat/internal/store"
)

// Conversations is the conversation store.
type Conversations interface {
	Create(ctx context.Context, conv *model.Conversation) error
	GetByIDAndUserID(ctx context.Context, id, userID int64) (*model.Conversation, error)
}

// Messages is the message store.
type Messages interface {
	Create(ctx context.Context, msg *model.Message) error
	Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error)
	SaveReply(ctx context.Context, msg *model.Message, title string) error
}

// Documents reports how many documents a user owns.
type Documents interface {
	CountByUserID(ctx context.Context, userID int64) (int64, error)
}

// Credentials resolves a user's API key for a provider.
type Credentials interface {
	GetAPIKey(ctx context.Context, userID int64, provider string) (string, bool, error)
}

// Retriever gathers prompt context.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) (retrieval.Context, error)
}

// Streamer streams a reply from a provider.
type Streamer interface {
	Stream(ctx context.Context, p llm.Provider, req llm.Request) iter.Seq[string]
}

// History serves recent messages, usually through a cache.
type History interface {
	Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error)
	Append(ctx context.Context, msg model.Message)
}

// Deps are the collaborators of an Orchestrator. History and Memory are
// optional.
type Deps struct {
	Conversations Conversations
	Messages      Messages
	Documents     Documents
	Credentials   Credentials
	Retriever     Retriever
	Streamer      Streamer
	History       History
	Memory        MemoryWriter
}

// Options tune a turn.
type Options struct {
	DefaultModel    string
	HistoryLimit    int
	TitleLength     int
	DocumentResults int
	MemoryEnabled   bool
	MemoryResults   int
	SearchBothTypes bool
}

// TurnRequest is one user message.
type TurnRequest struct {
	UserID         int64
	ConversationID int64
	Message        string
	// Model defaults to Options.DefaultModel.
	Model string
	// DocumentIDs restricts document retrieval to these documents.
	DocumentIDs []int64
	// MemoryEnabled overrides Options.MemoryEnabled when set.
	MemoryEnabled *bool
}

// TurnResult describes a finished turn.
type TurnResult struct {
	UserMessageID      int64
	AssistantMessageID int64
	Reply              string
	Title              string
	Provider           llm.Provider
	// Partial is set when the client went away before the reply ended.
	Partial bool
}

// EventType names a turn event.
type EventType string

const (
	EventTurnStarted  EventType = "turn_started"
	EventToken        EventType = "token"
	EventTurnComplete EventType = "turn_complete"
	EventTurnFailed   EventType = "turn_failed"
)

// Event is sent to the client during a turn.
type Event struct {
	Type               EventType `json:"type"`
	Text               string    `json:"text,omitempty"`
	UserMessageID      int64     `json:"user_message_id,omitempty"`
	AssistantMessageID int64     `json:"assistant_message_id,omitempty"`
	Reason             string    `json:"reason,omitempty"`
}

// Emit delivers an event. An error means the client is gone; no further
// events are sent for the turn.
type Emit func(Event) error

// Orchestrator runs chat turns.
type Orchestrator struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.History == nil {
		deps.History = uncachedHistory{deps.Messages}
	}
	if deps.Memory == nil {
		deps.Memory = nopMemoryWriter{}
	}
	if opts.HistoryLimit < 0 {
		opts.HistoryLimit = 0
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// NewConversation starts an empty conversation for userID.
func (o *Orchestrator) NewConversation(ctx context.Context, userID int64) (*model.Conversation, error) {
	conv := &model.Conversation{UserID: userID}
	if err := o.deps.Conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Turn runs one chat turn and reports progress through emit. A failure is
// both returned and sent as a turn_failed event. The user's message stays
// stored even when generation fails.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest, emit Emit) (*TurnResult, error) {
	c := &client{emit: emit}
	res, err := o.turn(ctx, req, c)
	if err != nil {
		log.Error("Chat turn failed", "user_id", req.UserID, "conversation_id", req.ConversationID, "error", err)
		c.send(Event{Type: EventTurnFailed, Reason: Reason(err)})
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) turn(ctx context.Context, req TurnRequest, c *client) (*TurnResult, error) {
	start := time.Now()

	req.Message = strings.TrimSpace(req.Message)
	if req.UserID <= 0 || req.ConversationID <= 0 || req.Message == "" {
		return nil, fmt.Errorf("%w: user, conversation and message are required", ErrInvalidTurn)
	}

	conv, err := o.deps.Conversations.GetByIDAndUserID(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}

	modelName := req.Model
	if modelName == "" {
		modelName = o.opts.DefaultModel
	}
	provider := llm.ProviderForModel(modelName)

	var apiKey string
	if llm.RequiresKey(provider) {
		key, ok, err := o.deps.Credentials.GetAPIKey(ctx, req.UserID, string(provider))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, provider)
		}
		apiKey = key
	}

	userMsg := &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleUser,
		Content:        req.Message,
	}
	if err := o.deps.Messages.Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	o.deps.History.Append(ctx, *userMsg)

	res := &TurnResult{UserMessageID: userMsg.ID, Provider: provider}
	c.send(Event{Type: EventTurnStarted, UserMessageID: userMsg.ID})

	memoryOn := o.opts.MemoryEnabled
	if req.MemoryEnabled != nil {
		memoryOn = *req.MemoryEnabled
	}
	if memoryOn {
		o.remember(ctx, req.UserID, userMsg, store.TypeUserMessage)
	}

	system := o.systemPrompt(ctx, req, memoryOn)

	history, err := o.deps.History.Recent(ctx, conv.ID, o.opts.HistoryLimit, userMsg.ID)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	reply, err := o.stream(ctx, c, provider, llm.Request{
		Model:    modelName,
		APIKey:   apiKey,
		Messages: BuildMessages(system, history, req.Message),
	})
	if err != nil {
		return res, err
	}
	res.Reply = reply
	res.Partial = c.gone || ctx.Err() != nil

	if reply == "" {
		if res.Partial {
			return res, nil
		}
		return res, fmt.Errorf("%w: empty reply", ErrGeneration)
	}

	if len(history) == 0 && conv.Title == "" {
		res.Title = Title(req.Message, o.opts.TitleLength)
	}

	assistantMsg := &model.Message{
		ConversationID: conv.ID,
		Role:           model.RoleAssistant,
		Content:        reply,
		ModelUsed:      modelName,
	}
	// a disconnected client still gets its partial reply stored
	saveCtx := context.WithoutCancel(ctx)
	if err := o.deps.Messages.SaveReply(saveCtx, assistantMsg, res.Title); err != nil {
		return res, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	res.AssistantMessageID = assistantMsg.ID
	o.deps.History.Append(saveCtx, *assistantMsg)

	if memoryOn {
		o.remember(saveCtx, req.UserID, assistantMsg, store.TypeAssistantMessage)
	}

	c.send(Event{Type: EventTurnComplete, UserMessageID: userMsg.ID, AssistantMessageID: assistantMsg.ID})

	log.Debug("Chat turn complete",
		"conversation_id", conv.ID,
		"provider", provider,
		"model", modelName,
		"partial", res.Partial,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

// systemPrompt runs retrieval. Failures only cost the context.
func (o *Orchestrator) systemPrompt(ctx context.Context, req TurnRequest, memoryOn bool) string {
	rreq := retrieval.Request{
		UserID:    req.UserID,
		Query:     req.Message,
		DocumentK: o.opts.DocumentResults,
		DocIDs:    req.DocumentIDs,
	}

	n, err := o.deps.Documents.CountByUserID(ctx, req.UserID)
	if err != nil {
		log.Warn("Failed to count documents", "user_id", req.UserID, "error", err)
	}
	rreq.Documents = n > 0

	if memoryOn {
		rreq.Memory = true
		rreq.MemoryOpt = retrieval.MemoryOptions{
			ExcludeConversationID: req.ConversationID,
			K:                     o.opts.MemoryResults,
		}
		if !o.opts.SearchBothTypes {
			rreq.MemoryOpt.Types = []string{store.TypeUserMessage}
		}
	}

	rc, err := o.deps.Retriever.Retrieve(ctx, rreq)
	if err != nil {
		log.Warn("Retrieval failed, answering without context", "user_id", req.UserID, "error", err)
		return SystemPrompt("", "")
	}
	return SystemPrompt(rc.Documents, rc.Memory)
}

// stream forwards fragments until the reply ends or the client leaves.
func (o *Orchestrator) stream(ctx context.Context, c *client, provider llm.Provider, req llm.Request) (reply string, err error) {
	var sb strings.Builder
	defer func() {
		if r := recover(); r != nil {
			reply = sb.String()
			err = fmt.Errorf("%w: provider %s panicked: %v", ErrGeneration, provider, r)
		}
	}()

	for fragment := range o.deps.Streamer.Stream(ctx, provider, req) {
		sb.WriteString(fragment)
		if !c.send(Event{Type: EventToken, Text: fragment}) {
			break
		}
	}
	return sb.String(), nil
}

func (o *Orchestrator) remember(ctx context.Context, userID int64, msg *model.Message, kind string) {
	o.deps.Memory.Write(ctx, MemoryEntry{
		UserID:         userID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Type:           kind,
		Text:           msg.Content,
		Timestamp:      msg.CreatedAt,
	})
}

// client tracks whether the receiver is still listening.
type client struct {
	emit Emit
	gone bool
}

func (c *client) send(e Event) bool {
	if c.gone || c.emit == nil {
		return !c.gone
	}
	if err := c.emit(e); err != nil {
		c.gone = true
		log.Debug("Client went away", "event", e.Type, "error", err)
		return false
	}
	return true
}

type uncachedHistory struct {
	messages Messages
}

func (h uncachedHistory) Recent(ctx context.Context, conversationID int64, limit int, excludeID int64) ([]model.Message, error) {
	return h.messages.Recent(ctx, conversationID, limit, excludeID)
}

func (uncachedHistory) Append(context.Context, model.Message) {}
