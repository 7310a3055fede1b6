package chat

import (
	"strings"

	"github.com/nickcecere/ragchat/internal/llm"
	"github.com/nickcecere/ragchat/internal/model"
)

const (
	basePrompt    = "You are a helpful assistant."
	contextIntro  = "You are a helpful assistant. Use the following information to answer the user's question. Reference it naturally when relevant."
	contextOutro  = "If the provided information does not contain an answer, rely on your general knowledge."
	documentLabel = "Document Context:\n"
	memoryLabel   = "Relevant Past Discussions:\n"
	titleEllipsis = "..."
)

// SystemPrompt builds the system message from whichever context sections
// are non-empty. Documents come before memories.
func SystemPrompt(documents, memories string) string {
	var sections []string
	if documents != "" {
		sections = append(sections, documentLabel+documents)
	}
	if memories != "" {
		sections = append(sections, memoryLabel+memories)
	}
	if len(sections) == 0 {
		return basePrompt
	}
	return contextIntro + "\n\n" + strings.Join(sections, "\n\n") + "\n\n" + contextOutro
}

// BuildMessages orders the system prompt, prior turns and the new user message.
func BuildMessages(system string, history []model.Message, user string) []llm.Message {
	out := make([]llm.Message, 0, len(history)+2)
	out = append(out, llm.Message{Role: model.RoleSystem, Content: system})
	for _, m := range history {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(out, llm.Message{Role: model.RoleUser, Content: user})
}

// Title shortens a first message to n characters, adding an ellipsis when
// it was cut.
func Title(message string, n int) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if n <= 0 || len(runes) <= n {
		return message
	}
	return string(runes[:n]) + titleEllipsis
}
