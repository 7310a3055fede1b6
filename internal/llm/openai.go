package llm

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIStream streams from an OpenAI-compatible chat completions endpoint.
// Grok is served through the same wire format under its own base URL.
func OpenAIStream(provider Provider, baseURL string, httpClient *http.Client) StreamFunc {
	return func(ctx context.Context, req Request) iter.Seq[string] {
		return func(yield func(string) bool) {
			opts := []option.RequestOption{
				option.WithAPIKey(req.APIKey),
				option.WithMaxRetries(0),
			}
			if baseURL != "" {
				opts = append(opts, option.WithBaseURL(baseURL))
			}
			if httpClient != nil {
				opts = append(opts, option.WithHTTPClient(httpClient))
			}
			client := openai.NewClient(opts...)

			log.Debug("Requesting completion", "provider", provider, "model", req.Model)

			stream := client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
				Model:    openai.ChatModel(req.Model),
				Messages: openAIMessages(req.Messages),
			})
			defer stream.Close()

			for stream.Next() {
				chunk := stream.Current()
				if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
					continue
				}
				if !yield(chunk.Choices[0].Delta.Content) {
					return
				}
			}

			if err := stream.Err(); err != nil && ctx.Err() == nil {
				se := &StreamError{Provider: provider, Err: err}
				var apiErr *openai.Error
				if errors.As(err, &apiErr) {
					se.Status = apiErr.StatusCode
				}
				report(yield, se)
			}
		}
	}
}

func openAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			out[i] = openai.SystemMessage(m.Content)
		case "assistant":
			out[i] = openai.AssistantMessage(m.Content)
		default:
			out[i] = openai.UserMessage(m.Content)
		}
	}
	return out
}
