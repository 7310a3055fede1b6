package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicStream streams from the Anthropic Messages API. The system
// message is sent in the dedicated system field.
func AnthropicStream(baseURL string, maxTokens int, httpClient *http.Client) StreamFunc {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return func(ctx context.Context, req Request) iter.Seq[string] {
		return func(yield func(string) bool) {
			fail := func(status int, err error) {
				if ctx.Err() != nil {
					return
				}
				report(yield, &StreamError{Provider: ProviderAnthropic, Status: status, Err: err})
			}

			system, rest := splitSystem(req.Messages)
			msgs := make([]anthropicMessage, len(rest))
			for i, m := range rest {
				msgs[i] = anthropicMessage{Role: m.Role, Content: m.Content}
			}

			body, err := json.Marshal(anthropicRequest{
				Model:     req.Model,
				Messages:  msgs,
				System:    system,
				MaxTokens: maxTokens,
				Stream:    true,
			})
			if err != nil {
				fail(0, fmt.Errorf("failed to marshal request: %w", err))
				return
			}

			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/messages", bytes.NewReader(body))
			if err != nil {
				fail(0, fmt.Errorf("failed to create request: %w", err))
				return
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("Accept", "text/event-stream")
			httpReq.Header.Set("x-api-key", req.APIKey)
			httpReq.Header.Set("anthropic-version", anthropicVersion)

			log.Debug("Requesting completion", "provider", ProviderAnthropic, "model", req.Model)

			resp, err := httpClient.Do(httpReq)
			if err != nil {
				fail(0, fmt.Errorf("failed to make request: %w", err))
				return
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				fail(resp.StatusCode, errors.New(errorBody(resp.Body)))
				return
			}

			var streamErr error
			err = readSSE(resp.Body, func(data []byte) bool {
				var event anthropicStreamEvent
				if err := json.Unmarshal(data, &event); err != nil {
					streamErr = fmt.Errorf("failed to decode event: %w", err)
					return false
				}
				switch event.Type {
				case "content_block_delta":
					if event.Delta != nil && event.Delta.Text != "" {
						return yield(event.Delta.Text)
					}
				case "error":
					msg := "stream error"
					if event.Error != nil {
						msg = event.Error.Type + ": " + event.Error.Message
					}
					streamErr = errors.New(msg)
					return false
				case "message_stop":
					return false
				}
				return true
			})
			if streamErr == nil {
				streamErr = err
			}
			if streamErr != nil {
				fail(0, streamErr)
			}
		}
	}
}
