package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaChatRequest is the request body for the Ollama chat API.
type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaChatResponse is one NDJSON line of a streamed reply.
type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// OllamaStream streams from a local Ollama server. The "ollama/" model
// prefix is stripped before the request.
func OllamaStream(baseURL string, httpClient *http.Client) StreamFunc {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return func(ctx context.Context, req Request) iter.Seq[string] {
		return func(yield func(string) bool) {
			fail := func(status int, err error) {
				if ctx.Err() != nil {
					return
				}
				report(yield, &StreamError{Provider: ProviderOllama, Status: status, Err: err})
			}

			model := strings.TrimPrefix(req.Model, OllamaPrefix)
			body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: req.Messages, Stream: true})
			if err != nil {
				fail(0, fmt.Errorf("failed to marshal request: %w", err))
				return
			}

			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/chat", bytes.NewReader(body))
			if err != nil {
				fail(0, fmt.Errorf("failed to create request: %w", err))
				return
			}
			httpReq.Header.Set("Content-Type", "application/json")

			log.Debug("Requesting completion", "provider", ProviderOllama, "model", model)

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

			decoder := json.NewDecoder(resp.Body)
			for {
				var chunk ollamaChatResponse
				if err := decoder.Decode(&chunk); err != nil {
					if err == io.EOF {
						return
					}
					fail(0, fmt.Errorf("failed to decode chunk: %w", err))
					return
				}
				if chunk.Error != "" {
					fail(0, errors.New(chunk.Error))
					return
				}
				if chunk.Message.Content != "" && !yield(chunk.Message.Content) {
					return
				}
				if chunk.Done {
					return
				}
			}
		}
	}
}
