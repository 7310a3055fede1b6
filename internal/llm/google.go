package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
)

const defaultGoogleBaseURL = "https://generativelanguage.googleapis.com"

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GoogleStream streams from the Gemini streamGenerateContent endpoint.
// Assistant turns are sent with the "model" role and the system message as
// systemInstruction.
func GoogleStream(baseURL string, httpClient *http.Client) StreamFunc {
	if baseURL == "" {
		baseURL = defaultGoogleBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return func(ctx context.Context, req Request) iter.Seq[string] {
		return func(yield func(string) bool) {
			fail := func(status int, err error) {
				if ctx.Err() != nil {
					return
				}
				report(yield, &StreamError{Provider: ProviderGoogle, Status: status, Err: err})
			}

			system, rest := splitSystem(req.Messages)
			payload := geminiRequest{Contents: make([]geminiContent, len(rest))}
			for i, m := range rest {
				role := "user"
				if m.Role == "assistant" {
					role = "model"
				}
				payload.Contents[i] = geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}}
			}
			if system != "" {
				payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
			}

			body, err := json.Marshal(payload)
			if err != nil {
				fail(0, fmt.Errorf("failed to marshal request: %w", err))
				return
			}

			endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", baseURL, url.PathEscape(req.Model))
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
			if err != nil {
				fail(0, fmt.Errorf("failed to create request: %w", err))
				return
			}
			httpReq.Header.Set("Content-Type", "application/json")
			httpReq.Header.Set("x-goog-api-key", req.APIKey)

			log.Debug("Requesting completion", "provider", ProviderGoogle, "model", req.Model)

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
				var chunk geminiResponse
				if err := json.Unmarshal(data, &chunk); err != nil {
					streamErr = fmt.Errorf("failed to decode chunk: %w", err)
					return false
				}
				if chunk.Error != nil {
					streamErr = fmt.Errorf("code %d: %s", chunk.Error.Code, chunk.Error.Message)
					return false
				}
				for _, c := range chunk.Candidates {
					for _, p := range c.Content.Parts {
						if p.Text == "" {
							continue
						}
						if !yield(p.Text) {
							return false
						}
					}
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
