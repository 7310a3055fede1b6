// Package llm streams chat completions from the supported model backends.
//
// Every backend is reached through a StreamFunc. A StreamFunc never returns
// an error: a backend failure is logged and surfaced as one final text
// fragment, so callers consume every backend with the same loop.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Provider names a model backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
	ProviderGrok      Provider = "grok"
	ProviderOllama    Provider = "ollama"
)

// OllamaPrefix routes a model to the local Ollama backend, e.g. "ollama/llama3".
const OllamaPrefix = "ollama/"

// ErrProviderStream marks a failed backend stream.
var ErrProviderStream = errors.New("provider stream failed")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Request is a single streaming call.
type Request struct {
	Model    string
	APIKey   string
	Messages []Message
}

// StreamFunc streams the reply to req as text fragments. The sequence is
// finite and can be ranged over once.
type StreamFunc func(ctx context.Context, req Request) iter.Seq[string]

// StreamError carries the details of a failed stream for logs. Only
// Fragment is shown to users.
type StreamError struct {
	Provider Provider
	Status   int
	Err      error
}

func (e *StreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *StreamError) Unwrap() []error { return []error{ErrProviderStream, e.Err} }

// Fragment is the text emitted in place of the failed reply. It never
// contains backend error bodies.
func (e *StreamError) Fragment() string {
	if e.Status != 0 {
		return fmt.Sprintf("Error: the %s request failed (status %d).", e.Provider, e.Status)
	}
	return fmt.Sprintf("Error: the %s request failed.", e.Provider)
}

// Options configures the built-in backends.
type Options struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GoogleBaseURL    string
	GrokBaseURL      string
	OllamaURL        string

	// MaxTokens bounds replies for backends that require a limit.
	MaxTokens int

	HTTPClient *http.Client
}

const defaultMaxTokens = 4096

// Registry maps providers to their stream functions.
type Registry struct {
	funcs map[Provider]StreamFunc
}

// NewRegistry registers every built-in backend.
func NewRegistry(opts Options) *Registry {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout: 5 * time.Minute, // LLM calls can be slow
		}
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}

	r := &Registry{funcs: make(map[Provider]StreamFunc)}
	r.Register(ProviderOpenAI, OpenAIStream(ProviderOpenAI, opts.OpenAIBaseURL, opts.HTTPClient))
	r.Register(ProviderGrok, OpenAIStream(ProviderGrok, opts.GrokBaseURL, opts.HTTPClient))
	r.Register(ProviderAnthropic, AnthropicStream(opts.AnthropicBaseURL, opts.MaxTokens, opts.HTTPClient))
	r.Register(ProviderGoogle, GoogleStream(opts.GoogleBaseURL, opts.HTTPClient))
	r.Register(ProviderOllama, OllamaStream(opts.OllamaURL, opts.HTTPClient))
	return r
}

// Register adds or replaces the stream function of p.
func (r *Registry) Register(p Provider, fn StreamFunc) {
	r.funcs[p] = fn
}

// Lookup returns the stream function of p.
func (r *Registry) Lookup(p Provider) (StreamFunc, bool) {
	fn, ok := r.funcs[p]
	return fn, ok
}

// Providers lists the registered providers in name order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.funcs))
	for p := range r.funcs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stream calls the stream function of p. An unknown provider yields an
// error fragment.
func (r *Registry) Stream(ctx context.Context, p Provider, req Request) iter.Seq[string] {
	fn, ok := r.funcs[p]
	if !ok {
		return failed(&StreamError{Provider: p, Err: errors.New("no such provider")})
	}
	return fn(ctx, req)
}

// ProviderForModel picks a backend from a model name. Unknown names go to
// OpenAI.
func ProviderForModel(model string) Provider {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, OllamaPrefix):
		return ProviderOllama
	case strings.Contains(m, "gpt"), strings.Contains(m, "o1"):
		return ProviderOpenAI
	case strings.Contains(m, "claude"):
		return ProviderAnthropic
	case strings.Contains(m, "gemini"):
		return ProviderGoogle
	case strings.Contains(m, "grok"):
		return ProviderGrok
	default:
		return ProviderOpenAI
	}
}

// RequiresKey reports whether calls to p need a user credential.
func RequiresKey(p Provider) bool {
	return p != ProviderOllama
}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	switch p {
	case ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderGrok, ProviderOllama:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", name)
}

// splitSystem hoists system messages out of the list, for backends that
// take the system prompt in its own field.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func report(yield func(string) bool, err *StreamError) {
	log.Error("Provider stream failed", "provider", err.Provider, "status", err.Status, "error", err.Err)
	yield(err.Fragment())
}

func failed(err *StreamError) iter.Seq[string] {
	return func(yield func(string) bool) {
		report(yield, err)
	}
}
