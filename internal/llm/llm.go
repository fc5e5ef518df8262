// Package llm is the multi-provider gateway for completions and embeddings.
//
// Requests carry an optional user credential; when it fails and a system
// fallback key is configured for the provider, the gateway retries with the
// system key and flags the result. Completion failures are returned as
// unsuccessful results rather than errors so callers can always record the
// outcome.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrUnknownProvider indicates a provider name outside the supported set.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrEmbeddingsUnsupported indicates the provider has no embedding API.
	ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")

	// ErrNoCredential indicates neither a user credential nor a system key is
	// available for the provider.
	ErrNoCredential = errors.New("no credential available for provider")
)

// providerModels is the static capability table of supported completion
// models per provider. The first entry is the default when a request names
// no model. Validated at gateway construction.
var providerModels = map[string][]string{
	"openai":    {"gpt-4o-mini", "gpt-4o", "gpt-4.1", "gpt-4.1-mini"},
	"google":    {"gemini-2.0-flash", "gemini-2.5-flash", "gemini-2.5-pro"},
	"anthropic": {"claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"},
}

// Credential selects a provider and carries the caller's API key. An empty
// APIKey means "use the system key".
type Credential struct {
	Provider string
	APIKey   string
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest is a single prompt/response exchange.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// CompletionResult is the outcome of a completion attempt. Failed requests
// have Success false and the final error in Err; the gateway never returns
// an error for a completion.
type CompletionResult struct {
	Success       bool
	Content       string
	Model         string
	Provider      string
	Usage         Usage
	CostUSD       float64
	UsedSystemKey bool
	Err           error
}

// Provider is one upstream LLM vendor.
type Provider interface {
	Name() string

	Complete(ctx context.Context, apiKey string, req CompletionRequest) (string, Usage, error)

	// Embed returns the embedding for one text. Providers without an
	// embedding API return ErrEmbeddingsUnsupported.
	Embed(ctx context.Context, apiKey, model, text string) ([]float32, error)

	SupportsEmbeddings() bool
}

// ProviderInfo describes a configured provider for the API surface.
type ProviderInfo struct {
	Name               string   `json:"name"`
	Models             []string `json:"models"`
	SupportsEmbeddings bool     `json:"supports_embeddings"`
	HasSystemKey       bool     `json:"has_system_key"`
}
