package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/caseforge/caseforge/internal/config"
)

// Gateway routes completion and embedding requests to the configured
// providers, applying per-attempt timeouts, retries and the system-key
// fallback.
type Gateway struct {
	providers  map[string]Provider
	systemKeys map[string]string

	defaultProvider string
	defaultModel    string
	temperature     float32
	maxTokens       int
	timeout         time.Duration
	maxRetries      int
	retryBackoff    time.Duration

	embedProvider string
	embedModel    string

	logger *slog.Logger
}

// NewGateway validates the provider configuration eagerly: an unknown
// default provider or an embedding provider without an embedding API fails
// construction instead of the first request.
func NewGateway(cfg config.AIConfig, logger *slog.Logger) (*Gateway, error) {
	providers := map[string]Provider{
		config.ProviderOpenAI:    NewOpenAIProvider(),
		config.ProviderGoogle:    NewGoogleProvider(),
		config.ProviderAnthropic: NewAnthropicProvider(),
	}

	if _, ok := providers[cfg.Provider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	for name := range providers {
		if len(providerModels[name]) == 0 {
			return nil, fmt.Errorf("provider %q has no supported models", name)
		}
	}
	embedder, ok := providers[cfg.EmbeddingProvider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.EmbeddingProvider)
	}
	if !embedder.SupportsEmbeddings() {
		return nil, fmt.Errorf("%w: %q cannot serve as embedding provider",
			ErrEmbeddingsUnsupported, cfg.EmbeddingProvider)
	}

	return &Gateway{
		providers:       providers,
		systemKeys:      cfg.SystemKeys,
		defaultProvider: cfg.Provider,
		defaultModel:    cfg.Model,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		timeout:         cfg.RequestTimeout,
		maxRetries:      cfg.MaxRetries,
		retryBackoff:    time.Second,
		embedProvider:   cfg.EmbeddingProvider,
		embedModel:      cfg.EmbeddingModel,
		logger:          logger,
	}, nil
}

// Complete runs a completion. An empty credential provider falls back to the
// gateway default; an empty API key uses the system key directly. When a
// user key exhausts its retries the system key gets one more round, and the
// result is flagged so callers can surface the fallback.
//
// Complete never returns an error: failures come back as an unsuccessful
// result carrying the final error.
func (g *Gateway) Complete(ctx context.Context, cred Credential, req CompletionRequest) CompletionResult {
	providerName := cred.Provider
	if providerName == "" {
		providerName = g.defaultProvider
	}

	result := CompletionResult{Provider: providerName}

	provider, ok := g.providers[providerName]
	if !ok {
		result.Err = fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
		return result
	}

	req.Model = g.resolveModel(providerName, req.Model)
	if req.Temperature == 0 {
		req.Temperature = g.temperature
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = g.maxTokens
	}
	result.Model = req.Model

	systemKey := g.systemKeys[providerName]
	key := cred.APIKey
	usingSystemKey := key == ""
	if usingSystemKey {
		key = systemKey
	}
	if key == "" {
		result.Err = fmt.Errorf("%w: %q", ErrNoCredential, providerName)
		return result
	}

	content, usage, err := g.completeWithRetries(ctx, provider, key, req)
	if err != nil && !usingSystemKey && systemKey != "" && systemKey != key {
		g.logger.Warn("user credential failed, retrying with system key",
			slog.String("provider", providerName),
			slog.Any("error", err))
		content, usage, err = g.completeWithRetries(ctx, provider, systemKey, req)
		usingSystemKey = err == nil
	}
	if err != nil {
		result.Err = err
		return result
	}

	result.Success = true
	result.Content = content
	result.Usage = usage
	result.CostUSD = CostUSD(req.Model, usage)
	result.UsedSystemKey = usingSystemKey && cred.APIKey != ""
	return result
}

func (g *Gateway) completeWithRetries(ctx context.Context, provider Provider, key string, req CompletionRequest) (string, Usage, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", Usage{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * g.retryBackoff):
			}
		}

		content, usage, err := func() (string, Usage, error) {
			attemptCtx := ctx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			return provider.Complete(attemptCtx, key, req)
		}()
		if err == nil {
			return content, usage, nil
		}
		lastErr = err

		g.logger.Warn("completion attempt failed",
			slog.String("provider", provider.Name()),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return "", Usage{}, lastErr
}

// resolveModel picks the model for a provider. An explicit request wins, the
// configured default model applies only to the default provider, and anything
// else falls back to the provider's first supported model.
func (g *Gateway) resolveModel(providerName, model string) string {
	if model != "" {
		return model
	}
	if providerName == g.defaultProvider && g.defaultModel != "" {
		return g.defaultModel
	}
	if models := providerModels[providerName]; len(models) > 0 {
		return models[0]
	}
	return g.defaultModel
}

// Embed embeds text with the configured embedding provider and its system
// key. Embedding is a service-level capability, so user credentials do not
// apply here.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	provider := g.providers[g.embedProvider]
	key := g.systemKeys[g.embedProvider]
	if key == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoCredential, g.embedProvider)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return provider.Embed(ctx, key, g.embedModel, text)
}

// Model names the embedding model in use.
func (g *Gateway) Model() string { return g.embedModel }

// VerifyCredential checks an API key with a minimal completion round trip
// against the provider's resolved default model, and returns that model name.
func (g *Gateway) VerifyCredential(ctx context.Context, providerName, apiKey string) (string, error) {
	provider, ok := g.providers[providerName]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerName)
	}
	if apiKey == "" {
		return "", ErrNoCredential
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	model := g.resolveModel(providerName, "")
	_, _, err := provider.Complete(ctx, apiKey, CompletionRequest{
		Model:     model,
		Prompt:    "Reply with OK.",
		MaxTokens: 5,
	})
	if err != nil {
		return "", fmt.Errorf("verifying %s credential: %w", providerName, err)
	}
	return model, nil
}

// Providers describes the configured providers, sorted by name.
func (g *Gateway) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(g.providers))
	for name, p := range g.providers {
		infos = append(infos, ProviderInfo{
			Name:               name,
			Models:             providerModels[name],
			SupportsEmbeddings: p.SupportsEmbeddings(),
			HasSystemKey:       g.systemKeys[name] != "",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
