package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIProvider talks to the OpenAI API, or to any OpenAI-compatible
// endpoint when constructed with a base URL. The Anthropic provider is this
// type pointed at Anthropic's compatibility endpoint with embeddings
// disabled.
type OpenAIProvider struct {
	name       string
	baseURL    string
	embeddings bool
}

func NewOpenAIProvider() *OpenAIProvider {
	return &OpenAIProvider{name: "openai", embeddings: true}
}

// NewAnthropicProvider uses Anthropic's OpenAI-compatible chat endpoint.
// Anthropic has no embedding API.
func NewAnthropicProvider() *OpenAIProvider {
	return &OpenAIProvider{
		name:    "anthropic",
		baseURL: "https://api.anthropic.com/v1/",
	}
}

func (p *OpenAIProvider) Name() string             { return p.name }
func (p *OpenAIProvider) SupportsEmbeddings() bool { return p.embeddings }

func (p *OpenAIProvider) client(apiKey string) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return openai.NewClient(opts...)
}

func (p *OpenAIProvider) Complete(ctx context.Context, apiKey string, req CompletionRequest) (string, Usage, error) {
	client := p.client(apiKey)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Usage{}, fmt.Errorf("%s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("%s completion: response has no choices", p.name)
	}

	usage := Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return resp.Choices[0].Message.Content, usage, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	if !p.embeddings {
		return nil, fmt.Errorf("%s: %w", p.name, ErrEmbeddingsUnsupported)
	}

	client := p.client(apiKey)
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s embedding: %w", p.name, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%s embedding: empty response", p.name)
	}

	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
