package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GoogleProvider talks to the Gemini API. Clients are constructed per call
// because the API key varies per request.
type GoogleProvider struct{}

func NewGoogleProvider() *GoogleProvider { return &GoogleProvider{} }

func (p *GoogleProvider) Name() string             { return "google" }
func (p *GoogleProvider) SupportsEmbeddings() bool { return true }

func (p *GoogleProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return client, nil
}

func (p *GoogleProvider) Complete(ctx context.Context, apiKey string, req CompletionRequest) (string, Usage, error) {
	client, err := p.client(ctx, apiKey)
	if err != nil {
		return "", Usage{}, err
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", Usage{}, fmt.Errorf("google completion: %w", err)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	text := resp.Text()
	if text == "" {
		return "", usage, fmt.Errorf("google completion: empty response")
	}
	return text, usage, nil
}

func (p *GoogleProvider) Embed(ctx context.Context, apiKey, model, text string) ([]float32, error) {
	client, err := p.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	resp, err := client.Models.EmbedContent(ctx, model, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("google embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("google embedding: empty response")
	}
	return resp.Embeddings[0].Values, nil
}
