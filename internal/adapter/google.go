package adapter

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/genai"
)

// contentGenerator is the slice of the Google GenAI SDK used by the
// adapter, abstracted for testing.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// googleAdapter fronts Gemini models. GenerateJSON uses the native
// application/json response MIME type instead of prompt instructions.
type googleAdapter struct {
	models contentGenerator
	model  string
}

func newGoogleAdapter(cfg Config) (*googleAdapter, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, &BackendError{Provider: "google", Err: err}
	}
	return &googleAdapter{
		models: client.Models,
		model:  cfg.Model,
	}, nil
}

func (a *googleAdapter) ProviderName() string { return "google" }
func (a *googleAdapter) ModelName() string    { return a.model }

func (a *googleAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	return a.call(ctx, req, "")
}

func (a *googleAdapter) GenerateJSON(ctx context.Context, req Request) (*Result, error) {
	res, err := a.call(ctx, req, "application/json")
	if err != nil {
		return nil, err
	}
	res.Content = cleanJSON(res.Content)
	return res, nil
}

func (a *googleAdapter) call(ctx context.Context, req Request, mimeType string) (*Result, error) {
	start := time.Now()

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if mimeType != "" {
		config.ResponseMIMEType = mimeType
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := a.models.GenerateContent(ctx, a.model, contents, config)
	if err != nil {
		return nil, &BackendError{Provider: "google", Err: err}
	}

	raw, _ := json.Marshal(resp)
	result := &Result{
		Content:   resp.Text(),
		LatencyMS: time.Since(start).Milliseconds(),
		Raw:       raw,
	}
	if resp.UsageMetadata != nil {
		tokensIn := int64(resp.UsageMetadata.PromptTokenCount)
		tokensOut := int64(resp.UsageMetadata.CandidatesTokenCount)
		result.TokensIn = &tokensIn
		result.TokensOut = &tokensOut
	}
	return result, nil
}
