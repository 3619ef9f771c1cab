package adapter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vecto-labs/triad-cli/pkg/openai"
)

// localAdapter fronts a locally hosted fine-tuned model behind an
// OpenAI-compatible chat-completions endpoint (vLLM, llama.cpp server).
// No API key is sent; structured output falls back to prompt
// instructions since local servers rarely honor response_format.
type localAdapter struct {
	client openai.Client
	model  string
}

func newLocalAdapter(cfg Config) *localAdapter {
	opts := []openai.Option{openai.WithBaseURL(cfg.BaseURL)}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(cfg.Timeout))
	}
	return &localAdapter{
		client: openai.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
	}
}

func (a *localAdapter) ProviderName() string { return "local" }
func (a *localAdapter) ModelName() string    { return a.model }

func (a *localAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	return a.call(ctx, req.Prompt, req)
}

func (a *localAdapter) GenerateJSON(ctx context.Context, req Request) (*Result, error) {
	res, err := a.call(ctx, req.Prompt+jsonOnlyInstruction, req)
	if err != nil {
		return nil, err
	}
	res.Content = cleanJSON(res.Content)
	return res, nil
}

func (a *localAdapter) call(ctx context.Context, prompt string, req Request) (*Result, error) {
	start := time.Now()

	ccr := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.Message{
			{Role: "user", Content: prompt},
		},
	}
	temp := req.Temperature
	ccr.Temperature = &temp
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		ccr.MaxCompletionTokens = &maxTokens
	}

	resp, err := a.client.ChatCompletion(ctx, ccr)
	if err != nil {
		return nil, &BackendError{Provider: "local", Err: err}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	raw, _ := json.Marshal(resp)
	result := &Result{
		Content:   content,
		LatencyMS: time.Since(start).Milliseconds(),
		Raw:       raw,
	}
	if resp.Usage != nil {
		tokensIn := resp.Usage.PromptTokens
		tokensOut := resp.Usage.CompletionTokens
		result.TokensIn = &tokensIn
		result.TokensOut = &tokensOut
	}
	return result, nil
}
