package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/vecto-labs/triad-cli/pkg/openai"
)

// openaiAdapter fronts OpenAI chat models. Reasoning models (o3, o4,
// gpt-5 families) reject the temperature parameter and take a
// reasoning_effort hint instead.
type openaiAdapter struct {
	client openai.Client
	model  string
}

func newOpenAIAdapter(cfg Config) *openaiAdapter {
	var opts []openai.Option
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, openai.WithTimeout(cfg.Timeout))
	}
	return &openaiAdapter{
		client: openai.NewClient(cfg.APIKey, opts...),
		model:  cfg.Model,
	}
}

func (a *openaiAdapter) ProviderName() string { return "openai" }
func (a *openaiAdapter) ModelName() string    { return a.model }

var reasoningModelPrefixes = []string{"o3", "o4", "gpt-5"}

func isReasoningModel(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func (a *openaiAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	return a.call(ctx, a.buildRequest(req, nil))
}

func (a *openaiAdapter) GenerateJSON(ctx context.Context, req Request) (*Result, error) {
	format := &openai.ResponseFormat{Type: "json_object"}
	if len(req.Schema) > 0 {
		format = &openai.ResponseFormat{Type: "json_schema", JSONSchema: req.Schema}
	}
	res, err := a.call(ctx, a.buildRequest(req, format))
	if err != nil {
		return nil, err
	}
	res.Content = cleanJSON(res.Content)
	return res, nil
}

func (a *openaiAdapter) buildRequest(req Request, format *openai.ResponseFormat) openai.ChatCompletionRequest {
	ccr := openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.Message{
			{Role: "user", Content: req.Prompt},
		},
		ResponseFormat: format,
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		ccr.MaxCompletionTokens = &maxTokens
	}
	if isReasoningModel(a.model) {
		if req.ReasoningEffort != "" {
			ccr.ReasoningEffort = req.ReasoningEffort
		}
	} else {
		temp := req.Temperature
		ccr.Temperature = &temp
	}
	return ccr
}

func (a *openaiAdapter) call(ctx context.Context, ccr openai.ChatCompletionRequest) (*Result, error) {
	start := time.Now()

	resp, err := a.client.ChatCompletion(ctx, ccr)
	if err != nil {
		return nil, &BackendError{Provider: "openai", Err: err}
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
