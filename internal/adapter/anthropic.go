package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// messageCreator is the slice of the Anthropic SDK used by the adapter,
// abstracted for testing.
type messageCreator interface {
	New(ctx context.Context, params sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// anthropicAdapter fronts Anthropic Claude models. Claude has no native
// structured-output mode, so GenerateJSON appends a JSON-only instruction
// and strips markdown fences from the response.
type anthropicAdapter struct {
	messages messageCreator
	model    string
}

func newAnthropicAdapter(cfg Config) *anthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	client := sdk.NewClient(opts...)
	return &anthropicAdapter{
		messages: &client.Messages,
		model:    cfg.Model,
	}
}

func (a *anthropicAdapter) ProviderName() string { return "anthropic" }
func (a *anthropicAdapter) ModelName() string    { return a.model }

func (a *anthropicAdapter) Generate(ctx context.Context, req Request) (*Result, error) {
	return a.call(ctx, req.Prompt, req)
}

func (a *anthropicAdapter) GenerateJSON(ctx context.Context, req Request) (*Result, error) {
	res, err := a.call(ctx, req.Prompt+jsonOnlyInstruction, req)
	if err != nil {
		return nil, err
	}
	res.Content = cleanJSON(res.Content)
	return res, nil
}

func (a *anthropicAdapter) call(ctx context.Context, prompt string, req Request) (*Result, error) {
	start := time.Now()

	msg, err := a.messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(a.model),
		MaxTokens:   req.MaxTokens,
		Temperature: sdk.Float(req.Temperature),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, &BackendError{Provider: "anthropic", Err: err}
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	tokensIn := msg.Usage.InputTokens
	tokensOut := msg.Usage.OutputTokens
	raw, _ := json.Marshal(msg)

	return &Result{
		Content:   content,
		TokensIn:  &tokensIn,
		TokensOut: &tokensOut,
		LatencyMS: time.Since(start).Milliseconds(),
		Raw:       raw,
	}, nil
}
