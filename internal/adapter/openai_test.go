package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecto-labs/triad-cli/pkg/openai"
)

type fakeOpenAIClient struct {
	lastReq openai.ChatCompletionRequest
	resp    *openai.ChatCompletionResponse
	err     error
}

func (f *fakeOpenAIClient) ChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func newFakeResponse(content string) *openai.ChatCompletionResponse {
	return &openai.ChatCompletionResponse{
		Choices: []openai.Choice{
			{Message: openai.Message{Role: "assistant", Content: content}},
		},
		Usage: &openai.Usage{PromptTokens: 120, CompletionTokens: 45},
	}
}

func TestOpenAIAdapter_Generate(t *testing.T) {
	fake := &fakeOpenAIClient{resp: newFakeResponse("a quiet staging area near the airport")}
	a := &openaiAdapter{client: fake, model: "gpt-4o"}

	res, err := a.Generate(context.Background(), Request{
		Prompt:      "pick a staging area",
		Temperature: 0.7,
		MaxTokens:   2000,
	})
	require.NoError(t, err)

	assert.Equal(t, "a quiet staging area near the airport", res.Content)
	require.NotNil(t, res.TokensIn)
	assert.Equal(t, int64(120), *res.TokensIn)
	require.NotNil(t, res.TokensOut)
	assert.Equal(t, int64(45), *res.TokensOut)

	require.NotNil(t, fake.lastReq.Temperature)
	assert.InDelta(t, 0.7, *fake.lastReq.Temperature, 1e-9)
	require.NotNil(t, fake.lastReq.MaxCompletionTokens)
	assert.Equal(t, int64(2000), *fake.lastReq.MaxCompletionTokens)
	assert.Empty(t, fake.lastReq.ReasoningEffort)
}

func TestOpenAIAdapter_ReasoningModelDropsTemperature(t *testing.T) {
	fake := &fakeOpenAIClient{resp: newFakeResponse("{}")}
	a := &openaiAdapter{client: fake, model: "gpt-5"}

	_, err := a.Generate(context.Background(), Request{
		Prompt:          "plan",
		Temperature:     0.7,
		ReasoningEffort: "medium",
	})
	require.NoError(t, err)

	assert.Nil(t, fake.lastReq.Temperature)
	assert.Equal(t, "medium", fake.lastReq.ReasoningEffort)
}

func TestOpenAIAdapter_GenerateJSON(t *testing.T) {
	fake := &fakeOpenAIClient{resp: newFakeResponse("```json\n{\"venues\": []}\n```")}
	a := &openaiAdapter{client: fake, model: "gpt-4o"}

	res, err := a.GenerateJSON(context.Background(), Request{Prompt: "plan"})
	require.NoError(t, err)

	assert.Equal(t, `{"venues": []}`, res.Content)
	require.NotNil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, "json_object", fake.lastReq.ResponseFormat.Type)
}

func TestOpenAIAdapter_GenerateJSONWithSchema(t *testing.T) {
	fake := &fakeOpenAIClient{resp: newFakeResponse("{}")}
	a := &openaiAdapter{client: fake, model: "gpt-4o"}

	schema := []byte(`{"type": "object"}`)
	_, err := a.GenerateJSON(context.Background(), Request{Prompt: "plan", Schema: schema})
	require.NoError(t, err)

	require.NotNil(t, fake.lastReq.ResponseFormat)
	assert.Equal(t, "json_schema", fake.lastReq.ResponseFormat.Type)
	assert.JSONEq(t, `{"type": "object"}`, string(fake.lastReq.ResponseFormat.JSONSchema))
}

func TestOpenAIAdapter_BackendError(t *testing.T) {
	fake := &fakeOpenAIClient{err: assert.AnError}
	a := &openaiAdapter{client: fake, model: "gpt-4o"}

	_, err := a.Generate(context.Background(), Request{Prompt: "plan"})
	require.Error(t, err)

	var backendErr *BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "openai", backendErr.Provider)
	assert.ErrorIs(t, err, assert.AnError)
}
