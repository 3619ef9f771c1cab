// Package adapter provides a uniform interface over heterogeneous generative
// back-ends (Anthropic, OpenAI, Google, locally hosted models).
package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Request is the normalized request shape for a single generation call.
type Request struct {
	Prompt          string
	Temperature     float64
	MaxTokens       int64
	Schema          json.RawMessage // optional structured-output schema
	ReasoningEffort string          // optional pass-through for reasoning models
}

// Result is the normalized response from a single generation call.
// Token counts are nil when the back-end does not report them.
type Result struct {
	Content   string
	TokensIn  *int64
	TokensOut *int64
	LatencyMS int64
	Raw       json.RawMessage
}

// Adapter is the uniform contract over any text/JSON-generating back-end.
type Adapter interface {
	// ProviderName returns the fixed provider tag (e.g. "anthropic").
	ProviderName() string
	// ModelName returns the configured model identifier.
	ModelName() string
	// Generate produces a free-text completion.
	Generate(ctx context.Context, req Request) (*Result, error)
	// GenerateJSON produces a completion whose content is valid JSON text.
	// Adapters fronting back-ends without native structured output inject a
	// JSON-only instruction and strip markdown fences before returning.
	GenerateJSON(ctx context.Context, req Request) (*Result, error)
}

// Config holds per-adapter construction settings.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// jsonOnlyInstruction is appended to prompts for back-ends that lack native
// structured-output support.
const jsonOnlyInstruction = "\n\nYou must respond with valid JSON only. Do not include any text before or after the JSON object."

// cleanJSON extracts a JSON object from text that may contain markdown code
// fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
