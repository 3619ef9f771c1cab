// Package ledger persists every model interaction for observability and
// training-data capture. Prompt and response bodies are deduplicated by
// content hash so repeated prompts cost one row.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"time"

	"github.com/vecto-labs/triad-cli/internal/model"
)

// CallRecord captures a single model API call.
type CallRecord struct {
	Provider     string
	ModelName    string
	CallType     model.CallType
	Prompt       string
	Response     string
	LatencyMS    int64
	TokensIn     *int64
	TokensOut    *int64
	Success      bool
	ErrorMessage string
	Metadata     map[string]any
}

// JobRecord captures a complete pipeline execution. Call IDs are nil for
// stages that never ran.
type JobRecord struct {
	ID               string
	UserContext      model.RideContext
	StrategistCallID *int64
	PlannerCallID    *int64
	ValidatorCallID  *int64
	FinalOutput      *model.Plan
	Success          bool
	TotalLatencyMS   int64
	ErrorStage       model.Stage
}

// StatsFilter narrows CallStats to a call type and time window. Zero
// values are unbounded.
type StatsFilter struct {
	CallType model.CallType
	Since    time.Time
	Until    time.Time
}

// Stats aggregates call outcomes over a window.
type Stats struct {
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMS    float64 `json:"avg_latency_ms"`
	MaxLatencyMS    int64   `json:"max_latency_ms"`
	AvgTokensIn     float64 `json:"avg_tokens_in"`
	AvgTokensOut    float64 `json:"avg_tokens_out"`
	TotalTokensIn   int64   `json:"total_tokens_in"`
	TotalTokensOut  int64   `json:"total_tokens_out"`
}

// ExportFilter narrows ExportCalls. Only successful calls are exported.
type ExportFilter struct {
	CallType model.CallType
	Since    time.Time
	Until    time.Time
}

// ExportedCall is one JSONL line of training data.
type ExportedCall struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Provider  string         `json:"model_provider"`
	ModelName string         `json:"model_name"`
	CallType  model.CallType `json:"call_type"`
	Prompt    string         `json:"prompt"`
	Response  string         `json:"response"`
	TokensIn  *int64         `json:"tokens_in"`
	TokensOut *int64         `json:"tokens_out"`
	Metadata  map[string]any `json:"metadata"`
}

// Ledger is the persistence contract for model calls, pipeline jobs, and
// operational metrics.
type Ledger interface {
	Migrate(ctx context.Context) error
	Close() error

	// RecordCall stores a model call and returns its row ID. Prompt and
	// response content is deduplicated by SHA-256 hash.
	RecordCall(ctx context.Context, call CallRecord) (int64, error)

	// RecordJob stores a completed pipeline execution.
	RecordJob(ctx context.Context, job JobRecord) error

	// RecordMetric stores a named observability metric.
	RecordMetric(ctx context.Context, metricType, name string, value float64, labels map[string]string) error

	// CallStats aggregates call outcomes matching the filter.
	CallStats(ctx context.Context, filter StatsFilter) (*Stats, error)

	// ExportCalls writes successful calls matching the filter to w as
	// JSONL and returns the number of lines written.
	ExportCalls(ctx context.Context, w io.Writer, filter ExportFilter) (int, error)
}

// hashContent returns the hex SHA-256 digest of content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
