package model

import "time"

// EvalMetrics is the aggregate output of an evaluation run, consumed by the
// promotion machinery as the evidence payload for a stage transition.
type EvalMetrics struct {
	SuccessRate      float64  `json:"success_rate"`
	AvgLatencyMS     *float64 `json:"avg_latency_ms"`
	AvgTokensIn      *float64 `json:"avg_tokens_in"`
	AvgTokensOut     *float64 `json:"avg_tokens_out"`
	TotalTokensIn    int64    `json:"total_tokens_in"`
	TotalTokensOut   int64    `json:"total_tokens_out"`
	JSONValidityRate float64  `json:"json_validity_rate"`
	RecordCount      int      `json:"record_count"`
}

// Evaluation bundles eval metrics with the model and dataset they describe.
type Evaluation struct {
	Provider    string      `json:"provider"`
	ModelName   string      `json:"model_name"`
	DatasetPath string      `json:"dataset_path"`
	Metrics     EvalMetrics `json:"metrics"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}
