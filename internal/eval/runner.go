package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/vecto-labs/triad-cli/internal/adapter"
	"github.com/vecto-labs/triad-cli/internal/model"
)

// recordResult captures the outcome of one dataset record.
type recordResult struct {
	Index       int     `json:"index"`
	Success     bool    `json:"success"`
	JSONValid   bool    `json:"json_valid"`
	LatencyMS   int64   `json:"latency_ms,omitempty"`
	TokensIn    *int64  `json:"tokens_in,omitempty"`
	TokensOut   *int64  `json:"tokens_out,omitempty"`
	Prediction  string  `json:"prediction,omitempty"`
	GroundTruth string  `json:"ground_truth,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// report is the on-disk results file: the evaluation summary plus the
// per-record detail.
type report struct {
	model.Evaluation
	Results []recordResult `json:"results"`
}

// Runner evaluates a candidate adapter over a validation dataset.
type Runner struct {
	adapter    adapter.Adapter
	resultsDir string
}

// NewRunner creates a Runner writing result files under resultsDir. An
// empty resultsDir disables the results file.
func NewRunner(a adapter.Adapter, resultsDir string) *Runner {
	return &Runner{adapter: a, resultsDir: resultsDir}
}

// Run evaluates every dataset record with bounded concurrency and a
// request rate cap, then aggregates the metrics. A failing record lowers
// the success rate but does not abort the run.
func (r *Runner) Run(ctx context.Context, suite *Suite) (*model.Evaluation, error) {
	suite.applyDefaults()
	records, err := suite.loadDataset()
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("provider", r.adapter.ProviderName()),
		zap.String("model", r.adapter.ModelName()),
		zap.String("dataset", suite.DatasetPath),
		zap.Int("records", len(records)),
	)
	log.Info("starting evaluation")

	limiter := rate.NewLimiter(rate.Limit(suite.RequestsPerSec), 1)
	results := make([]recordResult, len(records))

	var mu sync.Mutex
	var totalLatency, totalTokensIn, totalTokensOut int64
	successCount := 0
	jsonValidCount := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(suite.Concurrency)

	for i, rec := range records {
		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}

			res, err := r.adapter.Generate(gctx, adapter.Request{
				Prompt:      rec.Prompt,
				Temperature: suite.Temperature,
				MaxTokens:   suite.MaxTokens,
			})
			if err != nil {
				msg := err.Error()
				results[i] = recordResult{
					Index:       i,
					GroundTruth: rec.Response,
					Error:       &msg,
				}
				log.Warn("record evaluation failed", zap.Int("index", i), zap.Error(err))
				return nil
			}

			rr := recordResult{
				Index:       i,
				Success:     true,
				LatencyMS:   res.LatencyMS,
				TokensIn:    res.TokensIn,
				TokensOut:   res.TokensOut,
				Prediction:  res.Content,
				GroundTruth: rec.Response,
				JSONValid:   json.Valid([]byte(res.Content)),
			}
			results[i] = rr

			mu.Lock()
			successCount++
			totalLatency += res.LatencyMS
			if res.TokensIn != nil {
				totalTokensIn += *res.TokensIn
			}
			if res.TokensOut != nil {
				totalTokensOut += *res.TokensOut
			}
			if rr.JSONValid {
				jsonValidCount++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "eval: run suite")
	}

	metrics := model.EvalMetrics{
		SuccessRate:      float64(successCount) / float64(len(records)),
		TotalTokensIn:    totalTokensIn,
		TotalTokensOut:   totalTokensOut,
		JSONValidityRate: float64(jsonValidCount) / float64(len(records)),
		RecordCount:      len(records),
	}
	if successCount > 0 {
		avgLatency := float64(totalLatency) / float64(successCount)
		avgIn := float64(totalTokensIn) / float64(successCount)
		avgOut := float64(totalTokensOut) / float64(successCount)
		metrics.AvgLatencyMS = &avgLatency
		metrics.AvgTokensIn = &avgIn
		metrics.AvgTokensOut = &avgOut
	}

	evaluation := &model.Evaluation{
		Provider:    r.adapter.ProviderName(),
		ModelName:   r.adapter.ModelName(),
		DatasetPath: suite.DatasetPath,
		Metrics:     metrics,
		EvaluatedAt: time.Now().UTC(),
	}

	if r.resultsDir != "" {
		path, err := r.writeReport(evaluation, results)
		if err != nil {
			return nil, err
		}
		log.Info("evaluation complete",
			zap.Float64("success_rate", metrics.SuccessRate),
			zap.Float64("json_validity_rate", metrics.JSONValidityRate),
			zap.String("results_file", path),
		)
	} else {
		log.Info("evaluation complete",
			zap.Float64("success_rate", metrics.SuccessRate),
			zap.Float64("json_validity_rate", metrics.JSONValidityRate),
		)
	}
	return evaluation, nil
}

func (r *Runner) writeReport(evaluation *model.Evaluation, results []recordResult) (string, error) {
	if err := os.MkdirAll(r.resultsDir, 0o755); err != nil {
		return "", eris.Wrap(err, "eval: create results dir")
	}

	name := fmt.Sprintf("eval_%s_%s_%s.json",
		evaluation.Provider,
		sanitizeModelName(evaluation.ModelName),
		evaluation.EvaluatedAt.Format("20060102_150405"),
	)
	path := filepath.Join(r.resultsDir, name)

	data, err := json.MarshalIndent(report{Evaluation: *evaluation, Results: results}, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "eval: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrap(err, "eval: write report")
	}
	return path, nil
}

// sanitizeModelName keeps result filenames flat when model names contain
// path separators or colons.
func sanitizeModelName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', ':', '\\':
			return '-'
		}
		return r
	}, name)
}
