// Package triad drives the three-stage planning pipeline: a strategist
// analyzes market conditions, a planner turns the strategy into concrete
// venue recommendations, and a validator corrects the plan. Single path,
// no fallbacks.
package triad

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/adapter"
	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/model"
)

// StageSettings holds the generation parameters for one pipeline stage.
type StageSettings struct {
	Temperature     float64
	MaxOutputTokens int64
	Timeout         time.Duration
	ReasoningEffort string
}

// Options configures orchestrator behavior.
type Options struct {
	Strategist StageSettings
	Planner    StageSettings
	Validator  StageSettings

	// FailOnInvalid controls the terminal error policy: true returns the
	// typed error, false returns a Failure payload with a nil error.
	FailOnInvalid bool

	// WordCapInvariant enables the minimum reasoning length check.
	WordCapInvariant bool

	// MaxCatalogVenues caps how many catalog venues are embedded in the
	// planning prompt.
	MaxCatalogVenues int
}

// Outcome is the result of one pipeline run. Exactly one of Plan and
// Failure is set.
type Outcome struct {
	JobID   string
	Plan    *model.Plan
	Failure *model.Failure
}

// Orchestrator executes the pipeline against three injected adapters and
// records every call and run in the ledger.
type Orchestrator struct {
	strategist adapter.Adapter
	planner    adapter.Adapter
	validator  adapter.Adapter
	ledger     ledger.Ledger
	opts       Options
}

// New creates an orchestrator.
func New(strategist, planner, validator adapter.Adapter, led ledger.Ledger, opts Options) *Orchestrator {
	if opts.MaxCatalogVenues <= 0 {
		opts.MaxCatalogVenues = 50
	}
	return &Orchestrator{
		strategist: strategist,
		planner:    planner,
		validator:  validator,
		ledger:     led,
		opts:       opts,
	}
}

// Execute runs the full pipeline for one ride context. Exactly one job row
// is written regardless of outcome.
func (o *Orchestrator) Execute(ctx context.Context, rc model.RideContext) (*Outcome, error) {
	jobID := uuid.New().String()
	start := time.Now()
	log := zap.L().With(zap.String("job_id", jobID))

	plan, latencies, ids, err := o.run(ctx, log, jobID, rc)
	totalLatency := time.Since(start).Milliseconds()

	if err != nil {
		stage := errorStage(ids)
		log.Error("pipeline failed",
			zap.String("stage", string(stage)),
			zap.Int64("total_latency_ms", totalLatency),
			zap.Error(err))

		o.recordJob(ctx, log, ledger.JobRecord{
			ID:               jobID,
			UserContext:      rc,
			StrategistCallID: ids.strategist,
			PlannerCallID:    ids.planner,
			ValidatorCallID:  ids.validator,
			Success:          false,
			TotalLatencyMS:   totalLatency,
			ErrorStage:       stage,
		})
		o.recordMetric(ctx, log, "error_rate", "triad_"+string(stage), 1.0)

		if o.opts.FailOnInvalid {
			return nil, err
		}
		return &Outcome{
			JobID:   jobID,
			Failure: &model.Failure{Error: err.Error(), Stage: stage},
		}, nil
	}

	o.recordJob(ctx, log, ledger.JobRecord{
		ID:               jobID,
		UserContext:      rc,
		StrategistCallID: ids.strategist,
		PlannerCallID:    ids.planner,
		ValidatorCallID:  ids.validator,
		FinalOutput:      plan,
		Success:          true,
		TotalLatencyMS:   totalLatency,
	})

	o.recordMetric(ctx, log, "latency", "triad_total", float64(totalLatency))
	o.recordMetric(ctx, log, "latency", "strategist", float64(latencies.strategist))
	o.recordMetric(ctx, log, "latency", "planner", float64(latencies.planner))
	o.recordMetric(ctx, log, "latency", "validator", float64(latencies.validator))

	log.Info("pipeline complete", zap.Int64("total_latency_ms", totalLatency))
	return &Outcome{JobID: jobID, Plan: plan}, nil
}

type stageLatencies struct {
	strategist int64
	planner    int64
	validator  int64
}

// callIDs holds the ledger row IDs of the recorded stage calls. A nil ID
// means the stage never completed a model call.
type callIDs struct {
	strategist *int64
	planner    *int64
	validator  *int64
}

func (o *Orchestrator) run(ctx context.Context, log *zap.Logger, jobID string, rc model.RideContext) (*model.Plan, stageLatencies, callIDs, error) {
	var lat stageLatencies
	var ids callIDs

	// Stage 1: strategic analysis.
	log.Info("stage 1/3: strategic analysis")
	strategyPrompt := buildStrategyPrompt(rc)

	strategyRes, err := o.generate(ctx, o.strategist, o.opts.Strategist, adapter.Request{
		Prompt:      strategyPrompt,
		Temperature: o.opts.Strategist.Temperature,
		MaxTokens:   o.opts.Strategist.MaxOutputTokens,
	}, false)
	if err != nil {
		return nil, lat, ids, err
	}
	lat.strategist = strategyRes.LatencyMS

	id, err := o.recordCall(ctx, o.strategist, model.CallTypeStrategist, strategyPrompt, strategyRes, jobID)
	if err != nil {
		return nil, lat, ids, err
	}
	ids.strategist = &id
	log.Info("strategy generated", zap.Int64("latency_ms", strategyRes.LatencyMS))

	// Stage 2: tactical planning.
	log.Info("stage 2/3: tactical planning")
	planningPrompt := buildPlanningPrompt(rc, strategyRes.Content, o.opts.MaxCatalogVenues)

	planningRes, err := o.generate(ctx, o.planner, o.opts.Planner, adapter.Request{
		Prompt:          planningPrompt,
		Temperature:     o.opts.Planner.Temperature,
		MaxTokens:       o.opts.Planner.MaxOutputTokens,
		Schema:          json.RawMessage(planSchemaJSON),
		ReasoningEffort: o.opts.Planner.ReasoningEffort,
	}, true)
	if err != nil {
		return nil, lat, ids, err
	}
	lat.planner = planningRes.LatencyMS

	id, err = o.recordCall(ctx, o.planner, model.CallTypePlanner, planningPrompt, planningRes, jobID)
	if err != nil {
		return nil, lat, ids, err
	}
	ids.planner = &id
	log.Info("plan generated", zap.Int64("latency_ms", planningRes.LatencyMS))

	var planData any
	if err := json.Unmarshal([]byte(planningRes.Content), &planData); err != nil {
		return nil, lat, ids, &ValidationError{Stage: model.StagePlanning, Msg: "planner returned invalid JSON", Err: err}
	}

	// Stage 3: validation and correction.
	log.Info("stage 3/3: validation")
	planJSON, err := json.MarshalIndent(planData, "", "  ")
	if err != nil {
		return nil, lat, ids, eris.Wrap(err, "triad: marshal plan for validation")
	}
	validationPrompt := buildValidationPrompt(string(planJSON))

	validationRes, err := o.generate(ctx, o.validator, o.opts.Validator, adapter.Request{
		Prompt:          validationPrompt,
		Temperature:     o.opts.Validator.Temperature,
		MaxTokens:       o.opts.Validator.MaxOutputTokens,
		ReasoningEffort: o.opts.Validator.ReasoningEffort,
	}, true)
	if err != nil {
		return nil, lat, ids, err
	}
	lat.validator = validationRes.LatencyMS

	id, err = o.recordCall(ctx, o.validator, model.CallTypeValidator, validationPrompt, validationRes, jobID)
	if err != nil {
		return nil, lat, ids, err
	}
	ids.validator = &id
	log.Info("validation complete", zap.Int64("latency_ms", validationRes.LatencyMS))

	var plan model.Plan
	if err := json.Unmarshal([]byte(validationRes.Content), &plan); err != nil {
		return nil, lat, ids, &ValidationError{Stage: model.StageValidation, Msg: "validator returned invalid JSON", Err: err}
	}
	if err := validateSchema(validationRes.Content); err != nil {
		return nil, lat, ids, &ValidationError{Stage: model.StageValidation, Msg: "final plan failed schema validation", Err: err}
	}
	if err := checkInvariants(&plan, o.opts.WordCapInvariant); err != nil {
		return nil, lat, ids, err
	}

	return &plan, lat, ids, nil
}

func (o *Orchestrator) generate(ctx context.Context, a adapter.Adapter, settings StageSettings, req adapter.Request, asJSON bool) (*adapter.Result, error) {
	if settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.Timeout)
		defer cancel()
	}
	if asJSON {
		return a.GenerateJSON(ctx, req)
	}
	return a.Generate(ctx, req)
}

func (o *Orchestrator) recordCall(ctx context.Context, a adapter.Adapter, callType model.CallType, prompt string, res *adapter.Result, jobID string) (int64, error) {
	id, err := o.ledger.RecordCall(ctx, ledger.CallRecord{
		Provider:  a.ProviderName(),
		ModelName: a.ModelName(),
		CallType:  callType,
		Prompt:    prompt,
		Response:  res.Content,
		LatencyMS: res.LatencyMS,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Success:   true,
		Metadata:  map[string]any{"job_id": jobID},
	})
	if err != nil {
		return 0, eris.Wrapf(err, "triad: record %s call", callType)
	}
	return id, nil
}

func (o *Orchestrator) recordJob(ctx context.Context, log *zap.Logger, job ledger.JobRecord) {
	if err := o.ledger.RecordJob(ctx, job); err != nil {
		log.Error("record job failed", zap.Error(err))
	}
}

func (o *Orchestrator) recordMetric(ctx context.Context, log *zap.Logger, metricType, name string, value float64) {
	if err := o.ledger.RecordMetric(ctx, metricType, name, value, nil); err != nil {
		log.Warn("record metric failed", zap.String("metric", name), zap.Error(err))
	}
}

// errorStage attributes a failure to the deepest stage with a recorded
// call. A recorded call means the stage's model responded, so the failure
// happened in that stage's post-processing or while entering the next one.
func errorStage(ids callIDs) model.Stage {
	switch {
	case ids.validator != nil:
		return model.StageValidation
	case ids.planner != nil:
		return model.StagePlanning
	case ids.strategist != nil:
		return model.StageStrategy
	default:
		return model.StageInitialization
	}
}
