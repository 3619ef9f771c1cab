package safety

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/model"
)

func newTestGuardrails(t *testing.T) *Guardrails {
	t.Helper()
	dir := t.TempDir()
	return NewGuardrails(config.SafetyConfig{
		AuditLogPath:           filepath.Join(dir, "audit.jsonl"),
		ReleaseTokenDigestPath: filepath.Join(dir, "release_token.sha256"),
	})
}

func goodMetrics() *model.EvalMetrics {
	latency := 1200.0
	return &model.EvalMetrics{
		SuccessRate:      0.99,
		AvgLatencyMS:     &latency,
		JSONValidityRate: 1.0,
		RecordCount:      50,
	}
}

func TestPromote_ValidPath(t *testing.T) {
	g := newTestGuardrails(t)
	ctx := context.Background()

	p, err := g.Promote(ctx, PromotionRequest{
		ModelID:     "gpt-5",
		From:        StageDevelopment,
		To:          StageCanary,
		EvalMetrics: goodMetrics(),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, p.TrafficPercentage)

	p, err = g.Promote(ctx, PromotionRequest{
		ModelID:     "gpt-5",
		From:        StageCanary,
		To:          StageStaged,
		EvalMetrics: goodMetrics(),
	})
	require.NoError(t, err)
	assert.Equal(t, 25, p.TrafficPercentage)

	stage, err := g.CurrentStage("gpt-5")
	require.NoError(t, err)
	assert.Equal(t, StageStaged, stage)
}

func TestPromote_SkippingStagesRejected(t *testing.T) {
	g := newTestGuardrails(t)

	_, err := g.Promote(context.Background(), PromotionRequest{
		ModelID:     "gpt-5",
		From:        StageDevelopment,
		To:          StageProduction,
		EvalMetrics: goodMetrics(),
	})
	var invalidErr *InvalidTransitionError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, StageDevelopment, invalidErr.From)
	assert.Equal(t, StageProduction, invalidErr.To)

	// Nothing should have been audited.
	entries, err := g.History("gpt-5", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPromote_RequiresEvalMetrics(t *testing.T) {
	g := newTestGuardrails(t)

	_, err := g.Promote(context.Background(), PromotionRequest{
		ModelID: "gpt-5",
		From:    StageDevelopment,
		To:      StageCanary,
	})
	var missingErr *MissingEvaluationError
	require.ErrorAs(t, err, &missingErr)
	assert.Equal(t, StageCanary, missingErr.To)
}

func TestPromote_ProductionRequiresToken(t *testing.T) {
	g := newTestGuardrails(t)
	ctx := context.Background()

	_, err := g.Promote(ctx, PromotionRequest{
		ModelID:     "gpt-5",
		From:        StageStaged,
		To:          StageProduction,
		EvalMetrics: goodMetrics(),
	})
	var unauthorizedErr *UnauthorizedPromotionError
	require.ErrorAs(t, err, &unauthorizedErr)

	require.NoError(t, g.SetReleaseToken("s3cret-token"))

	_, err = g.Promote(ctx, PromotionRequest{
		ModelID:      "gpt-5",
		From:         StageStaged,
		To:           StageProduction,
		ReleaseToken: "wrong-token",
		EvalMetrics:  goodMetrics(),
	})
	require.ErrorAs(t, err, &unauthorizedErr)

	p, err := g.Promote(ctx, PromotionRequest{
		ModelID:      "gpt-5",
		From:         StageStaged,
		To:           StageProduction,
		ReleaseToken: "s3cret-token",
		EvalMetrics:  goodMetrics(),
	})
	require.NoError(t, err)
	assert.Equal(t, 100, p.TrafficPercentage)
}

func TestPromote_InlineDigestTakesPrecedence(t *testing.T) {
	dir := t.TempDir()
	g := NewGuardrails(config.SafetyConfig{
		AuditLogPath:       filepath.Join(dir, "audit.jsonl"),
		ReleaseTokenDigest: sha256Hex("inline-token"),
	})

	p, err := g.Promote(context.Background(), PromotionRequest{
		ModelID:      "gpt-5",
		From:         StageStaged,
		To:           StageProduction,
		ReleaseToken: "inline-token",
		EvalMetrics:  goodMetrics(),
	})
	require.NoError(t, err)
	assert.Equal(t, StageProduction, p.ToStage)
}

func TestRollback(t *testing.T) {
	g := newTestGuardrails(t)
	ctx := context.Background()

	_, err := g.Rollback(ctx, "gpt-5", "")
	require.Error(t, err)

	action, err := g.Rollback(ctx, "gpt-5", "latency regression in canary")
	require.NoError(t, err)
	assert.Equal(t, 0, action.TrafficPercentage)

	stage, err := g.CurrentStage("gpt-5")
	require.NoError(t, err)
	assert.Equal(t, StageRollback, stage)
}

func TestHistory_NewestFirstAndFiltered(t *testing.T) {
	g := newTestGuardrails(t)
	ctx := context.Background()

	_, err := g.Promote(ctx, PromotionRequest{
		ModelID: "model-a", From: StageDevelopment, To: StageCanary, EvalMetrics: goodMetrics(),
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = g.Promote(ctx, PromotionRequest{
		ModelID: "model-b", From: StageDevelopment, To: StageCanary, EvalMetrics: goodMetrics(),
	})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = g.Rollback(ctx, "model-a", "bad outputs")
	require.NoError(t, err)

	entries, err := g.History("", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, actionRollback, entries[0].Action)
	assert.False(t, entries[0].Timestamp.Before(entries[1].Timestamp))

	entries, err = g.History("model-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, actionRollback, entries[0].Action)
	assert.Equal(t, actionPromotion, entries[1].Action)

	entries, err = g.History("model-a", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHistory_ExcludesTokenChanges(t *testing.T) {
	g := newTestGuardrails(t)
	require.NoError(t, g.SetReleaseToken("s3cret"))

	entries, err := g.History("", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCurrentStage_NoHistory(t *testing.T) {
	g := newTestGuardrails(t)

	stage, err := g.CurrentStage("unknown-model")
	require.NoError(t, err)
	assert.Equal(t, StageDevelopment, stage)
}

func TestCheckReadiness(t *testing.T) {
	g := newTestGuardrails(t)
	highLatency := 120000.0
	okLatency := 2000.0

	tests := []struct {
		name         string
		metrics      model.EvalMetrics
		wantReady    bool
		wantWarnings int
	}{
		{
			name: "all checks pass",
			metrics: model.EvalMetrics{
				SuccessRate: 0.99, AvgLatencyMS: &okLatency, JSONValidityRate: 1.0,
			},
			wantReady: true,
		},
		{
			name: "low success rate blocks",
			metrics: model.EvalMetrics{
				SuccessRate: 0.90, AvgLatencyMS: &okLatency, JSONValidityRate: 1.0,
			},
			wantReady: false,
		},
		{
			name: "high latency warns only",
			metrics: model.EvalMetrics{
				SuccessRate: 0.99, AvgLatencyMS: &highLatency, JSONValidityRate: 1.0,
			},
			wantReady:    true,
			wantWarnings: 1,
		},
		{
			name: "low json validity blocks",
			metrics: model.EvalMetrics{
				SuccessRate: 0.99, AvgLatencyMS: &okLatency, JSONValidityRate: 0.95,
			},
			wantReady: false,
		},
		{
			name: "missing latency passes",
			metrics: model.EvalMetrics{
				SuccessRate: 0.99, JSONValidityRate: 1.0,
			},
			wantReady: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := g.CheckReadiness(tt.metrics)
			assert.Equal(t, tt.wantReady, r.Ready)
			assert.Len(t, r.Warnings, tt.wantWarnings)
			assert.Len(t, r.Checks, 3)
		})
	}
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageDevelopment, StageCanary, true},
		{StageCanary, StageStaged, true},
		{StageStaged, StageProduction, true},
		{StageCanary, StageRollback, true},
		{StageProduction, StageRollback, true},
		{StageDevelopment, StageStaged, false},
		{StageDevelopment, StageProduction, false},
		{StageProduction, StageCanary, false},
		{StageRollback, StageCanary, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, transitionAllowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
