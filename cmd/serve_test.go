package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecto-labs/triad-cli/internal/adapter"
	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/model"
	"github.com/vecto-labs/triad-cli/internal/observability"
	"github.com/vecto-labs/triad-cli/internal/safety"
	"github.com/vecto-labs/triad-cli/internal/triad"
)

// cannedAdapter returns a fixed body for every generation request.
type cannedAdapter struct {
	provider string
	model    string
	content  string
}

func (a *cannedAdapter) ProviderName() string { return a.provider }
func (a *cannedAdapter) ModelName() string    { return a.model }

func (a *cannedAdapter) Generate(context.Context, adapter.Request) (*adapter.Result, error) {
	return &adapter.Result{Content: a.content, LatencyMS: 5}, nil
}

func (a *cannedAdapter) GenerateJSON(ctx context.Context, req adapter.Request) (*adapter.Result, error) {
	return a.Generate(ctx, req)
}

func testPlanJSON() string {
	reasoning := strings.TrimSpace(strings.Repeat("busy ", 16))
	venues := make([]string, 4)
	for i := range venues {
		venues[i] = fmt.Sprintf(`{
			"name": "Venue %d",
			"address": "%d Peachtree St NE, Atlanta, GA",
			"category": "restaurant",
			"distance_miles": 1.2,
			"drive_time_minutes": 3,
			"reasoning": "%s"
		}`, i, 100+i, reasoning)
	}
	return fmt.Sprintf(`{
		"staging_area": {
			"name": "QuikTrip parking lot",
			"address": "500 Peachtree St NE, Atlanta, GA",
			"reasoning": "central to all venues"
		},
		"venues": [%s]
	}`, strings.Join(venues, ","))
}

// newTestEnv wires a full environment against a temp sqlite ledger and
// canned adapters.
func newTestEnv(t *testing.T) *triadEnv {
	t.Helper()

	dir := t.TempDir()
	cfg = &config.Config{
		Observability: config.ObservabilityConfig{
			MinSuccessRate:        0.95,
			MaxAvgLatencyMS:       90000,
			DriftThresholdPercent: 20,
			CurrentWindowMinutes:  60,
			BaselineWindowMinutes: 1440,
		},
		Safety: config.SafetyConfig{
			AuditLogPath:           filepath.Join(dir, "audit.jsonl"),
			ReleaseTokenDigestPath: filepath.Join(dir, "release_token.sha256"),
		},
		Server: config.ServerConfig{Port: 5000},
	}

	led, err := ledger.NewSQLite(filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, led.Migrate(context.Background()))
	t.Cleanup(func() { _ = led.Close() })

	orch := triad.New(
		&cannedAdapter{provider: "anthropic", model: "claude-sonnet-4-5", content: "work the downtown core"},
		&cannedAdapter{provider: "openai", model: "gpt-5", content: testPlanJSON()},
		&cannedAdapter{provider: "google", model: "gemini-2.0-flash-001", content: testPlanJSON()},
		led,
		triad.Options{FailOnInvalid: false, WordCapInvariant: true},
	)

	alerter := observability.NewAlerter("")
	return &triadEnv{
		Ledger:       led,
		Orchestrator: orch,
		Monitor:      observability.NewMonitor(led, cfg.Observability, alerter),
		Alerter:      alerter,
		Guardrails:   safety.NewGuardrails(cfg.Safety),
	}
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	rr := doRequest(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestBlocksEndpoint(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	rr := doRequest(t, router, http.MethodPost, "/api/blocks", model.RideContext{
		GPS: model.GPS{Latitude: 33.7490, Longitude: -84.3880},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		JobID string      `json:"job_id"`
		Plan  *model.Plan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
	require.NotNil(t, resp.Plan)
	assert.Len(t, resp.Plan.Venues, 4)
}

func TestBlocksEndpoint_InvalidBody(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	req := httptest.NewRequest(http.MethodPost, "/api/blocks", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBlocksEndpoint_FailureReturns422(t *testing.T) {
	env := newTestEnv(t)
	// Planner that cannot produce parseable JSON forces a stage failure.
	env.Orchestrator = triad.New(
		&cannedAdapter{provider: "anthropic", model: "claude-sonnet-4-5", content: "strategy"},
		&cannedAdapter{provider: "openai", model: "gpt-5", content: "still thinking..."},
		&cannedAdapter{provider: "google", model: "gemini-2.0-flash-001", content: testPlanJSON()},
		env.Ledger,
		triad.Options{FailOnInvalid: false},
	)
	router := buildRouter(env)

	rr := doRequest(t, router, http.MethodPost, "/api/blocks", model.RideContext{})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var resp struct {
		Failure *model.Failure `json:"failure"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Failure)
	assert.Equal(t, model.StagePlanning, resp.Failure.Stage)
}

func TestObservabilityEndpoints(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	rr := doRequest(t, router, http.MethodGet, "/api/mlops/observability/metrics?window_minutes=60", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary observability.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, 60, summary.WindowMinutes)

	rr = doRequest(t, router, http.MethodGet, "/api/mlops/observability/drift", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/api/mlops/observability/sla", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/api/mlops/observability/prometheus", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rr.Body.String(), "vecto_total_calls")
}

func TestExportEndpoint(t *testing.T) {
	env := newTestEnv(t)
	router := buildRouter(env)

	// Run the pipeline once so there is something to export.
	rr := doRequest(t, router, http.MethodPost, "/api/blocks", model.RideContext{})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/api/mlops/ledger/export?call_type=planner", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/x-ndjson", rr.Header().Get("Content-Type"))

	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	require.Len(t, lines, 1)
	var call ledger.ExportedCall
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &call))
	assert.Equal(t, model.CallTypePlanner, call.CallType)
}

func TestExportEndpoint_BadSince(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	rr := doRequest(t, router, http.MethodGet, "/api/mlops/ledger/export?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPromoteEndpoint(t *testing.T) {
	router := buildRouter(newTestEnv(t))
	latency := 1000.0
	metrics := &model.EvalMetrics{SuccessRate: 0.99, AvgLatencyMS: &latency, JSONValidityRate: 1.0}

	rr := doRequest(t, router, http.MethodPost, "/api/mlops/deployment/promote", promoteRequest{
		ModelID: "gpt-5", FromStage: "development", ToStage: "production", EvalMetrics: metrics,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/api/mlops/deployment/promote", promoteRequest{
		ModelID: "gpt-5", FromStage: "staged", ToStage: "production", EvalMetrics: metrics,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/api/mlops/deployment/promote", promoteRequest{
		ModelID: "gpt-5", FromStage: "development", ToStage: "canary", EvalMetrics: metrics,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Success   bool              `json:"success"`
		Promotion *safety.Promotion `json:"promotion"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Promotion)
	assert.Equal(t, 5, resp.Promotion.TrafficPercentage)
}

func TestRollbackAndHistoryEndpoints(t *testing.T) {
	router := buildRouter(newTestEnv(t))

	rr := doRequest(t, router, http.MethodPost, "/api/mlops/deployment/rollback", map[string]string{
		"model_id": "gpt-5",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, router, http.MethodPost, "/api/mlops/deployment/rollback", map[string]string{
		"model_id": "gpt-5",
		"reason":   "validator rejecting all plans",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(t, router, http.MethodGet, "/api/mlops/deployment/history?model_id=gpt-5", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		History []safety.AuditEntry `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.History, 1)
	assert.Equal(t, "emergency_rollback", resp.History[0].Action)
}
