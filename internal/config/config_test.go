package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, "data/mlops/events.db", cfg.Ledger.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "https://vectopilot.com", cfg.Server.UIOrigin)

	assert.Equal(t, "anthropic", cfg.Triad.Strategist.Provider)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Triad.Strategist.Model)
	assert.InDelta(t, 0.7, cfg.Triad.Strategist.Temperature, 0.001)
	assert.Equal(t, int64(4096), cfg.Triad.Strategist.MaxOutputTokens)

	assert.Equal(t, "openai", cfg.Triad.Planner.Provider)
	assert.Equal(t, "gpt-5", cfg.Triad.Planner.Model)
	assert.Equal(t, 120000, cfg.Triad.Planner.TimeoutMS)
	assert.Equal(t, "high", cfg.Triad.Planner.ReasoningEffort)

	assert.Equal(t, "google", cfg.Triad.Validator.Provider)
	assert.Equal(t, "gemini-2.0-flash-001", cfg.Triad.Validator.Model)
	assert.Equal(t, "low", cfg.Triad.Validator.ReasoningEffort)

	assert.True(t, cfg.Triad.FailOnInvalid)
	assert.True(t, cfg.Triad.WordCapInvariant)
	assert.Equal(t, 50, cfg.Triad.MaxCatalogVenues)

	assert.InDelta(t, 0.95, cfg.Observability.MinSuccessRate, 0.001)
	assert.InDelta(t, 90000, cfg.Observability.MaxAvgLatencyMS, 0.001)
	assert.InDelta(t, 20, cfg.Observability.DriftThresholdPercent, 0.001)
	assert.Equal(t, 300, cfg.Observability.CheckIntervalSecs)
	assert.Equal(t, 60, cfg.Observability.CurrentWindowMinutes)
	assert.Equal(t, 1440, cfg.Observability.BaselineWindowMinutes)

	assert.Equal(t, "data/mlops/audit.jsonl", cfg.Safety.AuditLogPath)
	assert.Equal(t, "data/mlops/release_token.sha256", cfg.Safety.ReleaseTokenDigestPath)
	assert.Equal(t, "data/mlops/evaluations", cfg.Eval.ResultsDir)
	assert.Equal(t, 4, cfg.Eval.Concurrency)
}

func TestLoadFromYAML(t *testing.T) {
	chtemp(t)

	yaml := `
ledger:
  driver: postgres
  database_url: postgres://localhost/triad
log:
  level: debug
  format: console
server:
  port: 9090
triad:
  fail_on_invalid: false
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Ledger.Driver)
	assert.Equal(t, "postgres://localhost/triad", cfg.Ledger.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Triad.FailOnInvalid)
	// Defaults still apply for unset values
	assert.Equal(t, "gpt-5", cfg.Triad.Planner.Model)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chtemp(t)

	yaml := `
ledger:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(".", "config.yaml"), []byte(yaml), 0644))

	t.Setenv("VECTO_LEDGER_DRIVER", "postgres")
	t.Setenv("VECTO_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Ledger.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chtemp(t)

	t.Setenv("VECTO_SERVER_PORT", "3000")
	t.Setenv("VECTO_TRIAD_PLANNER_MODEL", "gpt-5-mini")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "gpt-5-mini", cfg.Triad.Planner.Model)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	require.Error(t, err)
}
