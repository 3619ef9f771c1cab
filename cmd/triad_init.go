package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/adapter"
	"github.com/vecto-labs/triad-cli/internal/config"
	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/observability"
	"github.com/vecto-labs/triad-cli/internal/safety"
	"github.com/vecto-labs/triad-cli/internal/triad"
)

// triadEnv holds the initialized ledger, orchestrator, and MLOps
// components shared by the run/serve/metrics commands.
type triadEnv struct {
	Ledger       ledger.Ledger
	Orchestrator *triad.Orchestrator
	Monitor      *observability.Monitor
	Alerter      *observability.Alerter
	Guardrails   *safety.Guardrails
}

// Close releases resources held by the environment.
func (te *triadEnv) Close() {
	if te.Ledger != nil {
		_ = te.Ledger.Close()
	}
}

// initTriad opens the ledger, builds the three stage adapters, and wires
// the orchestrator and MLOps components. Callers should defer env.Close().
func initTriad(ctx context.Context) (*triadEnv, error) {
	led, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	if err := led.Migrate(ctx); err != nil {
		_ = led.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}

	strategist, err := stageAdapter(cfg.Triad.Strategist)
	if err != nil {
		_ = led.Close()
		return nil, eris.Wrap(err, "init strategist adapter")
	}
	planner, err := stageAdapter(cfg.Triad.Planner)
	if err != nil {
		_ = led.Close()
		return nil, eris.Wrap(err, "init planner adapter")
	}
	validator, err := stageAdapter(cfg.Triad.Validator)
	if err != nil {
		_ = led.Close()
		return nil, eris.Wrap(err, "init validator adapter")
	}

	zap.L().Info("triad adapters ready",
		zap.String("strategist", cfg.Triad.Strategist.Provider+"/"+cfg.Triad.Strategist.Model),
		zap.String("planner", cfg.Triad.Planner.Provider+"/"+cfg.Triad.Planner.Model),
		zap.String("validator", cfg.Triad.Validator.Provider+"/"+cfg.Triad.Validator.Model),
	)

	orch := triad.New(strategist, planner, validator, led, triad.Options{
		Strategist:       stageSettings(cfg.Triad.Strategist),
		Planner:          stageSettings(cfg.Triad.Planner),
		Validator:        stageSettings(cfg.Triad.Validator),
		FailOnInvalid:    cfg.Triad.FailOnInvalid,
		WordCapInvariant: cfg.Triad.WordCapInvariant,
		MaxCatalogVenues: cfg.Triad.MaxCatalogVenues,
	})

	alerter := observability.NewAlerter(cfg.Observability.WebhookURL)
	monitor := observability.NewMonitor(led, cfg.Observability, alerter)
	guardrails := safety.NewGuardrails(cfg.Safety)

	return &triadEnv{
		Ledger:       led,
		Orchestrator: orch,
		Monitor:      monitor,
		Alerter:      alerter,
		Guardrails:   guardrails,
	}, nil
}

// initLedger opens the configured ledger backend.
func initLedger(ctx context.Context) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "postgres":
		return ledger.NewPostgres(ctx, cfg.Ledger.DatabaseURL, nil)
	case "sqlite", "":
		return ledger.NewSQLite(cfg.Ledger.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

// stageAdapter builds the model adapter for one triad stage, resolving
// credentials from the matching provider section.
func stageAdapter(sc config.StageConfig) (adapter.Adapter, error) {
	pc := providerConfig(sc.Provider)
	return adapter.New(adapter.Config{
		Provider: sc.Provider,
		Model:    sc.Model,
		APIKey:   pc.Key,
		BaseURL:  pc.BaseURL,
		Timeout:  time.Duration(sc.TimeoutMS) * time.Millisecond,
	})
}

func providerConfig(provider string) config.ProviderConfig {
	switch provider {
	case "anthropic":
		return cfg.Anthropic
	case "openai":
		return cfg.OpenAI
	case "google":
		return cfg.Google
	case "local":
		return cfg.Local
	}
	return config.ProviderConfig{}
}

func stageSettings(sc config.StageConfig) triad.StageSettings {
	return triad.StageSettings{
		Temperature:     sc.Temperature,
		MaxOutputTokens: sc.MaxOutputTokens,
		Timeout:         time.Duration(sc.TimeoutMS) * time.Millisecond,
		ReasoningEffort: sc.ReasoningEffort,
	}
}
