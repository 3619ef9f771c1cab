package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Ledger        LedgerConfig        `yaml:"ledger" mapstructure:"ledger"`
	Anthropic     ProviderConfig      `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI        ProviderConfig      `yaml:"openai" mapstructure:"openai"`
	Google        ProviderConfig      `yaml:"google" mapstructure:"google"`
	Local         ProviderConfig      `yaml:"local" mapstructure:"local"`
	Triad         TriadConfig         `yaml:"triad" mapstructure:"triad"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Safety        SafetyConfig        `yaml:"safety" mapstructure:"safety"`
	Eval          EvalConfig          `yaml:"eval" mapstructure:"eval"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
}

// LedgerConfig configures the event ledger backend.
type LedgerConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ProviderConfig holds credentials and overrides for one generative back-end.
type ProviderConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// StageConfig configures one Triad stage's model call.
type StageConfig struct {
	Provider        string  `yaml:"provider" mapstructure:"provider"`
	Model           string  `yaml:"model" mapstructure:"model"`
	TimeoutMS       int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	Temperature     float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxOutputTokens int64   `yaml:"max_output_tokens" mapstructure:"max_output_tokens"`
	ReasoningEffort string  `yaml:"reasoning_effort" mapstructure:"reasoning_effort"`
}

// TriadConfig configures the three-stage pipeline.
type TriadConfig struct {
	Strategist       StageConfig `yaml:"strategist" mapstructure:"strategist"`
	Planner          StageConfig `yaml:"planner" mapstructure:"planner"`
	Validator        StageConfig `yaml:"validator" mapstructure:"validator"`
	FailOnInvalid    bool        `yaml:"fail_on_invalid" mapstructure:"fail_on_invalid"`
	WordCapInvariant bool        `yaml:"word_cap_invariant" mapstructure:"word_cap_invariant"`
	MaxCatalogVenues int         `yaml:"max_catalog_venues" mapstructure:"max_catalog_venues"`
}

// ObservabilityConfig holds health thresholds and alerting settings.
type ObservabilityConfig struct {
	MinSuccessRate        float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
	MaxAvgLatencyMS       float64 `yaml:"max_avg_latency_ms" mapstructure:"max_avg_latency_ms"`
	DriftThresholdPercent float64 `yaml:"drift_threshold_percent" mapstructure:"drift_threshold_percent"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CurrentWindowMinutes  int     `yaml:"current_window_minutes" mapstructure:"current_window_minutes"`
	BaselineWindowMinutes int     `yaml:"baseline_window_minutes" mapstructure:"baseline_window_minutes"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// SafetyConfig configures deployment guardrails. ReleaseTokenDigest takes
// precedence over the digest file when both are set.
type SafetyConfig struct {
	AuditLogPath           string `yaml:"audit_log_path" mapstructure:"audit_log_path"`
	ReleaseTokenDigest     string `yaml:"release_token_digest" mapstructure:"release_token_digest"`
	ReleaseTokenDigestPath string `yaml:"release_token_digest_path" mapstructure:"release_token_digest_path"`
}

// EvalConfig configures the evaluation runner.
type EvalConfig struct {
	ResultsDir     string  `yaml:"results_dir" mapstructure:"results_dir"`
	Concurrency    int     `yaml:"concurrency" mapstructure:"concurrency"`
	RequestsPerSec float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	UIOrigin string `yaml:"ui_origin" mapstructure:"ui_origin"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VECTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.database_url", "data/mlops/events.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.ui_origin", "https://vectopilot.com")

	v.SetDefault("triad.strategist.provider", "anthropic")
	v.SetDefault("triad.strategist.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("triad.strategist.timeout_ms", 60000)
	v.SetDefault("triad.strategist.temperature", 0.7)
	v.SetDefault("triad.strategist.max_output_tokens", 4096)

	v.SetDefault("triad.planner.provider", "openai")
	v.SetDefault("triad.planner.model", "gpt-5")
	v.SetDefault("triad.planner.timeout_ms", 120000)
	v.SetDefault("triad.planner.temperature", 0.2)
	v.SetDefault("triad.planner.max_output_tokens", 16000)
	v.SetDefault("triad.planner.reasoning_effort", "high")

	v.SetDefault("triad.validator.provider", "google")
	v.SetDefault("triad.validator.model", "gemini-2.0-flash-001")
	v.SetDefault("triad.validator.timeout_ms", 60000)
	v.SetDefault("triad.validator.temperature", 0.2)
	v.SetDefault("triad.validator.max_output_tokens", 8192)
	v.SetDefault("triad.validator.reasoning_effort", "low")

	v.SetDefault("triad.fail_on_invalid", true)
	v.SetDefault("triad.word_cap_invariant", true)
	v.SetDefault("triad.max_catalog_venues", 50)

	v.SetDefault("observability.min_success_rate", 0.95)
	v.SetDefault("observability.max_avg_latency_ms", 90000)
	v.SetDefault("observability.drift_threshold_percent", 20)
	v.SetDefault("observability.check_interval_secs", 300)
	v.SetDefault("observability.current_window_minutes", 60)
	v.SetDefault("observability.baseline_window_minutes", 1440)

	v.SetDefault("safety.audit_log_path", "data/mlops/audit.jsonl")
	v.SetDefault("safety.release_token_digest_path", "data/mlops/release_token.sha256")

	v.SetDefault("eval.results_dir", "data/mlops/evaluations")
	v.SetDefault("eval.concurrency", 4)
	v.SetDefault("eval.requests_per_sec", 2)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
