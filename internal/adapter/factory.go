package adapter

import "fmt"

// New resolves a provider tag to a concrete adapter instance. Unknown
// provider tags fail with *ConfigError at construction time, not call time.
func New(cfg Config) (Adapter, error) {
	if cfg.Model == "" {
		return nil, &ConfigError{Msg: "model name is required"}
	}

	switch cfg.Provider {
	case "anthropic":
		return newAnthropicAdapter(cfg), nil
	case "openai":
		return newOpenAIAdapter(cfg), nil
	case "google":
		return newGoogleAdapter(cfg)
	case "local":
		return newLocalAdapter(cfg), nil
	default:
		return nil, &ConfigError{
			Msg: fmt.Sprintf("unknown provider %q (supported: anthropic, openai, google, local)", cfg.Provider),
		}
	}
}
