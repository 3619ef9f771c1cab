package adapter

import "fmt"

// BackendError wraps a transport failure, timeout, or back-end-reported
// error from a generative provider.
type BackendError struct {
	Provider string
	Err      error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend error: %v", e.Provider, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// ConfigError indicates an invalid adapter configuration, such as an unknown
// provider tag. Raised at construction time, never at call time.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "adapter config: " + e.Msg
}
