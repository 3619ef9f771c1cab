package triad

import (
	"fmt"

	"github.com/vecto-labs/triad-cli/internal/model"
)

// ValidationError reports a stage whose output could not be parsed as the
// expected JSON shape.
type ValidationError struct {
	Stage model.Stage
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("triad: %s: %s: %v", e.Stage, e.Msg, e.Err)
	}
	return fmt.Sprintf("triad: %s: %s", e.Stage, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvariantError reports a final plan that violates a pipeline invariant.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string {
	return "triad: invariant violation: " + e.Msg
}
