package safety

import "fmt"

// InvalidTransitionError rejects a promotion outside the valid path.
type InvalidTransitionError struct {
	From Stage
	To   Stage
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("safety: invalid promotion: %s -> %s", e.From, e.To)
}

// MissingEvaluationError rejects a promotion without evaluation metrics.
type MissingEvaluationError struct {
	To Stage
}

func (e *MissingEvaluationError) Error() string {
	return fmt.Sprintf("safety: evaluation metrics required for promotion to %s", e.To)
}

// UnauthorizedPromotionError rejects a production promotion without a
// valid release token.
type UnauthorizedPromotionError struct{}

func (e *UnauthorizedPromotionError) Error() string {
	return "safety: valid release token required for production deployment"
}
