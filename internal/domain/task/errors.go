// Package task provides the inference-task domain: score functions with a
// temperature and an accumulator of past evaluations.
package task

import "errors"

// Domain errors for tasks.
var (
	// ErrEvaluation indicates the score function failed or returned a
	// non-finite value.
	ErrEvaluation = errors.New("score evaluation failed")

	// ErrConfiguration indicates a hyperparameter or task setting outside its
	// valid range.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrUnknownScore indicates a score-function reference could not be
	// resolved against the registry.
	ErrUnknownScore = errors.New("unknown score function reference")
)
