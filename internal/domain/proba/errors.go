// Package proba provides the probability-family domain: parametric maps from
// parameter vectors to distributions, with analytic KL divergence and
// exponential-family transforms.
package proba

import "errors"

// Domain errors for probability families.
var (
	// ErrInvalidParameter indicates a malformed family parameter: wrong length,
	// non-finite entries, or a covariance that is not positive definite.
	ErrInvalidParameter = errors.New("invalid distribution parameter")

	// ErrNumerical indicates a corrupted numeric result such as a negative KL
	// divergence or a non-finite log-density. These are raised immediately
	// rather than propagated, since they would silently corrupt gradients.
	ErrNumerical = errors.New("numerical error")
)
