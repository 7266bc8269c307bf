package proba

import (
	"fmt"
	"math/rand"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// Dist is an instantiated distribution, produced by applying a Map to a
// parameter vector. Read-only.
type Dist interface {
	// Dim returns the dimension of the sample space.
	Dim() int

	// Sample draws n points using the supplied random source.
	Sample(rng *rand.Rand, n int) shared.Samples

	// LogDens evaluates the log-density at a single point.
	LogDens(x []float64) float64

	// LogDensBatch evaluates the log-density at each row of xs.
	LogDensBatch(xs shared.Samples) []float64

	// Mean returns the distribution mean.
	Mean() []float64
}

// GradFunc evaluates a partially-applied KL gradient at the free argument.
// It returns the gradient with respect to the free parameter and the KL value.
type GradFunc func(param shared.ProbaParam) (grad []float64, kl float64, err error)

// Map is a stateless parametric family of distributions. Applying the map to
// a parameter vector is deterministic; KL between two parameterizations is
// analytic and differentiable with respect to both arguments.
type Map interface {
	// SampleDim returns the dimension of the sample space.
	SampleDim() int

	// ParamDim returns the length of a parameter vector for this family.
	ParamDim() int

	// Validate checks a parameter vector. Returns ErrInvalidParameter for a
	// wrong length, non-finite entries, or a non-positive-definite covariance.
	Validate(param shared.ProbaParam) error

	// New instantiates the distribution at param.
	New(param shared.ProbaParam) (Dist, error)

	// KL returns the Kullback-Leibler divergence KL(left || right).
	KL(left, right shared.ProbaParam) (float64, error)

	// GradKL fixes the right (prior) argument and returns a closure computing
	// the gradient of KL(post || prior) with respect to the posterior.
	GradKL(prior shared.ProbaParam) (GradFunc, error)

	// GradRightKL fixes the left (posterior) argument and returns a closure
	// computing the gradient of KL(post || prior) with respect to the prior.
	GradRightKL(post shared.ProbaParam) (GradFunc, error)

	// LogDensGrad returns the gradient of the log-density at x with respect
	// to the family parameter, evaluated at param.
	LogDensGrad(param shared.ProbaParam, x []float64) ([]float64, error)
}

// ExpFamily is implemented by exponential-family maps. Under the natural
// parameterization the log-density is linear in the sufficient statistic:
//
//	log p(x) = T(x).eta - A(eta)
//
// so that log p(x) - T(x).eta + A(eta) does not depend on the parameter.
type ExpFamily interface {
	Map

	// NaturalDim returns the length of a natural parameter vector.
	NaturalDim() int

	// ToNatural converts a family parameter to its natural parameterization.
	ToNatural(param shared.ProbaParam) ([]float64, error)

	// FromNatural inverts ToNatural up to floating tolerance.
	FromNatural(nat []float64) (shared.ProbaParam, error)

	// SufficientStat returns T(x).
	SufficientStat(x []float64) []float64

	// LogPartition returns the log-partition A at a natural parameter.
	LogPartition(nat []float64) (float64, error)

	// LogPartitionGrad returns the gradient of A, i.e. the expectation of the
	// sufficient statistic under the distribution at nat.
	LogPartitionGrad(nat []float64) ([]float64, error)
}

// checkParam validates length and finiteness, the shared part of Validate.
func checkParam(param shared.ProbaParam, want int) error {
	if len(param) != want {
		return fmt.Errorf("%w: parameter length %d, family expects %d", ErrInvalidParameter, len(param), want)
	}
	if !shared.AllFinite(param) {
		return fmt.Errorf("%w: parameter has non-finite entries", ErrInvalidParameter)
	}
	return nil
}

// checkKL guards against numerically negative divergences. Values within
// rounding noise of zero are clamped; anything below that raises.
func checkKL(kl float64) (float64, error) {
	const tol = 1e-9
	if kl != kl {
		return 0, fmt.Errorf("%w: KL divergence is NaN", ErrNumerical)
	}
	if kl < 0 {
		if kl > -tol {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: negative KL divergence %g", ErrNumerical, kl)
	}
	return kl, nil
}
