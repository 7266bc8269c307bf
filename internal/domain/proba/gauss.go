package proba

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// GaussMap is the full-covariance Gaussian family on R^dim.
//
// Parameter layout: [mean (dim), packed lower Cholesky factor (dim*(dim+1)/2)]
// with covariance S = L L'. The Cholesky diagonal must be strictly positive;
// this makes the representation canonical so the natural-parameter round trip
// is exact up to floating tolerance.
type GaussMap struct {
	dim int
}

// NewGaussMap creates the full-covariance Gaussian family of dimension dim.
func NewGaussMap(dim int) *GaussMap {
	return &GaussMap{dim: dim}
}

func (g *GaussMap) SampleDim() int { return g.dim }

func (g *GaussMap) ParamDim() int { return g.dim + packedLen(g.dim) }

// IsoParam returns the parameter for an isotropic Gaussian centered at mean
// with standard deviation sigma.
func (g *GaussMap) IsoParam(mean []float64, sigma float64) shared.ProbaParam {
	param := make([]float64, g.ParamDim())
	copy(param, mean)
	idx := g.dim
	for i := 0; i < g.dim; i++ {
		for j := 0; j <= i; j++ {
			if i == j {
				param[idx] = sigma
			}
			idx++
		}
	}
	return param
}

func (g *GaussMap) Validate(param shared.ProbaParam) error {
	if err := checkParam(param, g.ParamDim()); err != nil {
		return err
	}
	packed := param[g.dim:]
	for i := 0; i < g.dim; i++ {
		diag := packed[packedLen(i+1)-1]
		if !finitePositive(diag) {
			return fmt.Errorf("%w: Cholesky diagonal entry %d is %g, must be positive", ErrInvalidParameter, i, diag)
		}
	}
	return nil
}

func (g *GaussMap) moments(param shared.ProbaParam) (*gaussMoments, *mat.TriDense, error) {
	if err := g.Validate(param); err != nil {
		return nil, nil, err
	}
	low := lowerFromPacked(g.dim, param[g.dim:])
	mom, err := newGaussMoments(shared.CloneFloats(param[:g.dim]), covFromLower(low))
	if err != nil {
		return nil, nil, err
	}
	return mom, low, nil
}

func (g *GaussMap) New(param shared.ProbaParam) (Dist, error) {
	mom, _, err := g.moments(param)
	if err != nil {
		return nil, err
	}
	return newGaussDist(mom), nil
}

func (g *GaussMap) KL(left, right shared.ProbaParam) (float64, error) {
	momL, _, err := g.moments(left)
	if err != nil {
		return 0, err
	}
	momR, _, err := g.moments(right)
	if err != nil {
		return 0, err
	}
	return klDense(momL, momR)
}

func (g *GaussMap) GradKL(prior shared.ProbaParam) (GradFunc, error) {
	momPrior, _, err := g.moments(prior)
	if err != nil {
		return nil, err
	}
	return func(post shared.ProbaParam) ([]float64, float64, error) {
		momPost, lowPost, err := g.moments(post)
		if err != nil {
			return nil, 0, err
		}
		gradMean, gradCov, kl, err := klGradLeftDense(momPost, momPrior)
		if err != nil {
			return nil, 0, err
		}
		return append(gradMean, packLowerGrad(gradCov, lowPost)...), kl, nil
	}, nil
}

func (g *GaussMap) GradRightKL(post shared.ProbaParam) (GradFunc, error) {
	momPost, _, err := g.moments(post)
	if err != nil {
		return nil, err
	}
	return func(prior shared.ProbaParam) ([]float64, float64, error) {
		momPrior, lowPrior, err := g.moments(prior)
		if err != nil {
			return nil, 0, err
		}
		gradMean, gradCov, kl, err := klGradRightDense(momPost, momPrior)
		if err != nil {
			return nil, 0, err
		}
		return append(gradMean, packLowerGrad(gradCov, lowPrior)...), kl, nil
	}, nil
}

func (g *GaussMap) LogDensGrad(param shared.ProbaParam, x []float64) ([]float64, error) {
	mom, low, err := g.moments(param)
	if err != nil {
		return nil, err
	}
	if len(x) != g.dim {
		return nil, fmt.Errorf("%w: sample length %d, expected %d", ErrInvalidParameter, len(x), g.dim)
	}
	gradMean, gradCov := logDensGradDense(mom, x)
	return append(gradMean, packLowerGrad(gradCov, low)...), nil
}

// ============================================================================
// Exponential family
// ============================================================================

func (g *GaussMap) NaturalDim() int { return g.dim + g.dim*g.dim }

func (g *GaussMap) ToNatural(param shared.ProbaParam) ([]float64, error) {
	mom, _, err := g.moments(param)
	if err != nil {
		return nil, err
	}
	return natFromMoments(mom), nil
}

func (g *GaussMap) FromNatural(nat []float64) (shared.ProbaParam, error) {
	mom, err := momentsFromNat(g.dim, nat)
	if err != nil {
		return nil, err
	}
	low := mat.NewTriDense(g.dim, mat.Lower, nil)
	mom.chol.LTo(low)
	return append(shared.CloneFloats(mom.mean), packLowerOf(low)...), nil
}

func (g *GaussMap) SufficientStat(x []float64) []float64 {
	return fullSufficientStat(x)
}

func (g *GaussMap) LogPartition(nat []float64) (float64, error) {
	mom, err := momentsFromNat(g.dim, nat)
	if err != nil {
		return 0, err
	}
	return logPartitionFromMoments(mom), nil
}

func (g *GaussMap) LogPartitionGrad(nat []float64) ([]float64, error) {
	mom, err := momentsFromNat(g.dim, nat)
	if err != nil {
		return nil, err
	}
	return logPartitionGradFromMoments(mom), nil
}
