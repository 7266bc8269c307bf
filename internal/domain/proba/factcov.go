package proba

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// FactCovGaussMap is the factored-covariance Gaussian family:
//
//	S = diag(exp(2*logd)) + V V'
//
// with V of shape dim x rank. The diagonal term keeps S positive definite
// for every finite parameter, so the family tolerates large gradient steps
// while still expressing rank-limited correlation.
//
// Parameter layout: [mean (dim), logd (dim), V (dim*rank, row-major)].
//
// This is a curved family: it does not admit a flat natural
// parameterization, so it implements Map but not ExpFamily.
type FactCovGaussMap struct {
	dim  int
	rank int
}

// NewFactCovGaussMap creates the factored-covariance family with the given
// sample dimension and factor rank.
func NewFactCovGaussMap(dim, rank int) (*FactCovGaussMap, error) {
	if rank <= 0 || rank > dim {
		return nil, fmt.Errorf("%w: rank %d must be in [1, %d]", ErrInvalidParameter, rank, dim)
	}
	return &FactCovGaussMap{dim: dim, rank: rank}, nil
}

// Rank returns the factor rank.
func (m *FactCovGaussMap) Rank() int { return m.rank }

func (m *FactCovGaussMap) SampleDim() int { return m.dim }

func (m *FactCovGaussMap) ParamDim() int { return 2*m.dim + m.dim*m.rank }

// IsoParam returns the parameter centered at mean with diagonal standard
// deviation sigma and a zero factor.
func (m *FactCovGaussMap) IsoParam(mean []float64, sigma float64) shared.ProbaParam {
	param := make([]float64, m.ParamDim())
	copy(param, mean)
	for i := 0; i < m.dim; i++ {
		param[m.dim+i] = math.Log(sigma)
	}
	return param
}

func (m *FactCovGaussMap) Validate(param shared.ProbaParam) error {
	return checkParam(param, m.ParamDim())
}

func (m *FactCovGaussMap) factor(param shared.ProbaParam) *mat.Dense {
	return mat.NewDense(m.dim, m.rank, shared.CloneFloats(param[2*m.dim:]))
}

func (m *FactCovGaussMap) moments(param shared.ProbaParam) (*gaussMoments, *mat.Dense, error) {
	if err := m.Validate(param); err != nil {
		return nil, nil, err
	}
	v := m.factor(param)
	cov := mat.NewSymDense(m.dim, nil)
	for i := 0; i < m.dim; i++ {
		for j := i; j < m.dim; j++ {
			s := 0.0
			for k := 0; k < m.rank; k++ {
				s += v.At(i, k) * v.At(j, k)
			}
			if i == j {
				s += math.Exp(2 * param[m.dim+i])
			}
			cov.SetSym(i, j, s)
		}
	}
	mom, err := newGaussMoments(shared.CloneFloats(param[:m.dim]), cov)
	if err != nil {
		return nil, nil, err
	}
	return mom, v, nil
}

func (m *FactCovGaussMap) New(param shared.ProbaParam) (Dist, error) {
	mom, _, err := m.moments(param)
	if err != nil {
		return nil, err
	}
	return newGaussDist(mom), nil
}

func (m *FactCovGaussMap) KL(left, right shared.ProbaParam) (float64, error) {
	momL, _, err := m.moments(left)
	if err != nil {
		return 0, err
	}
	momR, _, err := m.moments(right)
	if err != nil {
		return 0, err
	}
	return klDense(momL, momR)
}

// pullback converts a covariance-space gradient into the (logd, V) layout.
func (m *FactCovGaussMap) pullback(param shared.ProbaParam, gradCov *mat.SymDense, v *mat.Dense) []float64 {
	out := make([]float64, m.dim+m.dim*m.rank)
	for i := 0; i < m.dim; i++ {
		out[i] = 2 * math.Exp(2*param[m.dim+i]) * gradCov.At(i, i)
	}
	for i := 0; i < m.dim; i++ {
		for k := 0; k < m.rank; k++ {
			s := 0.0
			for j := 0; j < m.dim; j++ {
				s += gradCov.At(i, j) * v.At(j, k)
			}
			out[m.dim+i*m.rank+k] = 2 * s
		}
	}
	return out
}

func (m *FactCovGaussMap) GradKL(prior shared.ProbaParam) (GradFunc, error) {
	momPrior, _, err := m.moments(prior)
	if err != nil {
		return nil, err
	}
	return func(post shared.ProbaParam) ([]float64, float64, error) {
		momPost, vPost, err := m.moments(post)
		if err != nil {
			return nil, 0, err
		}
		gradMean, gradCov, kl, err := klGradLeftDense(momPost, momPrior)
		if err != nil {
			return nil, 0, err
		}
		return append(gradMean, m.pullback(post, gradCov, vPost)...), kl, nil
	}, nil
}

func (m *FactCovGaussMap) GradRightKL(post shared.ProbaParam) (GradFunc, error) {
	momPost, _, err := m.moments(post)
	if err != nil {
		return nil, err
	}
	return func(prior shared.ProbaParam) ([]float64, float64, error) {
		momPrior, vPrior, err := m.moments(prior)
		if err != nil {
			return nil, 0, err
		}
		gradMean, gradCov, kl, err := klGradRightDense(momPost, momPrior)
		if err != nil {
			return nil, 0, err
		}
		return append(gradMean, m.pullback(prior, gradCov, vPrior)...), kl, nil
	}, nil
}

func (m *FactCovGaussMap) LogDensGrad(param shared.ProbaParam, x []float64) ([]float64, error) {
	mom, v, err := m.moments(param)
	if err != nil {
		return nil, err
	}
	if len(x) != m.dim {
		return nil, fmt.Errorf("%w: sample length %d, expected %d", ErrInvalidParameter, len(x), m.dim)
	}
	gradMean, gradCov := logDensGradDense(mom, x)
	return append(gradMean, m.pullback(param, gradCov, v)...), nil
}
