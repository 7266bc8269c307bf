package proba

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// DiagGaussMap is the tensorized Gaussian family: independent coordinates
// with diagonal covariance.
//
// Parameter layout: [mean (dim), log standard deviations (dim)]. Every
// parameter vector with finite entries is valid, which makes this the most
// robust family under aggressive gradient steps.
type DiagGaussMap struct {
	dim int
}

// NewDiagGaussMap creates the diagonal Gaussian family of dimension dim.
func NewDiagGaussMap(dim int) *DiagGaussMap {
	return &DiagGaussMap{dim: dim}
}

func (g *DiagGaussMap) SampleDim() int { return g.dim }

func (g *DiagGaussMap) ParamDim() int { return 2 * g.dim }

// IsoParam returns the parameter centered at mean with standard deviation sigma.
func (g *DiagGaussMap) IsoParam(mean []float64, sigma float64) shared.ProbaParam {
	param := make([]float64, g.ParamDim())
	copy(param, mean)
	for i := g.dim; i < 2*g.dim; i++ {
		param[i] = math.Log(sigma)
	}
	return param
}

func (g *DiagGaussMap) Validate(param shared.ProbaParam) error {
	return checkParam(param, g.ParamDim())
}

func (g *DiagGaussMap) sigmas(param shared.ProbaParam) []float64 {
	sig := make([]float64, g.dim)
	for i := 0; i < g.dim; i++ {
		sig[i] = math.Exp(param[g.dim+i])
	}
	return sig
}

func (g *DiagGaussMap) New(param shared.ProbaParam) (Dist, error) {
	if err := g.Validate(param); err != nil {
		return nil, err
	}
	return &diagDist{
		mean: shared.CloneFloats(param[:g.dim]),
		sig:  g.sigmas(param),
	}, nil
}

func (g *DiagGaussMap) KL(left, right shared.ProbaParam) (float64, error) {
	if err := g.Validate(left); err != nil {
		return 0, err
	}
	if err := g.Validate(right); err != nil {
		return 0, err
	}
	kl := 0.0
	for i := 0; i < g.dim; i++ {
		la, lb := left[g.dim+i], right[g.dim+i]
		va := math.Exp(2 * la)
		vb := math.Exp(2 * lb)
		delta := left[i] - right[i]
		kl += lb - la + (va+delta*delta)/(2*vb) - 0.5
	}
	return checkKL(kl)
}

func (g *DiagGaussMap) GradKL(prior shared.ProbaParam) (GradFunc, error) {
	if err := g.Validate(prior); err != nil {
		return nil, err
	}
	priorCopy := shared.CloneFloats(prior)
	return func(post shared.ProbaParam) ([]float64, float64, error) {
		kl, err := g.KL(post, priorCopy)
		if err != nil {
			return nil, 0, err
		}
		grad := make([]float64, g.ParamDim())
		for i := 0; i < g.dim; i++ {
			va := math.Exp(2 * post[g.dim+i])
			vb := math.Exp(2 * priorCopy[g.dim+i])
			delta := post[i] - priorCopy[i]
			grad[i] = delta / vb
			grad[g.dim+i] = va/vb - 1
		}
		return grad, kl, nil
	}, nil
}

func (g *DiagGaussMap) GradRightKL(post shared.ProbaParam) (GradFunc, error) {
	if err := g.Validate(post); err != nil {
		return nil, err
	}
	postCopy := shared.CloneFloats(post)
	return func(prior shared.ProbaParam) ([]float64, float64, error) {
		kl, err := g.KL(postCopy, prior)
		if err != nil {
			return nil, 0, err
		}
		grad := make([]float64, g.ParamDim())
		for i := 0; i < g.dim; i++ {
			va := math.Exp(2 * postCopy[g.dim+i])
			vb := math.Exp(2 * prior[g.dim+i])
			delta := postCopy[i] - prior[i]
			grad[i] = -delta / vb
			grad[g.dim+i] = 1 - (va+delta*delta)/vb
		}
		return grad, kl, nil
	}, nil
}

func (g *DiagGaussMap) LogDensGrad(param shared.ProbaParam, x []float64) ([]float64, error) {
	if err := g.Validate(param); err != nil {
		return nil, err
	}
	if len(x) != g.dim {
		return nil, fmt.Errorf("%w: sample length %d, expected %d", ErrInvalidParameter, len(x), g.dim)
	}
	grad := make([]float64, g.ParamDim())
	for i := 0; i < g.dim; i++ {
		v := math.Exp(2 * param[g.dim+i])
		r := x[i] - param[i]
		grad[i] = r / v
		grad[g.dim+i] = r*r/v - 1
	}
	return grad, nil
}

// ============================================================================
// Exponential family
// ============================================================================

func (g *DiagGaussMap) NaturalDim() int { return 2 * g.dim }

func (g *DiagGaussMap) ToNatural(param shared.ProbaParam) ([]float64, error) {
	if err := g.Validate(param); err != nil {
		return nil, err
	}
	nat := make([]float64, 2*g.dim)
	for i := 0; i < g.dim; i++ {
		v := math.Exp(2 * param[g.dim+i])
		nat[i] = param[i] / v
		nat[g.dim+i] = -1 / (2 * v)
	}
	return nat, nil
}

func (g *DiagGaussMap) FromNatural(nat []float64) (shared.ProbaParam, error) {
	if len(nat) != 2*g.dim {
		return nil, fmt.Errorf("%w: natural parameter length %d, expected %d", ErrInvalidParameter, len(nat), 2*g.dim)
	}
	param := make([]float64, 2*g.dim)
	for i := 0; i < g.dim; i++ {
		if nat[g.dim+i] >= 0 {
			return nil, fmt.Errorf("%w: second natural block entry %d is %g, must be negative", ErrInvalidParameter, i, nat[g.dim+i])
		}
		v := -1 / (2 * nat[g.dim+i])
		param[i] = nat[i] * v
		param[g.dim+i] = 0.5 * math.Log(v)
	}
	return param, nil
}

func (g *DiagGaussMap) SufficientStat(x []float64) []float64 {
	out := make([]float64, 2*g.dim)
	for i := 0; i < g.dim; i++ {
		out[i] = x[i]
		out[g.dim+i] = x[i] * x[i]
	}
	return out
}

func (g *DiagGaussMap) LogPartition(nat []float64) (float64, error) {
	a := 0.0
	for i := 0; i < g.dim; i++ {
		if nat[g.dim+i] >= 0 {
			return 0, fmt.Errorf("%w: second natural block entry %d is %g, must be negative", ErrInvalidParameter, i, nat[g.dim+i])
		}
		a += -nat[i]*nat[i]/(4*nat[g.dim+i]) - 0.5*math.Log(-2*nat[g.dim+i]) + 0.5*log2Pi
	}
	return a, nil
}

func (g *DiagGaussMap) LogPartitionGrad(nat []float64) ([]float64, error) {
	grad := make([]float64, 2*g.dim)
	for i := 0; i < g.dim; i++ {
		if nat[g.dim+i] >= 0 {
			return nil, fmt.Errorf("%w: second natural block entry %d is %g, must be negative", ErrInvalidParameter, i, nat[g.dim+i])
		}
		v := -1 / (2 * nat[g.dim+i])
		mu := nat[i] * v
		grad[i] = mu
		grad[g.dim+i] = v + mu*mu
	}
	return grad, nil
}

// diagDist is the instantiated diagonal Gaussian.
type diagDist struct {
	mean []float64
	sig  []float64
}

func (d *diagDist) Dim() int { return len(d.mean) }

func (d *diagDist) Sample(rng *rand.Rand, n int) shared.Samples {
	out := make(shared.Samples, n)
	for s := 0; s < n; s++ {
		x := make([]float64, len(d.mean))
		for i := range x {
			x[i] = d.mean[i] + d.sig[i]*rng.NormFloat64()
		}
		out[s] = x
	}
	return out
}

func (d *diagDist) LogDens(x []float64) float64 {
	ld := 0.0
	for i := range d.mean {
		r := (x[i] - d.mean[i]) / d.sig[i]
		ld -= 0.5*(log2Pi+r*r) + math.Log(d.sig[i])
	}
	return ld
}

func (d *diagDist) LogDensBatch(xs shared.Samples) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = d.LogDens(x)
	}
	return out
}

func (d *diagDist) Mean() []float64 { return shared.CloneFloats(d.mean) }
