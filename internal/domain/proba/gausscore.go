package proba

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

const log2Pi = 1.8378770664093453

// gaussMoments bundles the mean/covariance form of a Gaussian together with
// its Cholesky factorization, precision matrix and log-determinant. Every
// dense family reduces its parameter vector to this form.
type gaussMoments struct {
	dim    int
	mean   []float64
	cov    *mat.SymDense
	chol   *mat.Cholesky
	prec   *mat.SymDense
	logDet float64
}

func newGaussMoments(mean []float64, cov *mat.SymDense) (*gaussMoments, error) {
	chol := &mat.Cholesky{}
	if ok := chol.Factorize(cov); !ok {
		return nil, fmt.Errorf("%w: covariance is not positive definite", ErrInvalidParameter)
	}
	prec := &mat.SymDense{}
	if err := chol.InverseTo(prec); err != nil {
		return nil, fmt.Errorf("%w: covariance inversion failed: %v", ErrInvalidParameter, err)
	}
	return &gaussMoments{
		dim:    len(mean),
		mean:   mean,
		cov:    cov,
		chol:   chol,
		prec:   prec,
		logDet: chol.LogDet(),
	}, nil
}

// precDelta returns mu_b - mu_a and prec_b * (mu_b - mu_a).
func precDelta(a, b *gaussMoments) (delta, pd []float64) {
	d := a.dim
	delta = make([]float64, d)
	for i := 0; i < d; i++ {
		delta[i] = b.mean[i] - a.mean[i]
	}
	pd = make([]float64, d)
	for i := 0; i < d; i++ {
		s := 0.0
		for j := 0; j < d; j++ {
			s += b.prec.At(i, j) * delta[j]
		}
		pd[i] = s
	}
	return delta, pd
}

// klDense computes KL(a || b) in closed form:
//
//	0.5 * ( tr(Sb^-1 Sa) + d' Sb^-1 d - dim + logdet Sb - logdet Sa )
func klDense(a, b *gaussMoments) (float64, error) {
	d := a.dim
	tr := 0.0
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			tr += b.prec.At(i, j) * a.cov.At(i, j)
		}
	}
	delta, pd := precDelta(a, b)
	quad := shared.Dot(delta, pd)
	kl := 0.5 * (tr + quad - float64(d) + b.logDet - a.logDet)
	return checkKL(kl)
}

// klGradLeftDense returns the gradient of KL(a || b) with respect to a's
// mean and covariance, plus the KL value.
func klGradLeftDense(a, b *gaussMoments) (gradMean []float64, gradCov *mat.SymDense, kl float64, err error) {
	kl, err = klDense(a, b)
	if err != nil {
		return nil, nil, 0, err
	}
	d := a.dim

	_, pd := precDelta(a, b)
	gradMean = make([]float64, d)
	for i := 0; i < d; i++ {
		gradMean[i] = -pd[i]
	}

	gradCov = mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			gradCov.SetSym(i, j, 0.5*(b.prec.At(i, j)-a.prec.At(i, j)))
		}
	}
	return gradMean, gradCov, kl, nil
}

// klGradRightDense returns the gradient of KL(a || b) with respect to b's
// mean and covariance, plus the KL value.
func klGradRightDense(a, b *gaussMoments) (gradMean []float64, gradCov *mat.SymDense, kl float64, err error) {
	kl, err = klDense(a, b)
	if err != nil {
		return nil, nil, 0, err
	}
	d := a.dim

	delta, pd := precDelta(a, b)
	gradMean = shared.CloneFloats(pd)

	// inner = Sa + delta delta'
	inner := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			inner.Set(i, j, a.cov.At(i, j)+delta[i]*delta[j])
		}
	}
	var tmp, m mat.Dense
	tmp.Mul(b.prec, inner)
	m.Mul(&tmp, b.prec)

	gradCov = mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			v := 0.5 * (b.prec.At(i, j) - 0.5*(m.At(i, j)+m.At(j, i)))
			gradCov.SetSym(i, j, v)
		}
	}
	return gradMean, gradCov, kl, nil
}

// logDensDense evaluates the Gaussian log-density at x.
func logDensDense(m *gaussMoments, x []float64) float64 {
	d := m.dim
	r := make([]float64, d)
	for i := 0; i < d; i++ {
		r[i] = x[i] - m.mean[i]
	}
	quad := 0.0
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			quad += r[i] * m.prec.At(i, j) * r[j]
		}
	}
	return -0.5 * (float64(d)*log2Pi + m.logDet + quad)
}

// logDensGradDense returns the gradient of the log-density with respect to
// the mean and covariance at sample x.
func logDensGradDense(m *gaussMoments, x []float64) (gradMean []float64, gradCov *mat.SymDense) {
	d := m.dim
	r := make([]float64, d)
	for i := 0; i < d; i++ {
		r[i] = x[i] - m.mean[i]
	}
	s := make([]float64, d) // prec * r
	for i := 0; i < d; i++ {
		acc := 0.0
		for j := 0; j < d; j++ {
			acc += m.prec.At(i, j) * r[j]
		}
		s[i] = acc
	}
	gradMean = s

	gradCov = mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			gradCov.SetSym(i, j, 0.5*(s[i]*s[j]-m.prec.At(i, j)))
		}
	}
	return gradMean, gradCov
}

// gaussDist samples and evaluates a Gaussian given its moments.
type gaussDist struct {
	mom *gaussMoments
	low *mat.TriDense
}

func newGaussDist(mom *gaussMoments) *gaussDist {
	low := mat.NewTriDense(mom.dim, mat.Lower, nil)
	mom.chol.LTo(low)
	return &gaussDist{mom: mom, low: low}
}

func (g *gaussDist) Dim() int { return g.mom.dim }

func (g *gaussDist) Sample(rng *rand.Rand, n int) shared.Samples {
	d := g.mom.dim
	out := make(shared.Samples, n)
	z := make([]float64, d)
	for s := 0; s < n; s++ {
		for i := range z {
			z[i] = rng.NormFloat64()
		}
		x := make([]float64, d)
		for i := 0; i < d; i++ {
			acc := g.mom.mean[i]
			for j := 0; j <= i; j++ {
				acc += g.low.At(i, j) * z[j]
			}
			x[i] = acc
		}
		out[s] = x
	}
	return out
}

func (g *gaussDist) LogDens(x []float64) float64 {
	return logDensDense(g.mom, x)
}

func (g *gaussDist) LogDensBatch(xs shared.Samples) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = logDensDense(g.mom, x)
	}
	return out
}

func (g *gaussDist) Mean() []float64 { return shared.CloneFloats(g.mom.mean) }

// ============================================================================
// Packed lower-triangular helpers
// ============================================================================

// packedLen returns the number of free entries of a d x d lower triangle.
func packedLen(d int) int { return d * (d + 1) / 2 }

// lowerFromPacked expands a packed row-major lower triangle into a TriDense.
func lowerFromPacked(d int, packed []float64) *mat.TriDense {
	low := mat.NewTriDense(d, mat.Lower, nil)
	idx := 0
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			low.SetTri(i, j, packed[idx])
			idx++
		}
	}
	return low
}

// covFromLower returns L L'.
func covFromLower(low *mat.TriDense) *mat.SymDense {
	d, _ := low.Dims()
	cov := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			s := 0.0
			for k := 0; k <= i && k <= j; k++ {
				s += low.At(i, k) * low.At(j, k)
			}
			cov.SetSym(i, j, s)
		}
	}
	return cov
}

// packLowerGrad pulls a symmetric covariance gradient G back through the
// parameterization S = L L', packing the free lower-triangular entries of
// 2 G L.
func packLowerGrad(g *mat.SymDense, low *mat.TriDense) []float64 {
	d, _ := low.Dims()
	out := make([]float64, packedLen(d))
	idx := 0
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			s := 0.0
			for k := j; k < d; k++ {
				s += g.At(i, k) * low.At(k, j)
			}
			out[idx] = 2 * s
			idx++
		}
	}
	return out
}

// packLowerOf packs the lower triangle of an arbitrary matrix.
func packLowerOf(m mat.Matrix) []float64 {
	d, _ := m.Dims()
	out := make([]float64, packedLen(d))
	idx := 0
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			out[idx] = m.At(i, j)
			idx++
		}
	}
	return out
}

// ============================================================================
// Natural parameterization of a dense Gaussian
// ============================================================================

// natFromMoments maps moments to [prec*mu, vec(-prec/2)].
func natFromMoments(m *gaussMoments) []float64 {
	d := m.dim
	nat := make([]float64, d+d*d)
	for i := 0; i < d; i++ {
		s := 0.0
		for j := 0; j < d; j++ {
			s += m.prec.At(i, j) * m.mean[j]
		}
		nat[i] = s
	}
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			nat[d+i*d+j] = -0.5 * m.prec.At(i, j)
		}
	}
	return nat
}

// momentsFromNat inverts natFromMoments. The second natural block must be
// symmetric negative definite; otherwise ErrInvalidParameter.
func momentsFromNat(d int, nat []float64) (*gaussMoments, error) {
	if len(nat) != d+d*d {
		return nil, fmt.Errorf("%w: natural parameter length %d, expected %d", ErrInvalidParameter, len(nat), d+d*d)
	}
	prec := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			prec.SetSym(i, j, -(nat[d+i*d+j] + nat[d+j*d+i]))
		}
	}
	precChol := &mat.Cholesky{}
	if ok := precChol.Factorize(prec); !ok {
		return nil, fmt.Errorf("%w: natural parameter precision is not positive definite", ErrInvalidParameter)
	}
	cov := &mat.SymDense{}
	if err := precChol.InverseTo(cov); err != nil {
		return nil, fmt.Errorf("%w: precision inversion failed: %v", ErrInvalidParameter, err)
	}
	mean := make([]float64, d)
	for i := 0; i < d; i++ {
		s := 0.0
		for j := 0; j < d; j++ {
			s += cov.At(i, j) * nat[j]
		}
		mean[i] = s
	}
	return newGaussMoments(mean, cov)
}

// logPartitionFromMoments evaluates A(eta) through the moment form:
//
//	A = 0.5*mu' S^-1 mu + 0.5*logdet S + dim/2 * log 2 pi
func logPartitionFromMoments(m *gaussMoments) float64 {
	d := m.dim
	quad := 0.0
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			quad += m.mean[i] * m.prec.At(i, j) * m.mean[j]
		}
	}
	return 0.5*quad + 0.5*m.logDet + 0.5*float64(d)*log2Pi
}

// logPartitionGradFromMoments returns [mu, vec(S + mu mu')], the expected
// sufficient statistic.
func logPartitionGradFromMoments(m *gaussMoments) []float64 {
	d := m.dim
	out := make([]float64, d+d*d)
	copy(out, m.mean)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			out[d+i*d+j] = m.cov.At(i, j) + m.mean[i]*m.mean[j]
		}
	}
	return out
}

// fullSufficientStat returns [x, vec(x x')].
func fullSufficientStat(x []float64) []float64 {
	d := len(x)
	out := make([]float64, d+d*d)
	copy(out, x)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			out[d+i*d+j] = x[i] * x[j]
		}
	}
	return out
}

// finitePositive reports whether v is finite and strictly positive.
func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
