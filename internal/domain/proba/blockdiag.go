package proba

import (
	"fmt"
	"math/rand"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// BlockDiagGaussMap is a Gaussian family whose covariance is block-diagonal
// over a declared partition of the coordinates. Each block is a full
// covariance Gaussian; blocks are independent.
//
// Parameter layout: the per-block GaussMap parameters concatenated in block
// order, i.e. [mean_0, packedL_0, mean_1, packedL_1, ...].
type BlockDiagGaussMap struct {
	sizes     []int
	subs      []*GaussMap
	sampleOff []int
	paramOff  []int
	natOff    []int
	sampleDim int
	paramDim  int
	natDim    int
}

// NewBlockDiagGaussMap creates a block-diagonal Gaussian family with the
// given block sizes. Sizes must be positive.
func NewBlockDiagGaussMap(sizes []int) (*BlockDiagGaussMap, error) {
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: block sizes must be non-empty", ErrInvalidParameter)
	}
	m := &BlockDiagGaussMap{
		sizes:     append([]int(nil), sizes...),
		subs:      make([]*GaussMap, len(sizes)),
		sampleOff: make([]int, len(sizes)),
		paramOff:  make([]int, len(sizes)),
		natOff:    make([]int, len(sizes)),
	}
	for b, s := range sizes {
		if s <= 0 {
			return nil, fmt.Errorf("%w: block size %d must be positive", ErrInvalidParameter, s)
		}
		m.subs[b] = NewGaussMap(s)
		m.sampleOff[b] = m.sampleDim
		m.paramOff[b] = m.paramDim
		m.natOff[b] = m.natDim
		m.sampleDim += s
		m.paramDim += m.subs[b].ParamDim()
		m.natDim += m.subs[b].NaturalDim()
	}
	return m, nil
}

// BlockSizes returns a copy of the declared block sizes.
func (m *BlockDiagGaussMap) BlockSizes() []int { return append([]int(nil), m.sizes...) }

func (m *BlockDiagGaussMap) SampleDim() int { return m.sampleDim }

func (m *BlockDiagGaussMap) ParamDim() int { return m.paramDim }

// IsoParam returns the parameter centered at mean with isotropic standard
// deviation sigma.
func (m *BlockDiagGaussMap) IsoParam(mean []float64, sigma float64) shared.ProbaParam {
	param := make([]float64, 0, m.paramDim)
	for b, sub := range m.subs {
		lo := m.sampleOff[b]
		param = append(param, sub.IsoParam(mean[lo:lo+m.sizes[b]], sigma)...)
	}
	return param
}

func (m *BlockDiagGaussMap) blockParam(param shared.ProbaParam, b int) shared.ProbaParam {
	return param[m.paramOff[b] : m.paramOff[b]+m.subs[b].ParamDim()]
}

func (m *BlockDiagGaussMap) blockSample(x []float64, b int) []float64 {
	return x[m.sampleOff[b] : m.sampleOff[b]+m.sizes[b]]
}

func (m *BlockDiagGaussMap) Validate(param shared.ProbaParam) error {
	if err := checkParam(param, m.paramDim); err != nil {
		return err
	}
	for b, sub := range m.subs {
		if err := sub.Validate(m.blockParam(param, b)); err != nil {
			return fmt.Errorf("block %d: %w", b, err)
		}
	}
	return nil
}

func (m *BlockDiagGaussMap) New(param shared.ProbaParam) (Dist, error) {
	if err := m.Validate(param); err != nil {
		return nil, err
	}
	dists := make([]Dist, len(m.subs))
	for b, sub := range m.subs {
		d, err := sub.New(m.blockParam(param, b))
		if err != nil {
			return nil, err
		}
		dists[b] = d
	}
	return &blockDist{m: m, subs: dists}, nil
}

func (m *BlockDiagGaussMap) KL(left, right shared.ProbaParam) (float64, error) {
	if err := m.Validate(left); err != nil {
		return 0, err
	}
	if err := m.Validate(right); err != nil {
		return 0, err
	}
	total := 0.0
	for b, sub := range m.subs {
		kl, err := sub.KL(m.blockParam(left, b), m.blockParam(right, b))
		if err != nil {
			return 0, err
		}
		total += kl
	}
	return total, nil
}

func (m *BlockDiagGaussMap) GradKL(prior shared.ProbaParam) (GradFunc, error) {
	if err := m.Validate(prior); err != nil {
		return nil, err
	}
	fns := make([]GradFunc, len(m.subs))
	for b, sub := range m.subs {
		fn, err := sub.GradKL(m.blockParam(prior, b))
		if err != nil {
			return nil, err
		}
		fns[b] = fn
	}
	return m.combineGrads(fns), nil
}

func (m *BlockDiagGaussMap) GradRightKL(post shared.ProbaParam) (GradFunc, error) {
	if err := m.Validate(post); err != nil {
		return nil, err
	}
	fns := make([]GradFunc, len(m.subs))
	for b, sub := range m.subs {
		fn, err := sub.GradRightKL(m.blockParam(post, b))
		if err != nil {
			return nil, err
		}
		fns[b] = fn
	}
	return m.combineGrads(fns), nil
}

// combineGrads assembles per-block partial gradients into the family layout.
func (m *BlockDiagGaussMap) combineGrads(fns []GradFunc) GradFunc {
	return func(param shared.ProbaParam) ([]float64, float64, error) {
		if err := m.Validate(param); err != nil {
			return nil, 0, err
		}
		grad := make([]float64, m.paramDim)
		total := 0.0
		for b, fn := range fns {
			g, kl, err := fn(m.blockParam(param, b))
			if err != nil {
				return nil, 0, err
			}
			copy(grad[m.paramOff[b]:], g)
			total += kl
		}
		return grad, total, nil
	}
}

func (m *BlockDiagGaussMap) LogDensGrad(param shared.ProbaParam, x []float64) ([]float64, error) {
	if err := m.Validate(param); err != nil {
		return nil, err
	}
	if len(x) != m.sampleDim {
		return nil, fmt.Errorf("%w: sample length %d, expected %d", ErrInvalidParameter, len(x), m.sampleDim)
	}
	grad := make([]float64, m.paramDim)
	for b, sub := range m.subs {
		g, err := sub.LogDensGrad(m.blockParam(param, b), m.blockSample(x, b))
		if err != nil {
			return nil, err
		}
		copy(grad[m.paramOff[b]:], g)
	}
	return grad, nil
}

// ============================================================================
// Exponential family (blockwise)
// ============================================================================

func (m *BlockDiagGaussMap) NaturalDim() int { return m.natDim }

func (m *BlockDiagGaussMap) blockNat(nat []float64, b int) []float64 {
	return nat[m.natOff[b] : m.natOff[b]+m.subs[b].NaturalDim()]
}

func (m *BlockDiagGaussMap) ToNatural(param shared.ProbaParam) ([]float64, error) {
	nat := make([]float64, 0, m.natDim)
	for b, sub := range m.subs {
		sn, err := sub.ToNatural(m.blockParam(param, b))
		if err != nil {
			return nil, err
		}
		nat = append(nat, sn...)
	}
	return nat, nil
}

func (m *BlockDiagGaussMap) FromNatural(nat []float64) (shared.ProbaParam, error) {
	if len(nat) != m.natDim {
		return nil, fmt.Errorf("%w: natural parameter length %d, expected %d", ErrInvalidParameter, len(nat), m.natDim)
	}
	param := make([]float64, 0, m.paramDim)
	for b, sub := range m.subs {
		sp, err := sub.FromNatural(m.blockNat(nat, b))
		if err != nil {
			return nil, err
		}
		param = append(param, sp...)
	}
	return param, nil
}

func (m *BlockDiagGaussMap) SufficientStat(x []float64) []float64 {
	out := make([]float64, 0, m.natDim)
	for b, sub := range m.subs {
		out = append(out, sub.SufficientStat(m.blockSample(x, b))...)
	}
	return out
}

func (m *BlockDiagGaussMap) LogPartition(nat []float64) (float64, error) {
	if len(nat) != m.natDim {
		return 0, fmt.Errorf("%w: natural parameter length %d, expected %d", ErrInvalidParameter, len(nat), m.natDim)
	}
	total := 0.0
	for b, sub := range m.subs {
		a, err := sub.LogPartition(m.blockNat(nat, b))
		if err != nil {
			return 0, err
		}
		total += a
	}
	return total, nil
}

func (m *BlockDiagGaussMap) LogPartitionGrad(nat []float64) ([]float64, error) {
	if len(nat) != m.natDim {
		return nil, fmt.Errorf("%w: natural parameter length %d, expected %d", ErrInvalidParameter, len(nat), m.natDim)
	}
	grad := make([]float64, 0, m.natDim)
	for b, sub := range m.subs {
		g, err := sub.LogPartitionGrad(m.blockNat(nat, b))
		if err != nil {
			return nil, err
		}
		grad = append(grad, g...)
	}
	return grad, nil
}

// blockDist stitches independent per-block distributions.
type blockDist struct {
	m    *BlockDiagGaussMap
	subs []Dist
}

func (d *blockDist) Dim() int { return d.m.sampleDim }

func (d *blockDist) Sample(rng *rand.Rand, n int) shared.Samples {
	out := make(shared.Samples, n)
	for i := range out {
		out[i] = make([]float64, d.m.sampleDim)
	}
	for b, sub := range d.subs {
		rows := sub.Sample(rng, n)
		for i, row := range rows {
			copy(out[i][d.m.sampleOff[b]:], row)
		}
	}
	return out
}

func (d *blockDist) LogDens(x []float64) float64 {
	ld := 0.0
	for b, sub := range d.subs {
		ld += sub.LogDens(d.m.blockSample(x, b))
	}
	return ld
}

func (d *blockDist) LogDensBatch(xs shared.Samples) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = d.LogDens(x)
	}
	return out
}

func (d *blockDist) Mean() []float64 {
	mean := make([]float64, d.m.sampleDim)
	for b, sub := range d.subs {
		copy(mean[d.m.sampleOff[b]:], sub.Mean())
	}
	return mean
}
