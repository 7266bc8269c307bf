package proba

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// testFamilies returns one instance of every family with a pair of distinct
// valid parameters.
func testFamilies(t *testing.T) []struct {
	name  string
	m     Map
	left  shared.ProbaParam
	right shared.ProbaParam
} {
	t.Helper()
	rng := rand.New(rand.NewSource(7))

	full := NewGaussMap(3)
	fullLeft := full.IsoParam([]float64{0.3, -0.2, 0.5}, 1.0)
	// Perturb off-diagonal entries to get a non-trivial covariance.
	fullLeft[3+1] = 0.4
	fullLeft[3+4] = -0.3
	fullRight := full.IsoParam([]float64{-0.1, 0.6, 0.0}, 1.3)

	diag := NewDiagGaussMap(4)
	diagLeft := diag.IsoParam([]float64{1, 0, -1, 2}, 0.8)
	diagRight := diag.IsoParam([]float64{0, 0.5, -0.5, 1}, 1.2)

	block, err := NewBlockDiagGaussMap([]int{2, 3})
	if err != nil {
		t.Fatalf("NewBlockDiagGaussMap: %v", err)
	}
	blockLeft := block.IsoParam([]float64{0.1, -0.4, 0.2, 0.9, -0.7}, 0.9)
	blockRight := block.IsoParam([]float64{0.6, 0.0, -0.2, 0.3, 0.1}, 1.1)

	fact, err := NewFactCovGaussMap(4, 2)
	if err != nil {
		t.Fatalf("NewFactCovGaussMap: %v", err)
	}
	factLeft := fact.IsoParam([]float64{0.2, -0.3, 0.7, 0.0}, 0.9)
	factRight := fact.IsoParam([]float64{-0.5, 0.4, 0.1, 0.6}, 1.2)
	for i := 2 * 4; i < len(factLeft); i++ {
		factLeft[i] = 0.3 * rng.NormFloat64()
		factRight[i] = 0.3 * rng.NormFloat64()
	}

	return []struct {
		name  string
		m     Map
		left  shared.ProbaParam
		right shared.ProbaParam
	}{
		{name: "gaussian", m: full, left: fullLeft, right: fullRight},
		{name: "diagonal", m: diag, left: diagLeft, right: diagRight},
		{name: "block-diagonal", m: block, left: blockLeft, right: blockRight},
		{name: "factored", m: fact, left: factLeft, right: factRight},
	}
}

func TestKLProperties(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			self, err := tc.m.KL(tc.left, tc.left)
			if err != nil {
				t.Fatalf("KL(p, p): %v", err)
			}
			if self > 1e-9 || self < 0 {
				t.Errorf("KL(p, p) = %g, expected 0", self)
			}

			kl, err := tc.m.KL(tc.left, tc.right)
			if err != nil {
				t.Fatalf("KL(p, q): %v", err)
			}
			if kl <= 0 {
				t.Errorf("KL(p, q) = %g, expected strictly positive for distinct parameters", kl)
			}
		})
	}
}

// numericalGrad estimates the gradient of f by central differences.
func numericalGrad(t *testing.T, f func(shared.ProbaParam) float64, p shared.ProbaParam, h float64) []float64 {
	t.Helper()
	grad := make([]float64, len(p))
	for i := range p {
		hi := shared.CloneFloats(p)
		lo := shared.CloneFloats(p)
		hi[i] += h
		lo[i] -= h
		grad[i] = (f(hi) - f(lo)) / (2 * h)
	}
	return grad
}

func assertGradClose(t *testing.T, analytic, numeric []float64, tol float64) {
	t.Helper()
	for i := range analytic {
		diff := math.Abs(analytic[i] - numeric[i])
		scale := 1.0 + math.Abs(numeric[i])
		if diff/scale > tol {
			t.Errorf("gradient entry %d: analytic %g vs numeric %g", i, analytic[i], numeric[i])
		}
	}
}

func TestGradKLMatchesFiniteDifferences(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := tc.m.GradKL(tc.right)
			if err != nil {
				t.Fatalf("GradKL: %v", err)
			}
			grad, kl, err := fn(tc.left)
			if err != nil {
				t.Fatalf("GradKL closure: %v", err)
			}
			if kl <= 0 {
				t.Fatalf("KL = %g, expected positive", kl)
			}

			numeric := numericalGrad(t, func(p shared.ProbaParam) float64 {
				v, err := tc.m.KL(p, tc.right)
				if err != nil {
					t.Fatalf("KL during finite differences: %v", err)
				}
				return v
			}, tc.left, 1e-6)

			assertGradClose(t, grad, numeric, 1e-4)
		})
	}
}

func TestGradRightKLMatchesFiniteDifferences(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := tc.m.GradRightKL(tc.left)
			if err != nil {
				t.Fatalf("GradRightKL: %v", err)
			}
			grad, _, err := fn(tc.right)
			if err != nil {
				t.Fatalf("GradRightKL closure: %v", err)
			}

			numeric := numericalGrad(t, func(p shared.ProbaParam) float64 {
				v, err := tc.m.KL(tc.left, p)
				if err != nil {
					t.Fatalf("KL during finite differences: %v", err)
				}
				return v
			}, tc.right, 1e-6)

			assertGradClose(t, grad, numeric, 1e-4)
		})
	}
}

func TestLogDensGradMatchesFiniteDifferences(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			x := make([]float64, tc.m.SampleDim())
			for i := range x {
				x[i] = 0.3 * float64(i+1)
			}

			grad, err := tc.m.LogDensGrad(tc.left, x)
			if err != nil {
				t.Fatalf("LogDensGrad: %v", err)
			}

			numeric := numericalGrad(t, func(p shared.ProbaParam) float64 {
				d, err := tc.m.New(p)
				if err != nil {
					t.Fatalf("New during finite differences: %v", err)
				}
				return d.LogDens(x)
			}, tc.left, 1e-6)

			assertGradClose(t, grad, numeric, 1e-4)
		})
	}
}

func TestSampleMomentsMatchParameters(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			dist, err := tc.m.New(tc.left)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rng := rand.New(rand.NewSource(11))
			xs := dist.Sample(rng, 20000)

			mean := dist.Mean()
			for i := 0; i < tc.m.SampleDim(); i++ {
				acc := 0.0
				for _, x := range xs {
					acc += x[i]
				}
				acc /= float64(len(xs))
				if math.Abs(acc-mean[i]) > 0.05 {
					t.Errorf("empirical mean[%d] = %g, distribution mean %g", i, acc, mean[i])
				}
			}
		})
	}
}

func TestLogDensBatchMatchesPointwise(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			dist, err := tc.m.New(tc.left)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rng := rand.New(rand.NewSource(3))
			xs := dist.Sample(rng, 5)
			batch := dist.LogDensBatch(xs)
			for i, x := range xs {
				if got := dist.LogDens(x); math.Abs(got-batch[i]) > 1e-12 {
					t.Errorf("batch[%d] = %g, pointwise %g", i, batch[i], got)
				}
			}
		})
	}
}

func TestValidateRejectsMalformedParameters(t *testing.T) {
	full := NewGaussMap(2)

	tests := []struct {
		name  string
		param shared.ProbaParam
	}{
		{name: "wrong length", param: []float64{1, 2, 3}},
		{name: "nan entry", param: []float64{math.NaN(), 0, 1, 0, 1}},
		{name: "zero cholesky diagonal", param: []float64{0, 0, 0, 0, 1}},
		{name: "negative cholesky diagonal", param: []float64{0, 0, -1, 0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := full.Validate(tt.param); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("Validate(%v) = %v, expected ErrInvalidParameter", tt.param, err)
			}
			if _, err := full.New(tt.param); !errors.Is(err, ErrInvalidParameter) {
				t.Errorf("New(%v) = %v, expected ErrInvalidParameter", tt.param, err)
			}
		})
	}
}

func TestFamilySpecRoundTrip(t *testing.T) {
	for _, tc := range testFamilies(t) {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := SpecOf(tc.m)
			if err != nil {
				t.Fatalf("SpecOf: %v", err)
			}
			rebuilt, err := spec.Build()
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if rebuilt.SampleDim() != tc.m.SampleDim() {
				t.Errorf("rebuilt SampleDim = %d, expected %d", rebuilt.SampleDim(), tc.m.SampleDim())
			}
			if rebuilt.ParamDim() != tc.m.ParamDim() {
				t.Errorf("rebuilt ParamDim = %d, expected %d", rebuilt.ParamDim(), tc.m.ParamDim())
			}
		})
	}
}
