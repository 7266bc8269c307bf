// Package shared provides value types and numeric helpers used across all modules.
package shared

import "math"

// ============================================================================
// Parameter vectors
// ============================================================================

// ProbaParam identifies one member of a parametric probability family.
// It is a flat float64 vector whose layout is owned by the family that
// produced it. Treated as immutable once handed to another component.
type ProbaParam = []float64

// Samples is a batch of points of the sample space, one row per point.
type Samples = [][]float64

// ============================================================================
// Vector helpers
// ============================================================================

// AllFinite reports whether every entry of v is finite (no NaN, no Inf).
func AllFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// AddScaled returns dst = a + scale*b as a new vector.
func AddScaled(a []float64, scale float64, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] + scale*b[i]
	}
	return out
}

// Scale multiplies v by scale in place.
func Scale(v []float64, scale float64) {
	for i := range v {
		v[i] *= scale
	}
}

// AxpyInto accumulates dst += scale*v in place.
func AxpyInto(dst []float64, scale float64, v []float64) {
	for i := range dst {
		dst[i] += scale * v[i]
	}
}

// MaxAbsDiff returns the largest absolute componentwise difference between a and b.
func MaxAbsDiff(a, b []float64) float64 {
	max := 0.0
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > max {
			max = d
		}
	}
	return max
}

// Dot returns the inner product of a and b.
func Dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Mean returns the arithmetic mean of v, 0 for an empty slice.
func Mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
