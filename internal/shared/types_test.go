package shared

import (
	"math"
	"testing"
)

func TestAllFinite(t *testing.T) {
	tests := []struct {
		name     string
		input    []float64
		expected bool
	}{
		{name: "empty", input: nil, expected: true},
		{name: "finite", input: []float64{1, -2.5, 0}, expected: true},
		{name: "nan", input: []float64{1, math.NaN()}, expected: false},
		{name: "pos inf", input: []float64{math.Inf(1)}, expected: false},
		{name: "neg inf", input: []float64{0, math.Inf(-1), 2}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AllFinite(tt.input)
			if got != tt.expected {
				t.Fatalf("AllFinite(%v) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestAddScaled(t *testing.T) {
	a := []float64{1, 2, 3}
	b := []float64{2, 0, -1}

	got := AddScaled(a, 0.5, b)

	want := []float64{2, 2, 2.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("AddScaled[%d] = %v, expected %v", i, got[i], want[i])
		}
	}
	if a[0] != 1 || b[0] != 2 {
		t.Error("AddScaled must not mutate its inputs")
	}
}

func TestMaxAbsDiff(t *testing.T) {
	a := []float64{1, 5, -3}
	b := []float64{1, 4, -1}

	if got := MaxAbsDiff(a, b); got != 2 {
		t.Errorf("MaxAbsDiff = %v, expected 2", got)
	}
	if got := MaxAbsDiff(a, a); got != 0 {
		t.Errorf("MaxAbsDiff of identical vectors = %v, expected 0", got)
	}
}

func TestMean(t *testing.T) {
	if got := Mean(nil); got != 0 {
		t.Errorf("Mean(nil) = %v, expected 0", got)
	}
	if got := Mean([]float64{1, 2, 3, 4}); got != 2.5 {
		t.Errorf("Mean = %v, expected 2.5", got)
	}
}

func TestCloneFloats(t *testing.T) {
	src := []float64{1, 2, 3}
	cloned := CloneFloats(src)

	cloned[0] = 99
	if src[0] != 1 {
		t.Error("mutating the clone must not affect the source")
	}
	if CloneFloats(nil) != nil {
		t.Error("CloneFloats(nil) should be nil")
	}
}

func TestCloneFloatMatrix(t *testing.T) {
	src := [][]float64{{1, 2}, {3, 4}}
	cloned := CloneFloatMatrix(src)

	cloned[1][0] = 99
	if src[1][0] != 3 {
		t.Error("mutating a cloned row must not affect the source")
	}
}
