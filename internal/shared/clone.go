package shared

// CloneFloats returns a deep copy of a float64 slice.
// Parameter vectors cross component boundaries constantly; cloning at the
// boundary is what keeps history snapshots and detached posteriors immutable.
func CloneFloats(source []float64) []float64 {
	if source == nil {
		return nil
	}
	cloned := make([]float64, len(source))
	copy(cloned, source)
	return cloned
}

// CloneFloatMatrix returns a deep copy of a row-major batch of vectors.
func CloneFloatMatrix(source [][]float64) [][]float64 {
	if source == nil {
		return nil
	}
	cloned := make([][]float64, len(source))
	for i, row := range source {
		cloned[i] = CloneFloats(row)
	}
	return cloned
}
