package proba

import "fmt"

// Family names the covariance structure of a Gaussian-structured map.
type Family string

const (
	FamilyGauss     Family = "gaussian"
	FamilyDiag      Family = "diagonal"
	FamilyBlockDiag Family = "block-diagonal"
	FamilyFactCov   Family = "factored"
)

// FamilySpec is the serializable description of a probability family. It is
// what persistence and the CLI store instead of the map itself.
type FamilySpec struct {
	Family Family `json:"family" yaml:"family"`
	Dim    int    `json:"dim" yaml:"dim"`
	Blocks []int  `json:"blocks,omitempty" yaml:"blocks,omitempty"`
	Rank   int    `json:"rank,omitempty" yaml:"rank,omitempty"`
}

// Build constructs the map described by the spec.
func (s FamilySpec) Build() (Map, error) {
	switch s.Family {
	case FamilyGauss:
		if s.Dim <= 0 {
			return nil, fmt.Errorf("%w: dimension %d must be positive", ErrInvalidParameter, s.Dim)
		}
		return NewGaussMap(s.Dim), nil
	case FamilyDiag:
		if s.Dim <= 0 {
			return nil, fmt.Errorf("%w: dimension %d must be positive", ErrInvalidParameter, s.Dim)
		}
		return NewDiagGaussMap(s.Dim), nil
	case FamilyBlockDiag:
		return NewBlockDiagGaussMap(s.Blocks)
	case FamilyFactCov:
		return NewFactCovGaussMap(s.Dim, s.Rank)
	default:
		return nil, fmt.Errorf("%w: unknown family %q", ErrInvalidParameter, s.Family)
	}
}

// SpecOf recovers the serializable spec of a map built by this package.
func SpecOf(m Map) (FamilySpec, error) {
	switch t := m.(type) {
	case *GaussMap:
		return FamilySpec{Family: FamilyGauss, Dim: t.SampleDim()}, nil
	case *DiagGaussMap:
		return FamilySpec{Family: FamilyDiag, Dim: t.SampleDim()}, nil
	case *BlockDiagGaussMap:
		return FamilySpec{Family: FamilyBlockDiag, Dim: t.SampleDim(), Blocks: t.BlockSizes()}, nil
	case *FactCovGaussMap:
		return FamilySpec{Family: FamilyFactCov, Dim: t.SampleDim(), Rank: t.Rank()}, nil
	default:
		return FamilySpec{}, fmt.Errorf("%w: map type %T has no serializable spec", ErrInvalidParameter, m)
	}
}
