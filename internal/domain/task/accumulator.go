package task

import (
	"fmt"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// Accumulator records every (sample, log-density, score) triple evaluated on
// behalf of a task, tagged with the generation (solver round) that produced
// it. It is append-only: solver failures never roll it back, which is what
// makes warm reuse across solver invocations sound.
type Accumulator struct {
	samples shared.Samples
	logDens []float64
	scores  []float64
	gens    []int
	nGen    int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add appends one generation of evaluated samples. The log-density of each
// sample under its generating distribution is what later density-corrected
// reuse weights are built from.
func (a *Accumulator) Add(samples shared.Samples, logDens, scores []float64) error {
	if len(samples) != len(logDens) || len(samples) != len(scores) {
		return fmt.Errorf("%w: mismatched lengths samples=%d logDens=%d scores=%d",
			ErrConfiguration, len(samples), len(logDens), len(scores))
	}
	gen := a.nGen
	for i := range samples {
		a.samples = append(a.samples, shared.CloneFloats(samples[i]))
		a.logDens = append(a.logDens, logDens[i])
		a.scores = append(a.scores, scores[i])
		a.gens = append(a.gens, gen)
	}
	a.nGen++
	return nil
}

// Len returns the number of recorded evaluations.
func (a *Accumulator) Len() int { return len(a.scores) }

// Generations returns the number of Add calls so far.
func (a *Accumulator) Generations() int { return a.nGen }

// Tail returns read-only views of the last n records (all records when n <= 0
// or n exceeds the length).
func (a *Accumulator) Tail(n int) (samples shared.Samples, logDens, scores []float64, gens []int) {
	if n <= 0 || n > len(a.scores) {
		n = len(a.scores)
	}
	start := len(a.scores) - n
	return a.samples[start:], a.logDens[start:], a.scores[start:], a.gens[start:]
}

// State is the serializable snapshot of an accumulator.
type State struct {
	Samples shared.Samples `json:"samples"`
	LogDens []float64      `json:"logDens"`
	Scores  []float64      `json:"scores"`
	Gens    []int          `json:"gens"`
	NGen    int            `json:"nGen"`
}

// State snapshots the accumulator for persistence.
func (a *Accumulator) State() State {
	return State{
		Samples: shared.CloneFloatMatrix(a.samples),
		LogDens: shared.CloneFloats(a.logDens),
		Scores:  shared.CloneFloats(a.scores),
		Gens:    append([]int(nil), a.gens...),
		NGen:    a.nGen,
	}
}

// FromState rebuilds an accumulator from a snapshot.
func FromState(st State) *Accumulator {
	return &Accumulator{
		samples: shared.CloneFloatMatrix(st.Samples),
		logDens: shared.CloneFloats(st.LogDens),
		scores:  shared.CloneFloats(st.Scores),
		gens:    append([]int(nil), st.Gens...),
		nGen:    st.NGen,
	}
}
