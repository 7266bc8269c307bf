// Package metalearn implements the outer loop of PAC-Bayesian meta-learning:
// gradient descent on a shared prior across a collection of tasks, where each
// task contributes through its penalized variational posterior.
package metalearn

import (
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// History is the append-only record of the prior after each training epoch,
// together with the epoch's meta score (average penalized objective across
// tasks). Entries are stored oldest first and are never rewritten.
type History struct {
	params []shared.ProbaParam
	scores []float64
}

// NewHistory returns an empty history.
func NewHistory() *History { return &History{} }

// Add appends one epoch record.
func (h *History) Add(param shared.ProbaParam, score float64) {
	h.params = append(h.params, shared.CloneFloats(param))
	h.scores = append(h.scores, score)
}

// Len returns the number of recorded epochs.
func (h *History) Len() int { return len(h.scores) }

// At returns the prior and meta score of epoch i.
func (h *History) At(i int) (shared.ProbaParam, float64) {
	return shared.CloneFloats(h.params[i]), h.scores[i]
}

// MetaParams returns copies of the last k recorded priors, oldest first.
// k <= 0 or k beyond the record returns everything.
func (h *History) MetaParams(k int) []shared.ProbaParam {
	lo := h.tailStart(k)
	out := make([]shared.ProbaParam, 0, len(h.params)-lo)
	for _, p := range h.params[lo:] {
		out = append(out, shared.CloneFloats(p))
	}
	return out
}

// MetaScores returns the last k recorded meta scores, oldest first.
// k <= 0 or k beyond the record returns everything.
func (h *History) MetaScores(k int) []float64 {
	lo := h.tailStart(k)
	return shared.CloneFloats(h.scores[lo:])
}

func (h *History) tailStart(k int) int {
	if k <= 0 || k >= len(h.scores) {
		return 0
	}
	return len(h.scores) - k
}

// HistoryState is the serializable form of a History.
type HistoryState struct {
	Params []shared.ProbaParam `json:"params"`
	Scores []float64           `json:"scores"`
}

// State snapshots the history for persistence.
func (h *History) State() HistoryState {
	return HistoryState{
		Params: shared.CloneFloatMatrix(h.params),
		Scores: shared.CloneFloats(h.scores),
	}
}

// HistoryFromState rebuilds a history from a snapshot.
func HistoryFromState(s HistoryState) *History {
	return &History{
		params: shared.CloneFloatMatrix(s.Params),
		scores: shared.CloneFloats(s.Scores),
	}
}
