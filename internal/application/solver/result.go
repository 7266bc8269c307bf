package solver

import "github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"

// Result is the outcome of one variational-inference solve.
type Result struct {
	// OptParam is the posterior parameter reached by the chain.
	OptParam shared.ProbaParam `json:"optParam"`

	// OptScore is the penalized objective (mean score + temperature * KL) at
	// the last accepted round.
	OptScore float64 `json:"optScore"`

	// MeanScore is the raw sample-estimated expected score at the last
	// accepted round.
	MeanScore float64 `json:"meanScore"`

	// KL is the divergence to the prior at the last accepted round.
	KL float64 `json:"kl"`

	// Rounds is the number of refinement rounds performed.
	Rounds int `json:"rounds"`

	// Evals is the number of fresh score evaluations spent in this call.
	Evals int `json:"evals"`

	// Converged reports whether the chain stopped on a tolerance rather than
	// on a round or evaluation budget.
	Converged bool `json:"converged"`

	// Per-round history of accepted states, oldest first.
	HistParams []shared.ProbaParam `json:"histParams"`
	HistScores []float64           `json:"histScores"`
	HistKLs    []float64           `json:"histKLs"`
	HistMeans  []float64           `json:"histMeans"`
}
