// Package solver implements the penalized variational-inference inner loop:
// stochastic minimization of expected score + temperature * KL(post, prior)
// over a probability family, with momentum, density-corrected sample reuse
// and a KL trust region.
package solver

import (
	"fmt"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
)

// Config holds the solver hyperparameters. The zero value is not valid; start
// from DefaultConfig and override fields.
type Config struct {
	// PerStep is the number of fresh samples drawn per refinement round.
	PerStep int `json:"perStep"`

	// ChainLength is the maximum number of refinement rounds per call.
	ChainLength int `json:"chainLength"`

	// Eta is the base gradient step size.
	Eta float64 `json:"eta"`

	// Momentum in [0, 1) accumulates past steps.
	Momentum float64 `json:"momentum"`

	// KLMax caps the KL divergence moved in one parameter update. The trust
	// region is what keeps noisy gradient estimates from diverging.
	KLMax float64 `json:"klMax"`

	// KLTol stops the chain once an accepted update moves less than this in KL.
	KLTol float64 `json:"klTol"`

	// XTol stops the chain once an accepted update moves less than this in
	// max-abs parameter distance.
	XTol float64 `json:"xTol"`

	// NMaxEval caps the total number of score evaluations per call.
	// Zero means unlimited.
	NMaxEval int `json:"nMaxEval"`

	// GenDecay exponentially down-weights older accumulator generations when
	// reusing past evaluations. Zero reuses them at full density-corrected
	// weight.
	GenDecay float64 `json:"genDecay"`

	// KNearest limits reuse to the last KNearest accumulator records.
	// Zero or negative reuses everything.
	KNearest int `json:"kNearest"`

	// RefuseConf is the confidence level above which a score increase is
	// treated as a harmful step and rolled back.
	RefuseConf float64 `json:"refuseConf"`

	// CorrEta shrinks the step size after a refused step.
	CorrEta float64 `json:"corrEta"`

	// Workers bounds the evaluation pool for parallel tasks. Zero uses the
	// number of CPUs.
	Workers int `json:"workers"`
}

// DefaultConfig returns sensible defaults for the inner solver.
func DefaultConfig() Config {
	return Config{
		PerStep:     100,
		ChainLength: 10,
		Eta:         0.05,
		Momentum:    0.0,
		KLMax:       1.0,
		KLTol:       1e-8,
		XTol:        1e-8,
		NMaxEval:    0,
		GenDecay:    0.0,
		KNearest:    0,
		RefuseConf:  0.99,
		CorrEta:     0.5,
		Workers:     0,
	}
}

// Validate checks the configuration, returning task.ErrConfiguration on the
// first field outside its valid range.
func (c Config) Validate() error {
	if c.PerStep <= 0 {
		return fmt.Errorf("%w: perStep %d must be positive", task.ErrConfiguration, c.PerStep)
	}
	if c.ChainLength <= 0 {
		return fmt.Errorf("%w: chainLength %d must be positive", task.ErrConfiguration, c.ChainLength)
	}
	if c.Eta <= 0 {
		return fmt.Errorf("%w: eta %g must be positive", task.ErrConfiguration, c.Eta)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("%w: momentum %g must be in [0, 1)", task.ErrConfiguration, c.Momentum)
	}
	if c.KLMax <= 0 {
		return fmt.Errorf("%w: klMax %g must be positive", task.ErrConfiguration, c.KLMax)
	}
	if c.KLTol < 0 || c.XTol < 0 {
		return fmt.Errorf("%w: tolerances must be non-negative", task.ErrConfiguration)
	}
	if c.NMaxEval < 0 {
		return fmt.Errorf("%w: nMaxEval %d must be non-negative", task.ErrConfiguration, c.NMaxEval)
	}
	if c.GenDecay < 0 {
		return fmt.Errorf("%w: genDecay %g must be non-negative", task.ErrConfiguration, c.GenDecay)
	}
	if c.RefuseConf <= 0.5 || c.RefuseConf >= 1 {
		return fmt.Errorf("%w: refuseConf %g must be in (0.5, 1)", task.ErrConfiguration, c.RefuseConf)
	}
	if c.CorrEta <= 0 || c.CorrEta > 1 {
		return fmt.Errorf("%w: corrEta %g must be in (0, 1]", task.ErrConfiguration, c.CorrEta)
	}
	return nil
}
