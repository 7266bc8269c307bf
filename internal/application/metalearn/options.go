package metalearn

import (
	"fmt"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/solver"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
)

// Options configures one training call. A value is resolved against the
// environment defaults once at call entry and is never mutated afterwards, so
// the same Options value can be reused across calls.
type Options struct {
	// Inner configures the per-task variational solver.
	Inner solver.Config `json:"inner"`

	// Eta is the outer step size on the prior.
	Eta float64 `json:"eta"`

	// KLMax caps the KL divergence moved by one prior update.
	KLMax float64 `json:"klMax"`

	// KLTol marks the run converged once a whole epoch moves the prior less
	// than this in KL.
	KLTol float64 `json:"klTol"`

	// WarmStart starts each task's solve from its previous posterior instead
	// of the current prior. Nil takes the environment default.
	WarmStart *bool `json:"warmStart"`
}

// DefaultOptions returns the defaults used when an environment is built
// without explicit ones.
func DefaultOptions() Options {
	warm := true
	return Options{
		Inner:     solver.DefaultConfig(),
		Eta:       0.1,
		KLMax:     1.0,
		KLTol:     1e-10,
		WarmStart: &warm,
	}
}

// merged returns o with zero-valued fields replaced by the defaults d.
func (o Options) merged(d Options) Options {
	if o.Inner == (solver.Config{}) {
		o.Inner = d.Inner
	}
	if o.Eta == 0 {
		o.Eta = d.Eta
	}
	if o.KLMax == 0 {
		o.KLMax = d.KLMax
	}
	if o.KLTol == 0 {
		o.KLTol = d.KLTol
	}
	if o.WarmStart == nil {
		o.WarmStart = d.WarmStart
	}
	return o
}

func (o Options) validate() error {
	if err := o.Inner.Validate(); err != nil {
		return err
	}
	if o.Eta <= 0 {
		return fmt.Errorf("%w: outer eta %g must be positive", task.ErrConfiguration, o.Eta)
	}
	if o.KLMax <= 0 {
		return fmt.Errorf("%w: outer klMax %g must be positive", task.ErrConfiguration, o.KLMax)
	}
	if o.KLTol < 0 {
		return fmt.Errorf("%w: outer klTol %g must be non-negative", task.ErrConfiguration, o.KLTol)
	}
	return nil
}
