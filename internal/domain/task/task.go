package task

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// ScoreFunc evaluates the loss at a single point of the sample space.
type ScoreFunc func(x []float64) (float64, error)

// BatchScoreFunc evaluates the loss at every row of a batch in one call.
// Tasks exposing a batch form are scored vectorized instead of through the
// worker pool.
type BatchScoreFunc func(xs shared.Samples) ([]float64, error)

// Task wraps a score function, a PAC-Bayesian temperature and an accumulator
// of past evaluations. The accumulator grows monotonically across solver
// invocations for the lifetime of the task.
type Task struct {
	id          string
	scoreRef    string
	score       ScoreFunc
	batch       BatchScoreFunc
	temperature float64
	parallel    bool
	accu        *Accumulator
}

// Option configures a Task at construction.
type Option func(*Task)

// WithBatchScore attaches a vectorized score implementation.
func WithBatchScore(batch BatchScoreFunc) Option {
	return func(t *Task) { t.batch = batch }
}

// WithParallel marks the pointwise score function safe for concurrent calls.
func WithParallel(parallel bool) Option {
	return func(t *Task) { t.parallel = parallel }
}

// WithAccumulator seeds the task with a pre-existing accumulator, typically
// loaded from disk.
func WithAccumulator(accu *Accumulator) Option {
	return func(t *Task) { t.accu = accu }
}

// WithScoreRef names the score function in the process-wide registry so the
// task can be persisted and reloaded.
func WithScoreRef(ref string) Option {
	return func(t *Task) { t.scoreRef = ref }
}

// New creates a task. Temperature must be non-negative.
func New(score ScoreFunc, temperature float64, opts ...Option) (*Task, error) {
	if score == nil {
		return nil, fmt.Errorf("%w: score function is nil", ErrConfiguration)
	}
	if temperature < 0 {
		return nil, fmt.Errorf("%w: temperature %g must be non-negative", ErrConfiguration, temperature)
	}
	t := &Task{
		id:          uuid.New().String(),
		score:       score,
		temperature: temperature,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.accu == nil {
		t.accu = NewAccumulator()
	}
	return t, nil
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// ScoreRef returns the registry name of the score function, empty when the
// task was built from an anonymous function.
func (t *Task) ScoreRef() string { return t.scoreRef }

// Temperature returns the PAC-Bayesian temperature.
func (t *Task) Temperature() float64 { return t.temperature }

// Parallel reports whether the pointwise score may be called concurrently.
func (t *Task) Parallel() bool { return t.parallel }

// Vectorized reports whether the task carries a batch score implementation.
func (t *Task) Vectorized() bool { return t.batch != nil }

// Score returns the pointwise score function.
func (t *Task) Score() ScoreFunc { return t.score }

// BatchScore returns the vectorized score function, nil if absent.
func (t *Task) BatchScore() BatchScoreFunc { return t.batch }

// Accu returns the task's accumulator.
func (t *Task) Accu() *Accumulator { return t.accu }
