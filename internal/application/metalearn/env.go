package metalearn

import (
	"fmt"
	"math/rand"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// RunRecorder receives one notification per completed training epoch.
// Recording failures abort the run.
type RunRecorder interface {
	RecordEpoch(epoch int, prior shared.ProbaParam, metaScore float64) error
}

// Env is a meta-learning environment: a probability family, a task
// collection, the current shared prior and the training history.
//
// An Env is confined to a single goroutine. Inner-loop score evaluations may
// fan out to workers, but the environment itself is stepped sequentially.
type Env struct {
	mp       proba.Map
	tasks    []*task.Task
	prior    shared.ProbaParam
	posts    []shared.ProbaParam
	hist     *History
	defaults Options
	rng      *rand.Rand
	recorder RunRecorder
	// converged latches once an epoch moves the prior less than the
	// configured tolerance.
	converged bool
}

// NewEnv builds an environment around the given family, initial prior and
// tasks. The seed fixes the sampling stream for the whole run.
func NewEnv(mp proba.Map, prior shared.ProbaParam, tasks []*task.Task, defaults Options, seed int64) (*Env, error) {
	if err := mp.Validate(prior); err != nil {
		return nil, fmt.Errorf("prior: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: environment needs at least one task", task.ErrConfiguration)
	}
	if err := defaults.validate(); err != nil {
		return nil, err
	}
	return &Env{
		mp:       mp,
		tasks:    tasks,
		prior:    shared.CloneFloats(prior),
		posts:    make([]shared.ProbaParam, len(tasks)),
		hist:     NewHistory(),
		defaults: defaults,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

// SetRecorder attaches an epoch recorder. A nil recorder detaches.
func (e *Env) SetRecorder(r RunRecorder) { e.recorder = r }

// Map returns the environment's probability family.
func (e *Env) Map() proba.Map { return e.mp }

// Tasks returns the task collection. Callers must not mutate it.
func (e *Env) Tasks() []*task.Task { return e.tasks }

// PriorParam returns a copy of the current shared prior.
func (e *Env) PriorParam() shared.ProbaParam { return shared.CloneFloats(e.prior) }

// TaskPost returns a copy of task i's latest posterior, or nil before its
// first solve.
func (e *Env) TaskPost(i int) shared.ProbaParam {
	if e.posts[i] == nil {
		return nil
	}
	return shared.CloneFloats(e.posts[i])
}

// History returns the training history.
func (e *Env) History() *History { return e.hist }

// Defaults returns the environment's default options.
func (e *Env) Defaults() Options { return e.defaults }

// Converged reports whether a past epoch moved the prior below tolerance.
func (e *Env) Converged() bool { return e.converged }

func (e *Env) resolve(opts *Options) Options {
	if opts == nil {
		return e.defaults
	}
	return opts.merged(e.defaults)
}

// Restore rebuilds an environment from persisted state without revalidating
// history. Intended for the persistence layer.
func Restore(mp proba.Map, prior shared.ProbaParam, tasks []*task.Task, posts []shared.ProbaParam,
	hist *History, defaults Options, seed int64, converged bool) (*Env, error) {
	if err := mp.Validate(prior); err != nil {
		return nil, fmt.Errorf("prior: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: environment needs at least one task", task.ErrConfiguration)
	}
	if posts == nil {
		posts = make([]shared.ProbaParam, len(tasks))
	}
	if hist == nil {
		hist = NewHistory()
	}
	return &Env{
		mp:        mp,
		tasks:     tasks,
		prior:     shared.CloneFloats(prior),
		posts:     posts,
		hist:      hist,
		defaults:  defaults,
		rng:       rand.New(rand.NewSource(seed)),
		converged: converged,
	}, nil
}
