// Package surpbayes provides the public API for PAC-Bayesian meta-learning.
//
// A meta-learning run trains a shared prior over a parametric probability
// family against a collection of scored tasks. Each task is solved by
// penalized variational inference (expected score plus a temperature-scaled
// KL divergence to the prior), and the prior follows the gradient of the
// aggregated divergence terms.
//
// Example:
//
//	mp := surpbayes.NewDiagGaussMap(4)
//	tk, err := surpbayes.NewTask(score, 0.5)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	env, err := surpbayes.NewEnv(mp, mp.IsoParam(make([]float64, 4), 1),
//	    []*surpbayes.Task{tk}, surpbayes.DefaultOptions(), 1)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := surpbayes.MetaLearnBatch(ctx, env, 20, nil); err != nil {
//	    log.Fatal(err)
//	}
//	prior := env.PriorParam()
package surpbayes

import (
	"context"
	"math/rand"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/metalearn"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/solver"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/infrastructure/eval"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/infrastructure/persistence"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/infrastructure/runstore"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// Re-export types for public API
type (
	// Parameter and sample types
	ProbaParam = shared.ProbaParam
	Samples    = shared.Samples

	// Probability families
	Dist              = proba.Dist
	Map               = proba.Map
	ExpFamily         = proba.ExpFamily
	GradFunc          = proba.GradFunc
	GaussMap          = proba.GaussMap
	DiagGaussMap      = proba.DiagGaussMap
	BlockDiagGaussMap = proba.BlockDiagGaussMap
	FactCovGaussMap   = proba.FactCovGaussMap
	Family            = proba.Family
	FamilySpec        = proba.FamilySpec

	// Tasks
	Task           = task.Task
	TaskOption     = task.Option
	ScoreFunc      = task.ScoreFunc
	BatchScoreFunc = task.BatchScoreFunc
	Accumulator    = task.Accumulator
	Registry       = task.Registry

	// Inner solver
	SolverConfig = solver.Config
	SolverResult = solver.Result

	// Meta-learning
	Env         = metalearn.Env
	Options     = metalearn.Options
	History     = metalearn.History
	RunRecorder = metalearn.RunRecorder

	// Run stores
	RunStore    = runstore.Store
	RunRecord   = runstore.RunRecord
	EpochRecord = runstore.EpochRecord
)

// Family constants
const (
	FamilyGauss     = proba.FamilyGauss
	FamilyDiag      = proba.FamilyDiag
	FamilyBlockDiag = proba.FamilyBlockDiag
	FamilyFactCov   = proba.FamilyFactCov
)

// Sentinel errors
var (
	ErrInvalidParameter = proba.ErrInvalidParameter
	ErrNumerical        = proba.ErrNumerical
	ErrEvaluation       = task.ErrEvaluation
	ErrConfiguration    = task.ErrConfiguration
	ErrUnknownScore     = task.ErrUnknownScore
	ErrAlreadyExists    = persistence.ErrAlreadyExists
	ErrRunNotFound      = runstore.ErrRunNotFound
)

// Probability family constructors

// NewGaussMap returns the full-covariance Gaussian family in dimension dim.
func NewGaussMap(dim int) *GaussMap { return proba.NewGaussMap(dim) }

// NewDiagGaussMap returns the diagonal-covariance Gaussian family.
func NewDiagGaussMap(dim int) *DiagGaussMap { return proba.NewDiagGaussMap(dim) }

// NewBlockDiagGaussMap returns the block-diagonal Gaussian family with the
// given block sizes.
func NewBlockDiagGaussMap(blocks []int) (*BlockDiagGaussMap, error) {
	return proba.NewBlockDiagGaussMap(blocks)
}

// NewFactCovGaussMap returns the factored-covariance Gaussian family of the
// given dimension and rank.
func NewFactCovGaussMap(dim, rank int) (*FactCovGaussMap, error) {
	return proba.NewFactCovGaussMap(dim, rank)
}

// BuildMap constructs the family described by a serializable spec.
func BuildMap(spec FamilySpec) (Map, error) { return spec.Build() }

// SpecOf recovers the serializable spec of a map built by this module.
func SpecOf(m Map) (FamilySpec, error) { return proba.SpecOf(m) }

// Task construction

// NewTask builds a task from a score function and a temperature.
func NewTask(score ScoreFunc, temperature float64, opts ...TaskOption) (*Task, error) {
	return task.New(score, temperature, opts...)
}

// Task options
var (
	WithBatchScore  = task.WithBatchScore
	WithParallel    = task.WithParallel
	WithAccumulator = task.WithAccumulator
	WithScoreRef    = task.WithScoreRef
)

// NewRegistry returns an empty score-function registry.
func NewRegistry() *Registry { return task.NewRegistry() }

// Inner solver

// DefaultSolverConfig returns the defaults for the per-task solver.
func DefaultSolverConfig() SolverConfig { return solver.DefaultConfig() }

// Solve runs penalized variational inference for a single task against the
// given prior. startParam selects the initial posterior; nil starts from the
// prior.
func Solve(ctx context.Context, tk *Task, mp Map, priorParam, startParam ProbaParam, rng *rand.Rand, cfg SolverConfig) (*SolverResult, error) {
	return solver.Solve(ctx, tk, mp, priorParam, startParam, rng, cfg)
}

// Evaluate scores a batch of points for a task, honoring its vectorized and
// parallel settings.
func Evaluate(ctx context.Context, tk *Task, xs Samples, workers int) ([]float64, error) {
	return eval.Evaluate(ctx, tk, xs, workers)
}

// Meta-learning

// DefaultOptions returns the defaults for the outer training loop.
func DefaultOptions() Options { return metalearn.DefaultOptions() }

// NewEnv builds a meta-learning environment.
func NewEnv(mp Map, prior ProbaParam, tasks []*Task, defaults Options, seed int64) (*Env, error) {
	return metalearn.NewEnv(mp, prior, tasks, defaults, seed)
}

// MetaLearn trains the prior in sequential mode: each task's solve is
// followed immediately by its own prior update.
func MetaLearn(ctx context.Context, env *Env, epochs int, opts *Options) error {
	return metalearn.MetaLearn(ctx, env, epochs, opts)
}

// MetaLearnBatch trains the prior in batch mode: one prior update per epoch,
// aggregated over all tasks solved against the epoch-start prior.
func MetaLearnBatch(ctx context.Context, env *Env, epochs int, opts *Options) error {
	return metalearn.MetaLearnBatch(ctx, env, epochs, opts)
}

// Persistence

// SaveEnv writes an environment under path. Set overwrite to replace an
// existing save.
func SaveEnv(env *Env, path string, seed int64, overwrite bool) error {
	return persistence.Save(env, path, seed, overwrite)
}

// LoadEnv rebuilds an environment saved by SaveEnv, resolving score
// functions by name against the registry.
func LoadEnv(path string, reg *Registry) (*Env, error) {
	return persistence.Load(path, reg)
}

// Run stores

// NewSQLiteRunStore opens an embedded run store at dbPath.
func NewSQLiteRunStore(dbPath string) (RunStore, error) {
	return runstore.NewSQLiteStore(dbPath)
}

// NewPostgresRunStore connects a shared run store with a libpq DSN.
func NewPostgresRunStore(dsn string) (RunStore, error) {
	return runstore.NewPostgresStore(dsn)
}

// NewRunRecorder adapts a run store to the training loop's epoch callback.
func NewRunRecorder(ctx context.Context, store RunStore, runID string) RunRecorder {
	return runstore.NewRecorder(ctx, store, runID)
}
