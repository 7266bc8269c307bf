// Package eval provides batched and parallel evaluation of task score
// functions.
package eval

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// Evaluate scores every row of xs for the given task.
//
// Vectorized tasks are scored in one batched call. Parallel-safe pointwise
// tasks are fanned out over a bounded worker group; everything else runs
// sequentially on the calling goroutine. Cancellation is observed only at
// dispatch/join boundaries.
//
// Failures and non-finite scores surface as task.ErrEvaluation.
func Evaluate(ctx context.Context, t *task.Task, xs shared.Samples, workers int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	if t.Vectorized() {
		vals, err := t.BatchScore()(xs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", task.ErrEvaluation, err)
		}
		if len(vals) != len(xs) {
			return nil, fmt.Errorf("%w: batch score returned %d values for %d samples",
				task.ErrEvaluation, len(vals), len(xs))
		}
		return checkFinite(vals)
	}

	score := t.Score()
	vals := make([]float64, len(xs))

	if t.Parallel() && len(xs) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range xs {
			i := i
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				v, err := score(xs[i])
				if err != nil {
					return fmt.Errorf("%w: sample %d: %v", task.ErrEvaluation, i, err)
				}
				vals[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return checkFinite(vals)
	}

	for i := range xs {
		v, err := score(xs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", task.ErrEvaluation, i, err)
		}
		vals[i] = v
	}
	return checkFinite(vals)
}

func checkFinite(vals []float64) ([]float64, error) {
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite score %g at sample %d", task.ErrEvaluation, v, i)
		}
	}
	return vals, nil
}
