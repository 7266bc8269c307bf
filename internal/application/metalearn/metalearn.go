package metalearn

import (
	"context"
	"errors"
	"fmt"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/solver"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

const maxPriorHalvings = 40

// MetaLearn trains the prior for the given number of epochs in sequential
// mode: within an epoch, tasks are solved one after the other and each solve
// is followed by its own prior update, so later tasks in the epoch already
// see the refined prior. Epochs are atomic: on any error the environment
// keeps its state from the last completed epoch (task accumulators, being
// append-only, keep the evaluations already paid for).
//
// epochs <= 0 is a no-op.
func MetaLearn(ctx context.Context, env *Env, epochs int, opts *Options) error {
	o := env.resolve(opts)
	if err := o.validate(); err != nil {
		return err
	}

	for ep := 0; ep < epochs; ep++ {
		prior := shared.CloneFloats(env.prior)
		posts := clonePosts(env.posts)
		scoreSum := 0.0

		for i, tk := range env.tasks {
			res, err := solver.Solve(ctx, tk, env.mp, prior, startFor(o, posts, i), env.rng, o.Inner)
			if err != nil {
				return fmt.Errorf("epoch %d, task %d: %w", env.hist.Len(), i, err)
			}
			posts[i] = res.OptParam
			scoreSum += res.OptScore

			next, _, err := priorStep(env.mp, prior, []shared.ProbaParam{res.OptParam},
				[]float64{tk.Temperature()}, o.Eta, o.KLMax)
			if err != nil {
				return fmt.Errorf("epoch %d, task %d: %w", env.hist.Len(), i, err)
			}
			prior = next
		}

		metaScore := scoreSum / float64(len(env.tasks))
		if err := env.record(metaScore, prior); err != nil {
			return err
		}
		env.commit(prior, posts, metaScore, o.KLTol)
	}
	return nil
}

// MetaLearnBatch trains the prior for the given number of epochs in batch
// mode: every task is solved against the epoch-start prior and the prior
// moves once per epoch along the temperature-weighted average of the
// per-task KL gradients. Epochs are atomic, as in MetaLearn.
//
// epochs <= 0 is a no-op.
func MetaLearnBatch(ctx context.Context, env *Env, epochs int, opts *Options) error {
	o := env.resolve(opts)
	if err := o.validate(); err != nil {
		return err
	}

	for ep := 0; ep < epochs; ep++ {
		prior := shared.CloneFloats(env.prior)
		posts := clonePosts(env.posts)
		temps := make([]float64, len(env.tasks))
		scoreSum := 0.0

		for i, tk := range env.tasks {
			res, err := solver.Solve(ctx, tk, env.mp, prior, startFor(o, posts, i), env.rng, o.Inner)
			if err != nil {
				return fmt.Errorf("epoch %d, task %d: %w", env.hist.Len(), i, err)
			}
			posts[i] = res.OptParam
			temps[i] = tk.Temperature()
			scoreSum += res.OptScore
		}

		next, _, err := priorStep(env.mp, prior, posts, temps, o.Eta, o.KLMax)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", env.hist.Len(), err)
		}

		metaScore := scoreSum / float64(len(env.tasks))
		if err := env.record(metaScore, next); err != nil {
			return err
		}
		env.commit(next, posts, metaScore, o.KLTol)
	}
	return nil
}

func startFor(o Options, posts []shared.ProbaParam, i int) shared.ProbaParam {
	if o.WarmStart == nil || !*o.WarmStart {
		return nil
	}
	return posts[i]
}

func clonePosts(posts []shared.ProbaParam) []shared.ProbaParam {
	out := make([]shared.ProbaParam, len(posts))
	for i, p := range posts {
		if p != nil {
			out[i] = shared.CloneFloats(p)
		}
	}
	return out
}

func (e *Env) commit(prior shared.ProbaParam, posts []shared.ProbaParam, metaScore, klTol float64) {
	moved, err := e.mp.KL(prior, e.prior)
	if err == nil && moved <= klTol {
		e.converged = true
	}
	e.prior = prior
	e.posts = posts
	e.hist.Add(prior, metaScore)
}

// record notifies the recorder of the epoch about to be committed. It runs
// before commit so that a recording failure leaves the environment untouched.
func (e *Env) record(metaScore float64, prior shared.ProbaParam) error {
	if e.recorder == nil {
		return nil
	}
	epoch := e.hist.Len()
	if err := e.recorder.RecordEpoch(epoch, shared.CloneFloats(prior), metaScore); err != nil {
		return fmt.Errorf("recording epoch %d: %w", epoch, err)
	}
	return nil
}

// priorStep moves the prior one step against the temperature-weighted average
// of gradients of KL(post_i, prior) with respect to the prior. The posteriors
// are treated as fixed: only the divergence term propagates to the prior. The
// step is halved until its own KL length fits under klMax.
func priorStep(mp proba.Map, prior shared.ProbaParam, posts []shared.ProbaParam,
	temps []float64, eta, klMax float64) (shared.ProbaParam, float64, error) {

	grad := make([]float64, mp.ParamDim())
	for i, post := range posts {
		gradFn, err := mp.GradRightKL(post)
		if err != nil {
			return nil, 0, err
		}
		g, _, err := gradFn(prior)
		if err != nil {
			return nil, 0, err
		}
		shared.AxpyInto(grad, temps[i]/float64(len(posts)), g)
	}

	step := make([]float64, len(grad))
	for i := range step {
		step[i] = -eta * grad[i]
	}
	cand := shared.AddScaled(prior, 1, step)
	for h := 0; h < maxPriorHalvings; h++ {
		moved, err := mp.KL(cand, prior)
		if err == nil && moved <= klMax {
			return cand, moved, nil
		}
		if err != nil && !errors.Is(err, proba.ErrInvalidParameter) && !errors.Is(err, proba.ErrNumerical) {
			return nil, 0, err
		}
		shared.Scale(step, 0.5)
		cand = shared.AddScaled(prior, 1, step)
	}
	return nil, 0, fmt.Errorf("%w: prior update did not fit the trust region", proba.ErrNumerical)
}
