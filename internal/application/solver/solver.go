package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/infrastructure/eval"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

const maxHalvings = 40

// Solve refines a posterior over the given family to minimize
//
//	E_post[score] + temperature * KL(post, prior)
//
// for the task's score and temperature. Fresh samples are drawn from the
// current posterior each round and every past evaluation is reused through
// density-corrected importance weights, so the score function is only ever
// called on new draws.
//
// startParam selects the initial posterior; nil starts from the prior. The
// task's accumulator is extended in place and is never rolled back, even when
// a step is refused.
func Solve(ctx context.Context, tk *task.Task, mp proba.Map, priorParam, startParam shared.ProbaParam, rng *rand.Rand, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := mp.Validate(priorParam); err != nil {
		return nil, fmt.Errorf("prior: %w", err)
	}
	if startParam == nil {
		startParam = priorParam
	}
	if err := mp.Validate(startParam); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	gradKL, err := mp.GradKL(priorParam)
	if err != nil {
		return nil, err
	}

	temp := tk.Temperature()
	accu := tk.Accu()
	refuseFactor := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(cfg.RefuseConf)

	post := shared.CloneFloats(startParam)
	prevParam := shared.CloneFloats(post)
	velocity := make([]float64, mp.ParamDim())
	eta := cfg.Eta * (1 - cfg.Momentum)

	res := &Result{}
	prevScore := math.Inf(1)
	haveAccepted := false

	for round := 0; round < cfg.ChainLength; round++ {
		if cfg.NMaxEval > 0 && res.Evals >= cfg.NMaxEval {
			break
		}
		n := cfg.PerStep
		if cfg.NMaxEval > 0 && res.Evals+n > cfg.NMaxEval {
			n = cfg.NMaxEval - res.Evals
		}

		dist, err := mp.New(post)
		if err != nil {
			return nil, err
		}
		xs := dist.Sample(rng, n)
		lds := dist.LogDensBatch(xs)
		vals, err := eval.Evaluate(ctx, tk, xs, cfg.Workers)
		if err != nil {
			return nil, err
		}
		if err := accu.Add(xs, lds, vals); err != nil {
			return nil, err
		}
		res.Evals += n
		res.Rounds++

		grad, meanScore, uq, err := scoreGrad(mp, post, accu, cfg.KNearest, cfg.GenDecay)
		if err != nil {
			return nil, err
		}
		gkl, kl, err := gradKL(post)
		if err != nil {
			return nil, err
		}
		scoreVI := meanScore + temp*kl

		// A significant increase of the penalized objective means the last
		// step was harmful. Undo it and shrink the step size.
		if haveAccepted && scoreVI-prevScore > refuseFactor*uq {
			copy(post, prevParam)
			for i := range velocity {
				velocity[i] = 0
			}
			eta *= cfg.CorrEta
			continue
		}
		haveAccepted = true
		prevScore = scoreVI
		copy(prevParam, post)

		res.HistParams = append(res.HistParams, shared.CloneFloats(post))
		res.HistScores = append(res.HistScores, scoreVI)
		res.HistKLs = append(res.HistKLs, kl)
		res.HistMeans = append(res.HistMeans, meanScore)
		res.OptParam = shared.CloneFloats(post)
		res.OptScore = scoreVI
		res.MeanScore = meanScore
		res.KL = kl

		for i := range velocity {
			velocity[i] = cfg.Momentum*velocity[i] - eta*(grad[i]+temp*gkl[i])
		}

		cand := shared.AddScaled(post, 1, velocity)
		klMove, err := trustRegion(mp, post, cand, velocity, cfg.KLMax)
		if err != nil {
			return nil, err
		}

		if klMove <= cfg.KLTol || shared.MaxAbsDiff(cand, post) <= cfg.XTol {
			res.Converged = true
			copy(post, cand)
			break
		}
		copy(post, cand)
	}

	if !haveAccepted {
		return nil, fmt.Errorf("%w: evaluation budget too small for a single round", task.ErrConfiguration)
	}
	res.OptParam = shared.CloneFloats(post)
	return res, nil
}

// trustRegion halves velocity until moving from post to cand stays within
// klMax (and within the valid parameter domain), rewriting cand in place.
// It returns the KL length of the accepted move.
func trustRegion(mp proba.Map, post, cand, velocity []float64, klMax float64) (float64, error) {
	for h := 0; h < maxHalvings; h++ {
		klMove, err := mp.KL(cand, post)
		if err == nil && klMove <= klMax {
			return klMove, nil
		}
		if err != nil && !isRecoverable(err) {
			return 0, err
		}
		shared.Scale(velocity, 0.5)
		copy(cand, post)
		shared.AxpyInto(cand, 1, velocity)
	}
	return 0, fmt.Errorf("%w: trust region did not admit any step", proba.ErrNumerical)
}

func isRecoverable(err error) bool {
	return errors.Is(err, proba.ErrInvalidParameter) || errors.Is(err, proba.ErrNumerical)
}

// scoreGrad estimates the expected score under the distribution at param, its
// gradient and the standard error of the estimate, from the accumulator's
// last k records (k <= 0 means all). Records sampled from earlier posteriors
// are reweighted by the density ratio between the current posterior and the
// one they were drawn from, with an optional exponential decay per
// generation of age.
func scoreGrad(mp proba.Map, param shared.ProbaParam, accu *task.Accumulator, k int, genDecay float64) (grad []float64, mean, uq float64, err error) {
	samples, logDens, scores, gens := accu.Tail(k)
	n := len(scores)
	if n == 0 {
		return nil, 0, 0, fmt.Errorf("%w: no evaluations to estimate a gradient from", task.ErrConfiguration)
	}

	dist, err := mp.New(param)
	if err != nil {
		return nil, 0, 0, err
	}
	ldNow := dist.LogDensBatch(samples)
	curGen := accu.Generations()

	// Weights are built in log space and softmax-normalized so that huge
	// density ratios cannot overflow.
	logW := make([]float64, n)
	maxLW := math.Inf(-1)
	for i := range logW {
		logW[i] = ldNow[i] - logDens[i] - genDecay*float64(curGen-1-gens[i])
		if logW[i] > maxLW {
			maxLW = logW[i]
		}
	}
	w := make([]float64, n)
	wSum := 0.0
	for i := range w {
		w[i] = math.Exp(logW[i] - maxLW)
		wSum += w[i]
	}
	for i := range w {
		w[i] /= wSum
	}

	for i := range w {
		mean += w[i] * scores[i]
	}

	grad = make([]float64, mp.ParamDim())
	variance := 0.0
	for i := range w {
		centered := scores[i] - mean
		variance += w[i] * w[i] * centered * centered
		g, err := mp.LogDensGrad(param, samples[i])
		if err != nil {
			return nil, 0, 0, err
		}
		shared.AxpyInto(grad, w[i]*centered, g)
	}
	return grad, mean, math.Sqrt(variance), nil
}
