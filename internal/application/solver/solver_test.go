package solver

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
)

func shiftedQuad(x []float64) (float64, error) {
	s := 0.0
	for _, v := range x {
		d := v - 1
		s += d * d
	}
	return s, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PerStep = 200
	cfg.ChainLength = 15
	cfg.Eta = 0.1
	return cfg
}

func TestSolveReducesPenalizedObjective(t *testing.T) {
	mp := proba.NewDiagGaussMap(2)
	prior := mp.IsoParam([]float64{0, 0}, 1)
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	rng := rand.New(rand.NewSource(7))

	res, err := Solve(context.Background(), tk, mp, prior, nil, rng, testConfig())
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	// The prior-centered objective is about 4 (two unit-variance coordinates
	// at squared distance 1+1 each). A working descent must get well below.
	if res.OptScore >= 3 {
		t.Errorf("OptScore = %v, expected a clear decrease below 3", res.OptScore)
	}
	if res.OptScore > res.HistScores[0] {
		t.Errorf("OptScore %v should not exceed first round score %v", res.OptScore, res.HistScores[0])
	}
	for i := 0; i < 2; i++ {
		if res.OptParam[i] < 0.3 || res.OptParam[i] > 1.7 {
			t.Errorf("posterior mean[%d] = %v, expected to move toward 1", i, res.OptParam[i])
		}
	}
	if res.KL <= 0 {
		t.Errorf("KL to prior = %v, expected positive after moving away", res.KL)
	}
}

func TestSolveRespectsEvalBudget(t *testing.T) {
	mp := proba.NewDiagGaussMap(2)
	prior := mp.IsoParam([]float64{0, 0}, 1)
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	cfg := testConfig()
	cfg.PerStep = 100
	cfg.NMaxEval = 150

	res, err := Solve(context.Background(), tk, mp, prior, nil, rand.New(rand.NewSource(1)), cfg)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Evals > 150 {
		t.Errorf("Evals = %d, budget was 150", res.Evals)
	}
	if res.Evals < 100 {
		t.Errorf("Evals = %d, expected at least one full round", res.Evals)
	}
	if tk.Accu().Len() != res.Evals {
		t.Errorf("accumulator holds %d records, expected %d", tk.Accu().Len(), res.Evals)
	}
}

func TestSolveAccumulatorNeverShrinks(t *testing.T) {
	mp := proba.NewDiagGaussMap(1)
	prior := mp.IsoParam([]float64{0}, 1)
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	cfg := testConfig()
	cfg.PerStep = 50
	cfg.ChainLength = 8
	// A huge step size forces refused rounds.
	cfg.Eta = 50

	res, err := Solve(context.Background(), tk, mp, prior, nil, rand.New(rand.NewSource(3)), cfg)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if tk.Accu().Len() != res.Evals {
		t.Errorf("accumulator holds %d records, expected %d; refused rounds must keep their samples",
			tk.Accu().Len(), res.Evals)
	}
	if tk.Accu().Generations() != res.Rounds {
		t.Errorf("Generations = %d, expected one per round (%d)", tk.Accu().Generations(), res.Rounds)
	}
}

func TestSolveDeterministicWithSeed(t *testing.T) {
	mp := proba.NewDiagGaussMap(2)
	prior := mp.IsoParam([]float64{0, 0}, 1)
	cfg := testConfig()
	cfg.ChainLength = 5

	run := func() []float64 {
		tk, err := task.New(shiftedQuad, 0.1)
		if err != nil {
			t.Fatalf("task.New: %v", err)
		}
		res, err := Solve(context.Background(), tk, mp, prior, nil, rand.New(rand.NewSource(42)), cfg)
		if err != nil {
			t.Fatalf("Solve: %v", err)
		}
		return res.OptParam
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different parameters: %v vs %v", a, b)
		}
	}
}

func TestSolveStartsFromStartParam(t *testing.T) {
	mp := proba.NewDiagGaussMap(2)
	prior := mp.IsoParam([]float64{0, 0}, 1)
	start := mp.IsoParam([]float64{0.5, -0.5}, 0.8)
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	cfg := testConfig()
	cfg.ChainLength = 1

	res, err := Solve(context.Background(), tk, mp, prior, start, rand.New(rand.NewSource(5)), cfg)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(res.HistParams) == 0 {
		t.Fatal("expected at least one recorded round")
	}
	for i := range start {
		if res.HistParams[0][i] != start[i] {
			t.Fatalf("first round ran at %v, expected start %v", res.HistParams[0], start)
		}
	}
}

func TestSolveRejectsBadConfig(t *testing.T) {
	mp := proba.NewDiagGaussMap(1)
	prior := mp.IsoParam([]float64{0}, 1)
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	cfg := testConfig()
	cfg.Eta = -1

	if _, err := Solve(context.Background(), tk, mp, prior, nil, rand.New(rand.NewSource(1)), cfg); !errors.Is(err, task.ErrConfiguration) {
		t.Errorf("got %v, expected ErrConfiguration", err)
	}
}

func TestSolveRejectsMalformedPrior(t *testing.T) {
	mp := proba.NewDiagGaussMap(2)
	bad := []float64{0, 0, math.NaN(), 0}
	tk, err := task.New(shiftedQuad, 0.1)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}

	if _, err := Solve(context.Background(), tk, mp, bad, nil, rand.New(rand.NewSource(1)), testConfig()); !errors.Is(err, proba.ErrInvalidParameter) {
		t.Errorf("got %v, expected ErrInvalidParameter", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero perStep", func(c *Config) { c.PerStep = 0 }},
		{"zero chainLength", func(c *Config) { c.ChainLength = 0 }},
		{"negative eta", func(c *Config) { c.Eta = -0.1 }},
		{"momentum one", func(c *Config) { c.Momentum = 1 }},
		{"zero klMax", func(c *Config) { c.KLMax = 0 }},
		{"low refuseConf", func(c *Config) { c.RefuseConf = 0.4 }},
		{"zero corrEta", func(c *Config) { c.CorrEta = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, task.ErrConfiguration) {
				t.Errorf("got %v, expected ErrConfiguration", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}
