package commands

import (
	"context"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/pkg/surpbayes"
)

// Benchmark command flags
var (
	benchmarkDim     int
	benchmarkTasks   int
	benchmarkEpochs  int
	benchmarkPerStep int
	benchmarkWorkers int
	benchmarkFamily  string
	benchmarkSeed    int64
)

// BenchmarkCmd runs a synthetic meta-learning benchmark.
var BenchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Run a synthetic meta-learning benchmark",
	Long: `Run meta-learning on synthetic quadratic tasks and report timing and
final meta score.

Tasks share a hidden common center; a healthy run drives the prior mean
toward it and the meta score down across epochs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec := surpbayes.FamilySpec{Family: surpbayes.Family(benchmarkFamily), Dim: benchmarkDim}
		mp, err := surpbayes.BuildMap(spec)
		if err != nil {
			return err
		}

		rng := rand.New(rand.NewSource(benchmarkSeed))
		base := make([]float64, benchmarkDim)
		for j := range base {
			base[j] = rng.NormFloat64()
		}

		tasks := make([]*surpbayes.Task, benchmarkTasks)
		for i := range tasks {
			center := make([]float64, benchmarkDim)
			for j := range center {
				center[j] = base[j] + 0.3*rng.NormFloat64()
			}
			tk, err := surpbayes.NewTask(quadScore(center), 0.5, surpbayes.WithParallel(benchmarkWorkers > 1))
			if err != nil {
				return err
			}
			tasks[i] = tk
		}

		opts := surpbayes.DefaultOptions()
		opts.Inner.PerStep = benchmarkPerStep
		opts.Inner.ChainLength = 5
		opts.Inner.Workers = benchmarkWorkers

		prior, err := isoPrior(mp, spec)
		if err != nil {
			return err
		}
		env, err := surpbayes.NewEnv(mp, prior, tasks, opts, benchmarkSeed)
		if err != nil {
			return err
		}

		cmd.Printf("Running benchmark: %s dim=%d tasks=%d epochs=%d\n",
			benchmarkFamily, benchmarkDim, benchmarkTasks, benchmarkEpochs)

		start := time.Now()
		if err := surpbayes.MetaLearnBatch(context.Background(), env, benchmarkEpochs, nil); err != nil {
			return err
		}
		elapsed := time.Since(start)

		scores := env.History().MetaScores(0)
		evals := 0
		for _, tk := range env.Tasks() {
			evals += tk.Accu().Len()
		}

		cmd.Printf("Elapsed:          %s\n", elapsed.Round(time.Millisecond))
		cmd.Printf("Evaluations:      %d (%.0f/s)\n", evals, float64(evals)/elapsed.Seconds())
		cmd.Printf("First meta score: %.6f\n", scores[0])
		cmd.Printf("Final meta score: %.6f\n", scores[len(scores)-1])

		dist := 0.0
		priorParam := env.PriorParam()
		for j := 0; j < benchmarkDim; j++ {
			d := priorParam[j] - base[j]
			dist += d * d
		}
		cmd.Printf("Prior-to-center squared distance: %.6f\n", dist)
		return nil
	},
}

func init() {
	BenchmarkCmd.Flags().IntVar(&benchmarkDim, "dim", 4, "sample space dimension")
	BenchmarkCmd.Flags().IntVar(&benchmarkTasks, "tasks", 20, "number of synthetic tasks")
	BenchmarkCmd.Flags().IntVar(&benchmarkEpochs, "epochs", 10, "training epochs")
	BenchmarkCmd.Flags().IntVar(&benchmarkPerStep, "per-step", 100, "samples per solver round")
	BenchmarkCmd.Flags().IntVar(&benchmarkWorkers, "workers", 1, "evaluation workers per task")
	BenchmarkCmd.Flags().StringVar(&benchmarkFamily, "family", "diagonal", "probability family (gaussian, diagonal)")
	BenchmarkCmd.Flags().Int64Var(&benchmarkSeed, "seed", 1, "random seed")
}
