// Package commands provides CLI command implementations.
package commands

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/pkg/surpbayes"
)

// Run command flags
var (
	runConfigPath string
	runOverwrite  bool
)

// RunConfig is the YAML description of a training run.
type RunConfig struct {
	Name   string               `yaml:"name"`
	Family surpbayes.FamilySpec `yaml:"family"`

	// Mode selects the outer-loop update: "batch" (default) or "sequential".
	Mode   string `yaml:"mode"`
	Epochs int    `yaml:"epochs"`
	Seed   int64  `yaml:"seed"`

	// Temperature applies to every generated task.
	Temperature float64 `yaml:"temperature"`

	// Tasks lists quadratic tasks by center. Generate synthesizes them
	// around a base center instead.
	Tasks []TaskConfig `yaml:"tasks"`

	Generate *GenerateConfig `yaml:"generate"`

	// Options for the outer loop; zero-valued fields take defaults.
	Options optionsConfig `yaml:"options"`

	// Output directory for the saved environment. Empty skips saving.
	Output string `yaml:"output"`

	// Store is the SQLite run-store path. Empty skips run tracking.
	Store string `yaml:"store"`
}

// TaskConfig describes one quadratic task.
type TaskConfig struct {
	Center []float64 `yaml:"center"`
}

// GenerateConfig synthesizes tasks with Gaussian-perturbed centers.
type GenerateConfig struct {
	Count  int       `yaml:"count"`
	Base   []float64 `yaml:"base"`
	Spread float64   `yaml:"spread"`
}

type optionsConfig struct {
	Eta       float64 `yaml:"eta"`
	KLMax     float64 `yaml:"klMax"`
	WarmStart *bool   `yaml:"warmStart"`

	PerStep     int     `yaml:"perStep"`
	ChainLength int     `yaml:"chainLength"`
	InnerEta    float64 `yaml:"innerEta"`
	NMaxEval    int     `yaml:"nMaxEval"`
	GenDecay    float64 `yaml:"genDecay"`
	Workers     int     `yaml:"workers"`
}

// RunCmd trains a prior from a YAML run configuration.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Train a shared prior from a run configuration",
	Long: `Train a shared prior over a collection of quadratic tasks described
by a YAML configuration file.

The configuration names the probability family, the tasks (explicit centers
or generated around a base center), the outer-loop mode and the solver
hyperparameters. The trained environment can be saved to a directory and the
epoch trajectory recorded in a run store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig(runConfigPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return executeRun(ctx, cmd, cfg)
	},
}

func init() {
	RunCmd.Flags().StringVarP(&runConfigPath, "config", "c", "surpbayes.yaml", "run configuration file")
	RunCmd.Flags().BoolVar(&runOverwrite, "overwrite", false, "replace an existing output directory")
}

func loadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &RunConfig{
		Mode:        "batch",
		Epochs:      10,
		Seed:        1,
		Temperature: 0.5,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("config: epochs must be positive")
	}
	if cfg.Mode != "batch" && cfg.Mode != "sequential" {
		return nil, fmt.Errorf("config: unknown mode %q", cfg.Mode)
	}
	if len(cfg.Tasks) == 0 && cfg.Generate == nil {
		return nil, fmt.Errorf("config: no tasks and no generate block")
	}
	if err := normalizeFamily(&cfg.Family); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeFamily fills a block-diagonal family's dimension from its blocks
// and rejects dimensions the family cannot represent.
func normalizeFamily(spec *surpbayes.FamilySpec) error {
	if spec.Family == surpbayes.FamilyBlockDiag {
		sum := 0
		for i, b := range spec.Blocks {
			if b <= 0 {
				return fmt.Errorf("config: block %d has size %d, must be positive", i, b)
			}
			sum += b
		}
		if sum == 0 {
			return fmt.Errorf("config: block-diagonal family needs a blocks list")
		}
		if spec.Dim == 0 {
			spec.Dim = sum
		}
		if spec.Dim != sum {
			return fmt.Errorf("config: dim %d does not match block sum %d", spec.Dim, sum)
		}
		return nil
	}
	if spec.Dim <= 0 {
		return fmt.Errorf("config: family dim %d must be positive", spec.Dim)
	}
	return nil
}

func (c *RunConfig) options() surpbayes.Options {
	o := surpbayes.DefaultOptions()
	if c.Options.Eta > 0 {
		o.Eta = c.Options.Eta
	}
	if c.Options.KLMax > 0 {
		o.KLMax = c.Options.KLMax
	}
	if c.Options.WarmStart != nil {
		o.WarmStart = c.Options.WarmStart
	}
	if c.Options.PerStep > 0 {
		o.Inner.PerStep = c.Options.PerStep
	}
	if c.Options.ChainLength > 0 {
		o.Inner.ChainLength = c.Options.ChainLength
	}
	if c.Options.InnerEta > 0 {
		o.Inner.Eta = c.Options.InnerEta
	}
	if c.Options.NMaxEval > 0 {
		o.Inner.NMaxEval = c.Options.NMaxEval
	}
	if c.Options.GenDecay > 0 {
		o.Inner.GenDecay = c.Options.GenDecay
	}
	if c.Options.Workers > 0 {
		o.Inner.Workers = c.Options.Workers
	}
	return o
}

// centers resolves the task centers, generating them when requested.
func (c *RunConfig) centers(rng *rand.Rand) ([][]float64, error) {
	dim := c.Family.Dim
	if len(c.Tasks) > 0 {
		out := make([][]float64, len(c.Tasks))
		for i, t := range c.Tasks {
			if len(t.Center) != dim {
				return nil, fmt.Errorf("config: task %d center has %d entries, family dimension is %d",
					i, len(t.Center), dim)
			}
			out[i] = t.Center
		}
		return out, nil
	}

	g := c.Generate
	if g.Count <= 0 {
		return nil, fmt.Errorf("config: generate.count must be positive")
	}
	if len(g.Base) != dim {
		return nil, fmt.Errorf("config: generate.base has %d entries, family dimension is %d",
			len(g.Base), dim)
	}
	out := make([][]float64, g.Count)
	for i := range out {
		center := make([]float64, dim)
		for j := range center {
			center[j] = g.Base[j] + g.Spread*rng.NormFloat64()
		}
		out[i] = center
	}
	return out, nil
}

func quadScore(center []float64) surpbayes.ScoreFunc {
	return func(x []float64) (float64, error) {
		s := 0.0
		for i, v := range x {
			d := v - center[i]
			s += d * d
		}
		return s, nil
	}
}

func executeRun(ctx context.Context, cmd *cobra.Command, cfg *RunConfig) error {
	mp, err := surpbayes.BuildMap(cfg.Family)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centers, err := cfg.centers(rng)
	if err != nil {
		return err
	}

	tasks := make([]*surpbayes.Task, len(centers))
	for i, center := range centers {
		tk, err := surpbayes.NewTask(quadScore(center), cfg.Temperature,
			surpbayes.WithScoreRef(fmt.Sprintf("task_%d", i)))
		if err != nil {
			return err
		}
		tasks[i] = tk
	}

	prior, err := isoPrior(mp, cfg.Family)
	if err != nil {
		return err
	}
	env, err := surpbayes.NewEnv(mp, prior, tasks, cfg.options(), cfg.Seed)
	if err != nil {
		return err
	}

	if cfg.Store != "" {
		store, err := surpbayes.NewSQLiteRunStore(cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		run, err := store.CreateRun(ctx, cfg.Name, cfg.Family, len(tasks))
		if err != nil {
			return err
		}
		env.SetRecorder(surpbayes.NewRunRecorder(ctx, store, run.ID))
		cmd.Printf("Tracking run %s\n", run.ID)
	}

	cmd.Printf("Training %d tasks for %d epochs (%s mode)...\n", len(tasks), cfg.Epochs, cfg.Mode)
	if cfg.Mode == "sequential" {
		err = surpbayes.MetaLearn(ctx, env, cfg.Epochs, nil)
	} else {
		err = surpbayes.MetaLearnBatch(ctx, env, cfg.Epochs, nil)
	}
	if err != nil {
		return err
	}

	scores := env.History().MetaScores(1)
	cmd.Printf("Final meta score: %.6f\n", scores[0])

	if cfg.Output != "" {
		if err := surpbayes.SaveEnv(env, cfg.Output, cfg.Seed, runOverwrite); err != nil {
			return err
		}
		cmd.Printf("Environment saved to %s\n", cfg.Output)
	}
	return nil
}

// isoPrior builds a standard isotropic starting prior for any family.
func isoPrior(mp surpbayes.Map, spec surpbayes.FamilySpec) (surpbayes.ProbaParam, error) {
	zero := make([]float64, spec.Dim)
	switch m := mp.(type) {
	case *surpbayes.GaussMap:
		return m.IsoParam(zero, 1), nil
	case *surpbayes.DiagGaussMap:
		return m.IsoParam(zero, 1), nil
	case *surpbayes.BlockDiagGaussMap:
		return m.IsoParam(zero, 1), nil
	case *surpbayes.FactCovGaussMap:
		return m.IsoParam(zero, 1), nil
	default:
		return nil, fmt.Errorf("no isotropic prior for family %q", spec.Family)
	}
}
