// Package persistence saves and loads meta-learning environments as a plain
// directory tree:
//
//	<dir>/env.json         family, prior, posteriors, defaults, run flags
//	<dir>/history.json     per-epoch priors and meta scores
//	<dir>/tasks/task_<i>/
//	    task.json          score reference, temperature, parallelism
//	    accu.json          accumulated samples, densities and scores
//
// Score functions themselves are not serialized; tasks carry a symbolic
// score reference resolved against a registry at load time.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/metalearn"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

var (
	// ErrAlreadyExists is returned by Save when the target exists and
	// overwrite was not requested.
	ErrAlreadyExists = errors.New("save target already exists")

	// ErrCorrupt is returned by Load when the directory does not hold a
	// complete environment.
	ErrCorrupt = errors.New("corrupt environment directory")
)

type envFile struct {
	Spec      proba.FamilySpec     `json:"spec"`
	Prior     shared.ProbaParam    `json:"prior"`
	Posts     []shared.ProbaParam  `json:"posts"`
	Defaults  metalearn.Options    `json:"defaults"`
	Seed      int64                `json:"seed"`
	Converged bool                 `json:"converged"`
	NumTasks  int                  `json:"numTasks"`
}

type taskFile struct {
	ScoreRef    string  `json:"scoreRef"`
	Temperature float64 `json:"temperature"`
	Parallel    bool    `json:"parallel"`
}

// Save writes the environment under path. The write is atomic: everything is
// staged in a sibling temp directory and renamed into place, so a crash
// leaves either the old state or the new, never a mix.
func Save(env *metalearn.Env, path string, seed int64, overwrite bool) error {
	exists := false
	if _, err := os.Stat(path); err == nil {
		if !overwrite {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		exists = true
	} else if !os.IsNotExist(err) {
		return err
	}

	spec, err := proba.SpecOf(env.Map())
	if err != nil {
		return err
	}

	stage := path + ".tmp-" + uuid.NewString()
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	tasks := env.Tasks()
	posts := make([]shared.ProbaParam, len(tasks))
	for i := range tasks {
		posts[i] = env.TaskPost(i)
	}
	ef := envFile{
		Spec:      spec,
		Prior:     env.PriorParam(),
		Posts:     posts,
		Defaults:  env.Defaults(),
		Seed:      seed,
		Converged: env.Converged(),
		NumTasks:  len(tasks),
	}
	if err := writeJSON(filepath.Join(stage, "env.json"), ef); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(stage, "history.json"), env.History().State()); err != nil {
		return err
	}

	for i, tk := range tasks {
		dir := filepath.Join(stage, "tasks", fmt.Sprintf("task_%d", i))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		tf := taskFile{
			ScoreRef:    tk.ScoreRef(),
			Temperature: tk.Temperature(),
			Parallel:    tk.Parallel(),
		}
		if err := writeJSON(filepath.Join(dir, "task.json"), tf); err != nil {
			return err
		}
		if err := writeJSON(filepath.Join(dir, "accu.json"), tk.Accu().State()); err != nil {
			return err
		}
	}

	if !exists {
		return os.Rename(stage, path)
	}

	// The old tree is moved aside, not deleted, so a failed rename can put
	// it back.
	backup := path + ".old-" + uuid.NewString()
	if err := os.Rename(path, backup); err != nil {
		return err
	}
	if err := os.Rename(stage, path); err != nil {
		os.Rename(backup, path)
		return err
	}
	return os.RemoveAll(backup)
}

// Load rebuilds an environment from a directory written by Save. Score
// functions are resolved by name against the registry.
func Load(path string, reg *task.Registry) (*metalearn.Env, error) {
	var ef envFile
	if err := readJSON(filepath.Join(path, "env.json"), &ef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var hs metalearn.HistoryState
	if err := readJSON(filepath.Join(path, "history.json"), &hs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	mp, err := ef.Spec.Build()
	if err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, ef.NumTasks)
	for i := range tasks {
		tk, err := LoadTask(filepath.Join(path, "tasks", fmt.Sprintf("task_%d", i)), reg)
		if err != nil {
			return nil, err
		}
		tasks[i] = tk
	}

	return metalearn.Restore(mp, ef.Prior, tasks, ef.Posts,
		metalearn.HistoryFromState(hs), ef.Defaults, ef.Seed, ef.Converged)
}

// LoadTask rebuilds one task directory written by Save, resolving its score
// function from the registry by reference.
func LoadTask(dir string, reg *task.Registry) (*task.Task, error) {
	var tf taskFile
	if err := readJSON(filepath.Join(dir, "task.json"), &tf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var as task.State
	if err := readJSON(filepath.Join(dir, "accu.json"), &as); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	score, err := reg.Lookup(tf.ScoreRef)
	if err != nil {
		return nil, err
	}
	opts := []task.Option{
		task.WithScoreRef(tf.ScoreRef),
		task.WithParallel(tf.Parallel),
		task.WithAccumulator(task.FromState(as)),
	}
	if batch := reg.LookupBatch(tf.ScoreRef); batch != nil {
		opts = append(opts, task.WithBatchScore(batch))
	}
	return task.New(score, tf.Temperature, opts...)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
