package metalearn

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/application/solver"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/task"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

func centeredQuad(center float64) task.ScoreFunc {
	return func(x []float64) (float64, error) {
		s := 0.0
		for _, v := range x {
			d := v - center
			s += d * d
		}
		return s, nil
	}
}

func testEnv(t *testing.T, centers []float64) *Env {
	t.Helper()
	mp := proba.NewDiagGaussMap(1)
	tasks := make([]*task.Task, len(centers))
	for i, c := range centers {
		tk, err := task.New(centeredQuad(c), 0.5)
		if err != nil {
			t.Fatalf("task.New: %v", err)
		}
		tasks[i] = tk
	}
	defaults := DefaultOptions()
	defaults.Inner.PerStep = 100
	defaults.Inner.ChainLength = 5
	defaults.Inner.Eta = 0.1
	defaults.Eta = 0.5

	env, err := NewEnv(mp, mp.IsoParam([]float64{0}, 1), tasks, defaults, 11)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}
	return env
}

func TestMetaLearnZeroEpochsIsNoOp(t *testing.T) {
	env := testEnv(t, []float64{1, 1})
	before := env.PriorParam()

	if err := MetaLearn(context.Background(), env, 0, nil); err != nil {
		t.Fatalf("MetaLearn: %v", err)
	}
	if env.History().Len() != 0 {
		t.Errorf("history grew to %d on a zero-epoch call", env.History().Len())
	}
	if shared.MaxAbsDiff(env.PriorParam(), before) != 0 {
		t.Error("prior changed on a zero-epoch call")
	}
}

func TestMetaLearnBatchMovesPriorTowardTasks(t *testing.T) {
	env := testEnv(t, []float64{1, 1, 1})

	if err := MetaLearnBatch(context.Background(), env, 3, nil); err != nil {
		t.Fatalf("MetaLearnBatch: %v", err)
	}

	prior := env.PriorParam()
	if prior[0] <= 0.1 {
		t.Errorf("prior mean = %v, expected to move toward the shared center 1", prior[0])
	}
	if env.History().Len() != 3 {
		t.Errorf("history has %d epochs, expected 3", env.History().Len())
	}
	if env.TaskPost(0) == nil {
		t.Error("task posterior should be recorded after a solve")
	}
}

func TestMetaLearnSequentialMovesPriorTowardTasks(t *testing.T) {
	env := testEnv(t, []float64{1, 1})

	if err := MetaLearn(context.Background(), env, 2, nil); err != nil {
		t.Fatalf("MetaLearn: %v", err)
	}
	if prior := env.PriorParam(); prior[0] <= 0.1 {
		t.Errorf("prior mean = %v, expected to move toward the shared center 1", prior[0])
	}
}

func TestMetaLearnEpochAtomicOnFailure(t *testing.T) {
	fail := false
	flaky := func(x []float64) (float64, error) {
		if fail {
			return 0, fmt.Errorf("injected failure")
		}
		return centeredQuad(1)(x)
	}

	mp := proba.NewDiagGaussMap(1)
	tk, err := task.New(flaky, 0.5)
	if err != nil {
		t.Fatalf("task.New: %v", err)
	}
	defaults := DefaultOptions()
	defaults.Inner.PerStep = 50
	defaults.Inner.ChainLength = 3
	env, err := NewEnv(mp, mp.IsoParam([]float64{0}, 1), []*task.Task{tk}, defaults, 2)
	if err != nil {
		t.Fatalf("NewEnv: %v", err)
	}

	if err := MetaLearnBatch(context.Background(), env, 1, nil); err != nil {
		t.Fatalf("healthy epoch: %v", err)
	}
	prior := env.PriorParam()
	histLen := env.History().Len()

	fail = true
	if err := MetaLearnBatch(context.Background(), env, 1, nil); !errors.Is(err, task.ErrEvaluation) {
		t.Fatalf("got %v, expected ErrEvaluation", err)
	}
	if env.History().Len() != histLen {
		t.Errorf("failed epoch appended to history (%d -> %d)", histLen, env.History().Len())
	}
	if shared.MaxAbsDiff(env.PriorParam(), prior) != 0 {
		t.Error("failed epoch mutated the prior")
	}
}

type capturingRecorder struct {
	epochs []int
	failAt int
}

func (r *capturingRecorder) RecordEpoch(epoch int, prior shared.ProbaParam, metaScore float64) error {
	if r.failAt >= 0 && epoch == r.failAt {
		return fmt.Errorf("recorder down")
	}
	r.epochs = append(r.epochs, epoch)
	return nil
}

func TestMetaLearnNotifiesRecorder(t *testing.T) {
	env := testEnv(t, []float64{1})
	rec := &capturingRecorder{failAt: -1}
	env.SetRecorder(rec)

	if err := MetaLearnBatch(context.Background(), env, 2, nil); err != nil {
		t.Fatalf("MetaLearnBatch: %v", err)
	}
	if len(rec.epochs) != 2 || rec.epochs[0] != 0 || rec.epochs[1] != 1 {
		t.Errorf("recorded epochs = %v, expected [0 1]", rec.epochs)
	}

	prior := env.PriorParam()
	histLen := env.History().Len()
	rec.failAt = 2
	if err := MetaLearnBatch(context.Background(), env, 1, nil); err == nil {
		t.Fatal("recorder failure should abort the run")
	}
	if env.History().Len() != histLen {
		t.Errorf("history grew to %d despite recorder failure, expected %d", env.History().Len(), histLen)
	}
	if shared.MaxAbsDiff(env.PriorParam(), prior) != 0 {
		t.Error("prior changed despite recorder failure")
	}
}

func TestHistoryTails(t *testing.T) {
	h := NewHistory()
	h.Add([]float64{1}, 10)
	h.Add([]float64{2}, 20)
	h.Add([]float64{3}, 30)

	if got := h.MetaScores(2); len(got) != 2 || got[0] != 20 || got[1] != 30 {
		t.Errorf("MetaScores(2) = %v, expected [20 30]", got)
	}
	if got := h.MetaScores(0); len(got) != 3 {
		t.Errorf("MetaScores(0) returned %d entries, expected all 3", len(got))
	}
	if got := h.MetaParams(5); len(got) != 3 {
		t.Errorf("MetaParams(5) returned %d entries, expected all 3", len(got))
	}
	if p, s := h.At(1); p[0] != 2 || s != 20 {
		t.Errorf("At(1) = (%v, %v), expected ([2], 20)", p, s)
	}

	rebuilt := HistoryFromState(h.State())
	if rebuilt.Len() != 3 {
		t.Errorf("state round trip lost entries: %d", rebuilt.Len())
	}
	if got := rebuilt.MetaScores(0); got[2] != 30 {
		t.Errorf("state round trip changed scores: %v", got)
	}
}

func TestOptionsMergedFillsZeroFields(t *testing.T) {
	d := DefaultOptions()
	o := Options{Eta: 0.25}
	m := o.merged(d)

	if m.Eta != 0.25 {
		t.Errorf("Eta = %v, expected the explicit 0.25", m.Eta)
	}
	if m.KLMax != d.KLMax {
		t.Errorf("KLMax = %v, expected default %v", m.KLMax, d.KLMax)
	}
	if m.Inner != d.Inner {
		t.Error("zero Inner config should take the defaults")
	}
	if m.WarmStart == nil || !*m.WarmStart {
		t.Error("unset WarmStart should take the default true")
	}
	if err := m.validate(); err != nil {
		t.Errorf("merged options should validate, got %v", err)
	}

	off := false
	m = Options{WarmStart: &off}.merged(d)
	if m.WarmStart == nil || *m.WarmStart {
		t.Error("explicit WarmStart false must survive merging")
	}
}

func TestPartialOptionsKeepWarmStart(t *testing.T) {
	env := testEnv(t, []float64{1})
	o := env.resolve(&Options{Eta: 0.25})

	posts := []shared.ProbaParam{{0.5, 0}}
	if startFor(o, posts, 0) == nil {
		t.Error("overriding one option must not silently disable warm starting")
	}
}

func TestOptionsValidate(t *testing.T) {
	o := DefaultOptions()
	o.Eta = -1
	if err := o.validate(); !errors.Is(err, task.ErrConfiguration) {
		t.Errorf("got %v, expected ErrConfiguration", err)
	}
	o = DefaultOptions()
	o.Inner = solver.Config{PerStep: -1, ChainLength: 1, Eta: 1, KLMax: 1, RefuseConf: 0.9, CorrEta: 0.5}
	if err := o.validate(); !errors.Is(err, task.ErrConfiguration) {
		t.Errorf("got %v, expected ErrConfiguration for bad inner config", err)
	}
}

func TestRestoreRebuildsEnvironment(t *testing.T) {
	env := testEnv(t, []float64{1})
	if err := MetaLearnBatch(context.Background(), env, 1, nil); err != nil {
		t.Fatalf("MetaLearnBatch: %v", err)
	}

	posts := []shared.ProbaParam{env.TaskPost(0)}
	rebuilt, err := Restore(env.Map(), env.PriorParam(), env.Tasks(), posts,
		HistoryFromState(env.History().State()), env.Defaults(), 11, env.Converged())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if shared.MaxAbsDiff(rebuilt.PriorParam(), env.PriorParam()) != 0 {
		t.Error("restored prior differs")
	}
	if rebuilt.History().Len() != env.History().Len() {
		t.Error("restored history differs")
	}
	if shared.MaxAbsDiff(rebuilt.TaskPost(0), env.TaskPost(0)) != 0 {
		t.Error("restored posterior differs")
	}
}
