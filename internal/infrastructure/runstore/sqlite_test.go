package runstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	spec := proba.FamilySpec{Family: proba.FamilyDiag, Dim: 3}

	run, err := store.CreateRun(ctx, "baseline", spec, 5)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run should get an ID")
	}

	for ep := 0; ep < 3; ep++ {
		prior := []float64{float64(ep), 0, 0, 0, 0, 0}
		if err := store.AppendEpoch(ctx, run.ID, ep, prior, 10-float64(ep)); err != nil {
			t.Fatalf("AppendEpoch %d: %v", ep, err)
		}
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "baseline" || got.NumTasks != 5 || got.Epochs != 3 {
		t.Errorf("GetRun = %+v, expected baseline/5 tasks/3 epochs", got)
	}
	if got.Spec.Family != proba.FamilyDiag || got.Spec.Dim != 3 {
		t.Errorf("Spec = %+v, expected diagonal dim 3", got.Spec)
	}

	epochs, err := store.Epochs(ctx, run.ID)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if len(epochs) != 3 {
		t.Fatalf("got %d epochs, expected 3", len(epochs))
	}
	for i, ep := range epochs {
		if ep.Epoch != i {
			t.Errorf("epoch %d out of order: %d", i, ep.Epoch)
		}
		if ep.Prior[0] != float64(i) {
			t.Errorf("epoch %d prior = %v", i, ep.Prior)
		}
	}
	if epochs[2].MetaScore != 8 {
		t.Errorf("MetaScore = %v, expected 8", epochs[2].MetaScore)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	spec := proba.FamilySpec{Family: proba.FamilyGauss, Dim: 2}

	if _, err := store.CreateRun(ctx, "first", spec, 1); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := store.CreateRun(ctx, "second", spec, 2); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, expected 2", len(runs))
	}
}

func TestSQLiteStoreUnknownRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: got %v, expected ErrRunNotFound", err)
	}
	if err := store.AppendEpoch(ctx, "nope", 0, []float64{1}, 0); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("AppendEpoch: got %v, expected ErrRunNotFound", err)
	}
}

func TestSQLiteStoreClosed(t *testing.T) {
	store := openTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	if _, err := store.ListRuns(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("got %v, expected ErrStoreClosed", err)
	}
}

func TestRecorderAppendsEpochs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	run, err := store.CreateRun(ctx, "recorded", proba.FamilySpec{Family: proba.FamilyDiag, Dim: 1}, 1)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	rec := NewRecorder(ctx, store, run.ID)
	if err := rec.RecordEpoch(0, []float64{0.5, 0}, 1.25); err != nil {
		t.Fatalf("RecordEpoch: %v", err)
	}

	epochs, err := store.Epochs(ctx, run.ID)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if len(epochs) != 1 || epochs[0].MetaScore != 1.25 {
		t.Errorf("epochs = %+v, expected one with score 1.25", epochs)
	}
}
