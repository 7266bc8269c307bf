// Package runstore records meta-learning runs in a relational store, one row
// per run and one row per training epoch. It backs the history command and
// lets long runs be inspected while still in flight.
package runstore

import (
	"context"
	"errors"
	"time"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

var (
	// ErrStoreInitFailed indicates the store could not be opened or migrated.
	ErrStoreInitFailed = errors.New("run store initialization failed")

	// ErrStoreClosed indicates an operation on a closed store.
	ErrStoreClosed = errors.New("run store is closed")

	// ErrRunNotFound indicates an unknown run ID.
	ErrRunNotFound = errors.New("run not found")

	// ErrTransactionFailed indicates a failed database operation.
	ErrTransactionFailed = errors.New("run store transaction failed")
)

// RunRecord describes one meta-learning run.
type RunRecord struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Spec      proba.FamilySpec `json:"spec"`
	NumTasks  int              `json:"numTasks"`
	Epochs    int              `json:"epochs"`
	CreatedAt time.Time        `json:"createdAt"`
}

// EpochRecord is one recorded training epoch of a run.
type EpochRecord struct {
	RunID      string            `json:"runId"`
	Epoch      int               `json:"epoch"`
	Prior      shared.ProbaParam `json:"prior"`
	MetaScore  float64           `json:"metaScore"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Store persists runs and their epoch trajectories.
type Store interface {
	// CreateRun registers a new run and returns its record.
	CreateRun(ctx context.Context, name string, spec proba.FamilySpec, numTasks int) (*RunRecord, error)

	// AppendEpoch records one epoch of a run. Epochs must arrive in order.
	AppendEpoch(ctx context.Context, runID string, epoch int, prior shared.ProbaParam, metaScore float64) error

	// GetRun returns a run by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns all runs, newest first.
	ListRuns(ctx context.Context) ([]*RunRecord, error)

	// Epochs returns the epoch trajectory of a run, oldest first.
	Epochs(ctx context.Context, runID string) ([]*EpochRecord, error)

	// Close releases the underlying connection.
	Close() error
}

// Recorder adapts a Store to the training loop's epoch callback for one run.
type Recorder struct {
	ctx   context.Context
	store Store
	runID string
}

// NewRecorder builds a recorder appending epochs of the given run.
func NewRecorder(ctx context.Context, store Store, runID string) *Recorder {
	return &Recorder{ctx: ctx, store: store, runID: runID}
}

// RecordEpoch implements the training loop callback.
func (r *Recorder) RecordEpoch(epoch int, prior shared.ProbaParam, metaScore float64) error {
	return r.store.AppendEpoch(r.ctx, r.runID, epoch, prior, metaScore)
}
