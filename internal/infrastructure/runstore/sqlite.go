package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// SQLiteStore implements Store on an embedded SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteStore opens (or creates) a store at dbPath and migrates its
// schema. An empty path defaults to .data/runs.db.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = ".data/runs.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %v", ErrStoreInitFailed, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreInitFailed, err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			spec TEXT NOT NULL,
			num_tasks INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			prior TEXT NOT NULL,
			meta_score REAL NOT NULL,
			recorded_at INTEGER NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
		CREATE INDEX IF NOT EXISTS idx_epochs_run ON epochs(run_id, epoch);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", ErrStoreInitFailed, err)
	}
	return nil
}

// CreateRun registers a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, name string, spec proba.FamilySpec, numTasks int) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}

	rec := &RunRecord{
		ID:        uuid.New().String(),
		Name:      name,
		Spec:      spec,
		NumTasks:  numTasks,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, spec, num_tasks, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, string(specJSON), rec.NumTasks, rec.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return rec, nil
}

// AppendEpoch records one epoch of a run.
func (s *SQLiteStore) AppendEpoch(ctx context.Context, runID string, epoch int, prior shared.ProbaParam, metaScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, prior, meta_score, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, runID, epoch, string(priorJSON), metaScore, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.spec, r.num_tasks, r.created_at,
		       (SELECT COUNT(*) FROM epochs e WHERE e.run_id = r.id)
		FROM runs r WHERE r.id = ?
	`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

// ListRuns returns all runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.spec, r.num_tasks, r.created_at,
		       (SELECT COUNT(*) FROM epochs e WHERE e.run_id = r.id)
		FROM runs r ORDER BY r.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make([]*RunRecord, 0)
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Epochs returns the epoch trajectory of a run, oldest first.
func (s *SQLiteStore) Epochs(ctx context.Context, runID string) ([]*EpochRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, epoch, prior, meta_score, recorded_at
		FROM epochs WHERE run_id = ? ORDER BY epoch ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEpochs(rows)
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		rec       RunRecord
		specJSON  string
		createdMs int64
	)
	if err := row.Scan(&rec.ID, &rec.Name, &specJSON, &rec.NumTasks, &createdMs, &rec.Epochs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specJSON), &rec.Spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	rec.CreatedAt = time.UnixMilli(createdMs)
	return &rec, nil
}

func scanEpochs(rows *sql.Rows) ([]*EpochRecord, error) {
	epochs := make([]*EpochRecord, 0)
	for rows.Next() {
		var (
			rec        EpochRecord
			priorJSON  string
			recordedMs int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Epoch, &priorJSON, &rec.MetaScore, &recordedMs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(priorJSON), &rec.Prior); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
		}
		rec.RecordedAt = time.UnixMilli(recordedMs)
		epochs = append(epochs, &rec)
	}
	return epochs, rows.Err()
}
