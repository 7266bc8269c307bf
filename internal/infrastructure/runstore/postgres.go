package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/domain/proba"
	"github.com/BayesianUncertaintyQuantifAnaeroDig/surpbayes/internal/shared"
)

// PostgresStore implements Store on a PostgreSQL database, for runs shared
// across machines.
type PostgresStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewPostgresStore connects with a standard libpq DSN and migrates the
// schema.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreInitFailed, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to reach database: %v", ErrStoreInitFailed, err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			spec JSONB NOT NULL,
			num_tasks INTEGER NOT NULL,
			created_at BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL REFERENCES runs(id),
			epoch INTEGER NOT NULL,
			prior JSONB NOT NULL,
			meta_score DOUBLE PRECISION NOT NULL,
			recorded_at BIGINT NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: failed to create schema: %v", ErrStoreInitFailed, err)
	}
	return nil
}

// CreateRun registers a new run.
func (s *PostgresStore) CreateRun(ctx context.Context, name string, spec proba.FamilySpec, numTasks int) (*RunRecord, error) {
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
		VALUES ($1, $2, $3, $4, $5)
	`, rec.ID, rec.Name, string(specJSON), rec.NumTasks, rec.CreatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return rec, nil
}

// AppendEpoch records one epoch of a run.
func (s *PostgresStore) AppendEpoch(ctx context.Context, runID string, epoch int, prior shared.ProbaParam, metaScore float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, prior, meta_score, recorded_at)
		SELECT $1, $2, $3, $4, $5 WHERE EXISTS (SELECT 1 FROM runs WHERE id = $1)
	`, runID, epoch, string(priorJSON), metaScore, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun returns a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.name, r.spec, r.num_tasks, r.created_at,
		       (SELECT COUNT(*) FROM epochs e WHERE e.run_id = r.id)
		FROM runs r WHERE r.id = $1
	`, id)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return rec, err
}

// ListRuns returns all runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]*RunRecord, error) {
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
func (s *PostgresStore) Epochs(ctx context.Context, runID string) ([]*EpochRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, epoch, prior, meta_score, recorded_at
		FROM epochs WHERE run_id = $1 ORDER BY epoch ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEpochs(rows)
}

// Close closes the store.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
