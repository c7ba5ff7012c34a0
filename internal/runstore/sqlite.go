package runstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("run not found")

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore creates a new SQLite-based run store.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		status TEXT NOT NULL,
		commit_sha TEXT,
		error TEXT,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		duration_ms INTEGER
	);
	CREATE TABLE IF NOT EXISTS step_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		step TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		output TEXT,
		duration_ms INTEGER,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON step_executions(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new run in its initial status.
func (s *SQLiteStore) CreateRun(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, trigger_kind, status, commit_sha, started_at) VALUES (?, ?, ?, ?, ?)",
		run.ID, run.Trigger, run.Status, run.CommitSHA, run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// CompleteRun records the terminal status of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, id, status, errMsg string, completedAt time.Time, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, error = ?, completed_at = ?, duration_ms = ? WHERE id = ?",
		status, errMsg, completedAt.Unix(), duration.Milliseconds(), id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordStep appends a step execution to a run.
func (s *SQLiteStore) RecordStep(ctx context.Context, step StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO step_executions (run_id, stage, step, status, exit_code, output, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		step.RunID, step.Stage, step.Step, step.Status, step.ExitCode, step.Output, step.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert step execution: %w", err)
	}
	return nil
}

// GetRun returns a run and its step executions.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, []StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, trigger_kind, status, commit_sha, error, started_at, completed_at, duration_ms FROM runs WHERE id = ?", id)

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("scan run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, run_id, stage, step, status, exit_code, output, duration_ms FROM step_executions WHERE run_id = ? ORDER BY id", id)
	if err != nil {
		return nil, nil, fmt.Errorf("query step executions: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var st StepRecord
		var exitCode, durationMS sql.NullInt64
		var output sql.NullString
		if err := rows.Scan(&st.ID, &st.RunID, &st.Stage, &st.Step, &st.Status, &exitCode, &output, &durationMS); err != nil {
			return nil, nil, fmt.Errorf("scan step execution: %w", err)
		}
		st.ExitCode = int(exitCode.Int64)
		st.Output = output.String
		st.DurationMS = durationMS.Int64
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate step executions: %w", err)
	}

	return run, steps, nil
}

// ListRecent returns the most recent runs, newest first.
func (s *SQLiteStore) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, trigger_kind, status, commit_sha, error, started_at, completed_at, duration_ms FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// Prune removes finished runs (and their steps) beyond the newest keep entries.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM step_executions WHERE run_id IN (
			SELECT id FROM runs
			WHERE status NOT IN ('queued', 'running')
			AND id NOT IN (
				SELECT id FROM runs WHERE status NOT IN ('queued', 'running')
				ORDER BY started_at DESC, id DESC LIMIT ?
			)
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune step executions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE status NOT IN ('queued', 'running')
		AND id NOT IN (
			SELECT id FROM runs WHERE status NOT IN ('queued', 'running')
			ORDER BY started_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var commitSHA, errMsg sql.NullString
	var startedAt int64
	var completedAt, durationMS sql.NullInt64

	if err := row.Scan(&run.ID, &run.Trigger, &run.Status, &commitSHA, &errMsg, &startedAt, &completedAt, &durationMS); err != nil {
		return nil, err
	}

	run.CommitSHA = commitSHA.String
	run.Error = errMsg.String
	run.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		run.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	run.DurationMS = durationMS.Int64
	return &run, nil
}
