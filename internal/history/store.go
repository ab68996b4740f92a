// Package history archives finished runs to sqlite. The JSON state
// document stays canonical for the live run; this store is the
// queryable record behind `conductor history`.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one archived orchestration run.
type Run struct {
	ID         string
	Mode       string
	Outcome    string
	Waves      int
	Spawns     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ProgressRecord mirrors one state.ProgressEntry for querying.
type ProgressRecord struct {
	RunID     string
	Wave      int
	TaskID    string
	Outcome   string
	Files     string
	Learnings string
	CreatedAt time.Time
}

// FailureRecord archives one task failure.
type FailureRecord struct {
	RunID     string
	TaskID    string
	Phase     string
	Message   string
	CreatedAt time.Time
}

// Store is the sqlite-backed archive.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the archive at dbPath. Enables
// WAL mode and a busy timeout, as concurrent readers (the history
// command) may overlap a writing orchestrator.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore opens an in-memory archive for tests.
func NewMemoryStore(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		outcome TEXT NOT NULL DEFAULT '',
		waves INTEGER NOT NULL DEFAULT 0,
		spawns INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS progress (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		wave INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		files TEXT,
		learnings TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_progress_run ON progress(run_id, created_at);

	CREATE TABLE IF NOT EXISTS failures (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		message TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_failures_run ON failures(run_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a run.
func (s *Store) BeginRun(ctx context.Context, runID, mode string, startedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, mode, started_at) VALUES (?, ?, ?)
	`, runID, mode, startedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun records a run's terminal outcome and counters.
func (s *Store) FinishRun(ctx context.Context, runID, outcome string, waves, spawns int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, waves = ?, spawns = ?, finished_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, outcome, waves, spawns, runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// AppendProgress archives a progress entry.
func (s *Store) AppendProgress(ctx context.Context, rec ProgressRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO progress (run_id, wave, task_id, outcome, files, learnings)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.Wave, rec.TaskID, rec.Outcome, rec.Files, rec.Learnings)
	if err != nil {
		return fmt.Errorf("failed to archive progress entry: %w", err)
	}
	return nil
}

// AppendFailure archives a task failure.
func (s *Store) AppendFailure(ctx context.Context, rec FailureRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO failures (run_id, task_id, phase, message)
		VALUES (?, ?, ?, ?)
	`, rec.RunID, rec.TaskID, rec.Phase, rec.Message)
	if err != nil {
		return fmt.Errorf("failed to archive failure: %w", err)
	}
	return nil
}

// ListRuns returns archived runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, outcome, waves, spawns, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Mode, &r.Outcome, &r.Waves, &r.Spawns, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunProgress returns the archived progress entries for one run in
// insertion order.
func (s *Store) RunProgress(ctx context.Context, runID string) ([]ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, wave, task_id, outcome, COALESCE(files, ''), COALESCE(learnings, ''), created_at
		FROM progress WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query progress: %w", err)
	}
	defer rows.Close()

	var recs []ProgressRecord
	for rows.Next() {
		var rec ProgressRecord
		if err := rows.Scan(&rec.RunID, &rec.Wave, &rec.TaskID, &rec.Outcome, &rec.Files, &rec.Learnings, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunFailures returns the archived failures for one run in insertion
// order.
func (s *Store) RunFailures(ctx context.Context, runID string) ([]FailureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, phase, COALESCE(message, ''), created_at
		FROM failures WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var recs []FailureRecord
	for rows.Next() {
		var rec FailureRecord
		if err := rows.Scan(&rec.RunID, &rec.TaskID, &rec.Phase, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
