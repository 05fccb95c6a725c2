// Package store records run history in SQLite: one row per pipeline run plus
// its drop counts, errors, and written exports.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Collins-13/cyclistic-pipeline/internal/model"
)

// Store is a handle on the run-history database. The pipeline writes to it
// sequentially; no concurrent writers.
type Store struct {
	db *sql.DB
}

// Run is one recorded pipeline run.
type Run struct {
	ID         string
	JobName    string
	Status     string
	RowsIn     int64
	RowsKept   int64
	StartedAt  time.Time
	FinishedAt sql.NullTime
}

// Open opens (creating if needed) the run-history database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tracking database %s: %w", path, err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			job_name TEXT,
			spec TEXT,
			status TEXT,
			rows_in INTEGER DEFAULT 0,
			rows_kept INTEGER DEFAULT 0,
			started_at DATETIME,
			finished_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS run_drops (
			run_id TEXT,
			reason TEXT,
			n INTEGER,
			PRIMARY KEY (run_id, reason)
		);`,
		`CREATE TABLE IF NOT EXISTS run_errors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			error_message TEXT,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS run_exports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT,
			sink TEXT,
			path TEXT,
			rows INTEGER,
			created_at DATETIME
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize tracking schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run, keeping the full job spec as JSON so
// old runs stay interpretable after the job file changes.
func (s *Store) CreateRun(runID string, spec *model.JobSpec) error {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to encode job spec: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (id, job_name, spec, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		runID, spec.Name, string(specJSON), "running", time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	return nil
}

// FinishRun closes out a run with its final status and row counts.
func (s *Store) FinishRun(runID, status string, rowsIn, rowsKept int64) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, rows_in = ?, rows_kept = ?, finished_at = ? WHERE id = ?`,
		status, rowsIn, rowsKept, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	return nil
}

// SaveDrops records per-reason drop counts for a run.
func (s *Store) SaveDrops(runID string, drops map[string]int64) error {
	for reason, n := range drops {
		if n == 0 {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT OR REPLACE INTO run_drops (run_id, reason, n) VALUES (?, ?, ?)`,
			runID, reason, n); err != nil {
			return fmt.Errorf("failed to record drop counts: %w", err)
		}
	}
	return nil
}

// SaveRunError records a failure message against a run.
func (s *Store) SaveRunError(runID string, runErr error) error {
	if runErr == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO run_errors (run_id, error_message, created_at) VALUES (?, ?, ?)`,
		runID, runErr.Error(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run error: %w", err)
	}
	return nil
}

// SaveExport records one written export artifact.
func (s *Store) SaveExport(runID, sink, path string, rows int64) error {
	_, err := s.db.Exec(
		`INSERT INTO run_exports (run_id, sink, path, rows, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, sink, path, rows, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record export: %w", err)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(runID string) (*Run, error) {
	var run Run
	err := s.db.QueryRow(
		`SELECT id, job_name, status, rows_in, rows_kept, started_at, finished_at FROM runs WHERE id = ?`,
		runID).Scan(&run.ID, &run.JobName, &run.Status, &run.RowsIn, &run.RowsKept, &run.StartedAt, &run.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns all recorded runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, job_name, status, rows_in, rows_kept, started_at, finished_at FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.JobName, &run.Status, &run.RowsIn, &run.RowsKept, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Drops fetches the per-reason drop counts for a run.
func (s *Store) Drops(runID string) (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT reason, n FROM run_drops WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load drop counts for %s: %w", runID, err)
	}
	defer rows.Close()

	drops := make(map[string]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan drop count: %w", err)
		}
		drops[reason] = n
	}
	return drops, rows.Err()
}
