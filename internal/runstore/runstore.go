// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runstore persists task-run history in a local SQLite database,
// one row per task invocation. The engine records runs best-effort; history
// is for inspection, not for scheduling decisions.
package runstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed run history.
//
// WAL mode is enabled for concurrent readers alongside the engine's writes.
type Store struct {
	db *sql.DB
}

// Record is one task run's history row.
type Record struct {
	RunID    string
	Task     string
	Outcome  string
	ExitCode *int
	Duration time.Duration
	WorkDir  string
	Started  time.Time
}

// Open creates or opens the run history database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	connStr := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the schema.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS task_runs (
		run_id TEXT NOT NULL,
		task TEXT NOT NULL,
		outcome TEXT NOT NULL,
		exit_code INTEGER,
		duration_ms INTEGER NOT NULL,
		work_dir TEXT,
		started_at TEXT NOT NULL,
		PRIMARY KEY (run_id, task, started_at)
	)`)
	return err
}

// Record inserts one run row.
func (s *Store) Record(ctx context.Context, rec Record) error {
	var exitCode sql.NullInt64
	if rec.ExitCode != nil {
		exitCode = sql.NullInt64{Int64: int64(*rec.ExitCode), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (run_id, task, outcome, exit_code, duration_ms, work_dir, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Task, rec.Outcome, exitCode,
		rec.Duration.Milliseconds(), rec.WorkDir, rec.Started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Get returns the most recent row for a run id.
func (s *Store) Get(ctx context.Context, runID string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, task, outcome, exit_code, duration_ms, work_dir, started_at
		 FROM task_runs WHERE run_id = ? ORDER BY started_at DESC LIMIT 1`, runID)
	return scanRecord(row)
}

// List returns up to limit rows, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, task, outcome, exit_code, duration_ms, work_dir, started_at
		 FROM task_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner is the shared subset of sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		exitCode   sql.NullInt64
		durationMS int64
		started    string
	)
	if err := row.Scan(&rec.RunID, &rec.Task, &rec.Outcome, &exitCode, &durationMS, &rec.WorkDir, &started); err != nil {
		return Record{}, fmt.Errorf("failed to scan run row: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		rec.ExitCode = &code
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
		rec.Started = ts
	}
	return rec, nil
}
