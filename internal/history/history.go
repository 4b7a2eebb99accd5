// Package history keeps a durable log of sync runs in SQLite so the status
// API and the CLI can show what happened while nobody was watching.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	appLog "schoolsync/internal/log"
	"schoolsync/internal/syncer"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 20

// ErrNoRuns is returned by Latest on an empty log.
var ErrNoRuns = errors.New("history: no runs recorded")

// Store is the run log.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" is accepted for
// tests.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("history: path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases alive between calls.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db, path); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB, path string) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Append records a finished run. Appending the same run id twice is an
// error.
func (s *Store) Append(ctx context.Context, r syncer.Report) error {
	var (
		resultJSON      sql.NullString
		dryRun          bool
		created, failed int
	)
	if r.Result != nil {
		data, err := json.Marshal(r.Result)
		if err != nil {
			return fmt.Errorf("history: encode result: %w", err)
		}
		resultJSON = sql.NullString{String: string(data), Valid: true}
		dryRun = r.Result.DryRun
		created = r.Result.TotalCreated
		failed = r.Result.HomeworkFailed + r.Result.ExamFailed + r.Result.RemindersFailed
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, status, error, started_at, finished_at, duration_ms, dry_run, created, failed, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Status, r.Error,
		formatTime(r.StartedAt), formatTime(r.Timestamp), r.DurationMS,
		dryRun, created, failed, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("history: append run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]syncer.Report, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, status, error, started_at, finished_at, duration_ms, result_json
		FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	out := make([]syncer.Report, 0, limit)
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return out, nil
}

// Latest returns the most recent run or ErrNoRuns.
func (s *Store) Latest(ctx context.Context) (syncer.Report, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return syncer.Report{}, err
	}
	if len(runs) == 0 {
		return syncer.Report{}, ErrNoRuns
	}
	return runs[0], nil
}

// Hook adapts Append to a run hook. Failures are logged, not returned:
// losing a history row must not fail the run.
func (s *Store) Hook() syncer.ReportHook {
	return func(ctx context.Context, r syncer.Report) {
		if err := s.Append(context.WithoutCancel(ctx), r); err != nil {
			appLog.Error("recording run history failed", err, "run_id", r.RunID)
		}
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (syncer.Report, error) {
	var (
		r                 syncer.Report
		started, finished string
		resultJSON        sql.NullString
	)
	if err := sc.Scan(&r.RunID, &r.Status, &r.Error, &started, &finished, &r.DurationMS, &resultJSON); err != nil {
		return r, fmt.Errorf("history: scan run: %w", err)
	}

	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return r, err
	}
	if r.Timestamp, err = parseTime(finished); err != nil {
		return r, err
	}
	if resultJSON.Valid {
		var res syncer.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &res); err != nil {
			return r, fmt.Errorf("history: decode result of %s: %w", r.RunID, err)
		}
		r.Result = &res
	}
	return r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
