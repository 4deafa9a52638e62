// Package history records every merge run in a local SQLite database so
// batch operators can answer "what changed, when, and what was ignored"
// after the fact.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// timeLayout is the timestamp format stored in the database.
const timeLayout = "2006-01-02T15:04:05.000"

// SQLiteRecorder implements Recorder using a local SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS merge_runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp       TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%f','now')),
    command         TEXT    NOT NULL,
    key_field       TEXT    NOT NULL,
    base_count      INTEGER NOT NULL,
    update_count    INTEGER NOT NULL,
    updated_count   INTEGER NOT NULL,
    unmatched_count INTEGER NOT NULL,
    duplicate_count INTEGER NOT NULL,
    bad_date_count  INTEGER NOT NULL DEFAULT 0,
    outcome         TEXT    NOT NULL,
    detail          TEXT    NOT NULL DEFAULT '',
    duration_ms     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_diagnostics (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     INTEGER NOT NULL REFERENCES merge_runs(id),
    kind       TEXT    NOT NULL,
    identifier TEXT    NOT NULL,
    position   INTEGER NOT NULL,
    detail     TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_ts ON merge_runs(timestamp);
CREATE INDEX IF NOT EXISTS idx_diag_run ON run_diagnostics(run_id);
`

// DefaultDBPath returns the default history database path.
// It checks $RECMERGE_HISTORY_DB, then $XDG_DATA_HOME/recmerge/history.db,
// then falls back to ~/.local/share/recmerge/history.db.
func DefaultDBPath() string {
	if p := os.Getenv("RECMERGE_HISTORY_DB"); p != "" {
		return p
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "recmerge", "history.db")
}

// Open opens (or creates) a SQLite history database at the given path.
// It runs the schema migration and configures WAL mode with a 5-second busy timeout.
func Open(dbPath string) (*SQLiteRecorder, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("history: create directory %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("history: open database %q: %w", dbPath, err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			closeErr := db.Close()
			if closeErr != nil {
				return nil, fmt.Errorf("history: %s: %w (also failed to close: %v)", pragma, err, closeErr)
			}
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("history: create schema: %w (also failed to close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	if err := migrate(db); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			return nil, fmt.Errorf("history: migrate: %w (also failed to close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &SQLiteRecorder{db: db}, nil
}

// migrate applies incremental schema migrations using PRAGMA user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version == 0 {
		exists, err := columnExists(db, "merge_runs", "source")
		if err != nil {
			return fmt.Errorf("check source column: %w", err)
		}
		if !exists {
			if _, err := db.Exec("ALTER TABLE merge_runs ADD COLUMN source TEXT NOT NULL DEFAULT ''"); err != nil {
				return fmt.Errorf("add source column: %w", err)
			}
		}
		if _, err := db.Exec("PRAGMA user_version = 1"); err != nil {
			return fmt.Errorf("set user_version to 1: %w", err)
		}
	}

	// version >= 1: schema is current, nothing to do.
	return nil
}

// columnExists checks whether a column exists in the given table.
func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// DB returns the underlying *sql.DB for use with query helpers.
// Returns nil if the receiver is nil.
func (r *SQLiteRecorder) DB() *sql.DB {
	if r == nil {
		return nil
	}
	return r.db
}

// Close closes the database connection.
func (r *SQLiteRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// RecordRun inserts a run and its diagnostics in one transaction.
func (r *SQLiteRecorder) RecordRun(run Run) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("history: RecordRun on closed recorder")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO merge_runs
		 (command, source, key_field, base_count, update_count, updated_count,
		  unmatched_count, duplicate_count, bad_date_count, outcome, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Command, run.Source, run.KeyField, run.BaseCount, run.UpdateCount,
		run.UpdatedCount, run.UnmatchedCount, run.DuplicateCount, run.BadDateCount,
		run.Outcome, run.Detail, run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}

	runID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("history: run ID: %w", err)
	}

	for _, d := range run.Diagnostics {
		_, err := tx.Exec(
			"INSERT INTO run_diagnostics (run_id, kind, identifier, position, detail) VALUES (?, ?, ?, ?, ?)",
			runID, d.Kind, d.Identifier, d.Position, d.Detail,
		)
		if err != nil {
			return fmt.Errorf("history: insert diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit run: %w", err)
	}
	return nil
}
