package history

import (
	"database/sql"
	"fmt"
	"time"
)

const runColumns = `id, timestamp, command, source, key_field, base_count, update_count,
	updated_count, unmatched_count, duplicate_count, bad_date_count, outcome, detail, duration_ms`

func scanRun(scan func(dest ...any) error) (Run, error) {
	var r Run
	var tsStr string
	err := scan(&r.ID, &tsStr, &r.Command, &r.Source, &r.KeyField, &r.BaseCount,
		&r.UpdateCount, &r.UpdatedCount, &r.UnmatchedCount, &r.DuplicateCount,
		&r.BadDateCount, &r.Outcome, &r.Detail, &r.DurationMs)
	if err != nil {
		return Run{}, err
	}
	ts, err := time.Parse(timeLayout, tsStr)
	if err != nil {
		return Run{}, fmt.Errorf("parse timestamp %q: %w", tsStr, err)
	}
	r.Timestamp = ts
	return r, nil
}

// ListRuns returns merge runs with optional filtering by command and outcome.
// Results are ordered by timestamp descending (newest first).
func ListRuns(db *sql.DB, limit, offset int, filterCommand, filterOutcome string) ([]Run, error) {
	if db == nil {
		return nil, fmt.Errorf("history: ListRuns called with nil db")
	}

	query := "SELECT " + runColumns + " FROM merge_runs WHERE 1=1"
	var args []any

	if filterCommand != "" {
		query += " AND command = ?"
		args = append(args, filterCommand)
	}
	if filterOutcome != "" {
		query += " AND outcome = ?"
		args = append(args, filterOutcome)
	}

	query += " ORDER BY timestamp DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("history: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate run rows: %w", err)
	}

	return runs, nil
}

// GetRun returns a single run by ID, including its diagnostics.
func GetRun(db *sql.DB, id int64) (*Run, error) {
	if db == nil {
		return nil, fmt.Errorf("history: GetRun called with nil db")
	}

	row := db.QueryRow("SELECT "+runColumns+" FROM merge_runs WHERE id = ?", id)
	r, err := scanRun(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("history: get run %d: %w", id, err)
	}

	rows, err := db.Query(
		"SELECT id, run_id, kind, identifier, position, detail FROM run_diagnostics WHERE run_id = ? ORDER BY id",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("history: get diagnostics for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d RunDiagnostic
		if err := rows.Scan(&d.ID, &d.RunID, &d.Kind, &d.Identifier, &d.Position, &d.Detail); err != nil {
			return nil, fmt.Errorf("history: scan diagnostic: %w", err)
		}
		r.Diagnostics = append(r.Diagnostics, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate diagnostics: %w", err)
	}

	return &r, nil
}

// Tail returns the last n runs ordered by timestamp descending (newest first).
func Tail(db *sql.DB, n int) ([]Run, error) {
	return ListRuns(db, n, 0, "", "")
}

// Prune deletes runs (and their diagnostics) older than the given duration.
// Returns the number of runs deleted.
func Prune(db *sql.DB, olderThan time.Duration) (int64, error) {
	return PruneBefore(db, time.Now().UTC().Add(-olderThan))
}

// PruneBefore deletes runs with a timestamp before cutoff.
func PruneBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("history: PruneBefore called with nil db")
	}

	cutoffStr := cutoff.UTC().Format(timeLayout)

	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("history: begin prune transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Delete diagnostics for old runs first (foreign key reference).
	_, err = tx.Exec(
		"DELETE FROM run_diagnostics WHERE run_id IN (SELECT id FROM merge_runs WHERE timestamp < ?)",
		cutoffStr,
	)
	if err != nil {
		return 0, fmt.Errorf("history: prune diagnostics: %w", err)
	}

	result, err := tx.Exec("DELETE FROM merge_runs WHERE timestamp < ?", cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("history: prune runs: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("history: commit prune: %w", err)
	}

	return count, nil
}

// Stats returns aggregate statistics from the history database.
func Stats(db *sql.DB) (*RunStats, error) {
	if db == nil {
		return nil, fmt.Errorf("history: Stats called with nil db")
	}

	stats := &RunStats{
		CountByOutcome: make(map[string]int64),
		CountByCommand: make(map[string]int64),
	}

	err := db.QueryRow(
		"SELECT COALESCE(COUNT(*), 0), COALESCE(SUM(updated_count), 0), COALESCE(AVG(duration_ms), 0) FROM merge_runs").
		Scan(&stats.TotalRuns, &stats.TotalUpdated, &stats.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("history: stats totals: %w", err)
	}

	if stats.TotalRuns == 0 {
		return stats, nil
	}

	var oldestStr, newestStr string
	err = db.QueryRow("SELECT MIN(timestamp), MAX(timestamp) FROM merge_runs").
		Scan(&oldestStr, &newestStr)
	if err != nil {
		return nil, fmt.Errorf("history: stats min/max timestamp: %w", err)
	}

	oldest, err := time.Parse(timeLayout, oldestStr)
	if err != nil {
		return nil, fmt.Errorf("history: parse oldest timestamp %q: %w", oldestStr, err)
	}
	stats.OldestEntry = oldest

	newest, err := time.Parse(timeLayout, newestStr)
	if err != nil {
		return nil, fmt.Errorf("history: parse newest timestamp %q: %w", newestStr, err)
	}
	stats.NewestEntry = newest

	for query, dest := range map[string]map[string]int64{
		"SELECT outcome, COUNT(*) FROM merge_runs GROUP BY outcome": stats.CountByOutcome,
		"SELECT command, COUNT(*) FROM merge_runs GROUP BY command": stats.CountByCommand,
	} {
		rows, err := db.Query(query)
		if err != nil {
			return nil, fmt.Errorf("history: stats grouping: %w", err)
		}
		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("history: scan grouping: %w", err)
			}
			dest[key] = count
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("history: iterate grouping: %w", err)
		}
		_ = rows.Close()
	}

	return stats, nil
}
