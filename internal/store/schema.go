package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the results store.
const schemaV1 = `
-- One row per invocation of the runner
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    status TEXT NOT NULL,        -- 'running', 'completed', 'failed', 'interrupted'
    seed TEXT NOT NULL,          -- uint64 as decimal text
    cycles INTEGER NOT NULL,
    concurrency INTEGER NOT NULL,
    planned TEXT NOT NULL,       -- JSON array of scenario IDs
    config TEXT                  -- JSON snapshot of the effective config
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

-- Outcome of each scenario in a run
CREATE TABLE IF NOT EXISTS scenario_results (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    scenario_id TEXT NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,        -- 'completed', 'failed', 'skipped'
    phase TEXT,
    failed_cycle INTEGER,
    error TEXT,
    cycles INTEGER NOT NULL DEFAULT 0,
    peak_infected INTEGER NOT NULL DEFAULT 0,
    peak_cycle INTEGER NOT NULL DEFAULT 0,
    final_counts TEXT,           -- JSON
    policies TEXT,               -- JSON array
    csv_path TEXT,
    chart_path TEXT,
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, scenario_id)
);

-- Per-cycle census of completed scenarios
CREATE TABLE IF NOT EXISTS cycle_stats (
    run_id TEXT NOT NULL,
    scenario_id TEXT NOT NULL,
    cycle INTEGER NOT NULL,
    susceptible INTEGER NOT NULL,
    latent INTEGER NOT NULL,
    contagious INTEGER NOT NULL,
    symptomatic INTEGER NOT NULL,
    recovered INTEGER NOT NULL,
    dead INTEGER NOT NULL,
    hospitalized INTEGER NOT NULL,
    symptomatic_isolation REAL NOT NULL,
    asymptomatic_isolation REAL NOT NULL,
    PRIMARY KEY (run_id, scenario_id, cycle),
    FOREIGN KEY (run_id, scenario_id) REFERENCES scenario_results(run_id, scenario_id) ON DELETE CASCADE
);

-- Schema version
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// InitSchema initializes the database schema.
// It creates all tables and applies migrations as needed.
// Runs integrity validation before migrations on existing databases.
func InitSchema(ctx context.Context, db *sql.DB) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := createSchema(ctx, db); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if err := ValidateIntegrity(ctx, db); err != nil {
		return fmt.Errorf("database integrity check failed: %w", err)
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns 0 and an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// createSchema creates the initial database schema.
func createSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// ValidateIntegrity runs SQLite integrity checks on the database.
// It runs PRAGMA integrity_check and PRAGMA foreign_key_check.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fkRows, err := db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer fkRows.Close()

	var fkErrors []string
	for fkRows.Next() {
		var table, rowid, parent, fkid sql.NullString
		if err := fkRows.Scan(&table, &rowid, &parent, &fkid); err != nil {
			return fmt.Errorf("failed to scan foreign_key_check result: %w", err)
		}
		fkErrors = append(fkErrors, fmt.Sprintf("table=%s rowid=%s parent=%s fkid=%s", table.String, rowid.String, parent.String, fkid.String))
	}
	if len(fkErrors) > 0 {
		return fmt.Errorf("foreign_key_check failed: %v", fkErrors)
	}
	return nil
}
