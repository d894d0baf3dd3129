package persistence

import (
	"database/sql"
	"fmt"
	"time"
)

// currentSchemaVersion is bumped with each migration appended below.
const currentSchemaVersion = 1

// migrations holds the DDL per schema version, applied in order inside
// one transaction each.
var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			requirements TEXT NOT NULL,
			status TEXT NOT NULL,
			error_kind TEXT,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS stage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_events_run ON stage_events(run_id)`,
		`CREATE TABLE IF NOT EXISTS llm_calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			agent TEXT NOT NULL,
			model TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_calls_run ON llm_calls(run_id)`,
	},
}

// initializeSchema creates the version table and applies any pending
// migrations.
func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var applied int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := applied + 1; v <= currentSchemaVersion; v++ {
		if err := applyMigration(db, v); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(db *sql.DB, version int) error {
	statements, ok := migrations[version]
	if !ok {
		return fmt.Errorf("no migration registered for schema version %d", version)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`,
		version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to record schema version %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	return nil
}
