package db

import (
	"database/sql"

	_ "github.com/marcboeker/go-duckdb"
)

// Foreign keys are left out: DuckDB rejects updates to rows that are
// referenced by another table.
var duckdbSchema = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_artifact_id START 1;`,
	`CREATE SEQUENCE IF NOT EXISTS seq_implementor_id START 1;`,
	`CREATE SEQUENCE IF NOT EXISTS seq_sidebar_item_id START 1;`,

	`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY DEFAULT nextval('seq_artifact_id'),
		kind TEXT NOT NULL,
		subject TEXT NOT NULL,
		source TEXT NOT NULL,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		loaded_at TIMESTAMP NOT NULL,
		UNIQUE(source, path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_artifacts_subject ON artifacts (subject)`,

	`CREATE TABLE IF NOT EXISTS implementors (
		id INTEGER PRIMARY KEY DEFAULT nextval('seq_implementor_id'),
		artifact_id INTEGER NOT NULL,
		library TEXT NOT NULL,
		library_ordinal INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		text TEXT NOT NULL,
		type_name TEXT NOT NULL,
		synthetic BOOLEAN NOT NULL,
		types TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_implementors_artifact ON implementors (artifact_id)`,
	`CREATE INDEX IF NOT EXISTS idx_implementors_type ON implementors (type_name)`,

	`CREATE TABLE IF NOT EXISTS sidebar_items (
		id INTEGER PRIMARY KEY DEFAULT nextval('seq_sidebar_item_id'),
		artifact_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		category_ordinal INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		name TEXT NOT NULL,
		summary TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sidebar_artifact ON sidebar_items (artifact_id)`,
}

func openDuckDB(dbPath string) (*sql.DB, error) {
	return sql.Open("duckdb", dbPath)
}
