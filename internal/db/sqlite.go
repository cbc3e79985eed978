package db

import (
	"database/sql"
	"log"
	"os"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY,
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
		id INTEGER PRIMARY KEY,
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
	`CREATE INDEX IF NOT EXISTS idx_implementors_library ON implementors (library)`,

	`CREATE TABLE IF NOT EXISTS sidebar_items (
		id INTEGER PRIMARY KEY,
		artifact_id INTEGER NOT NULL,
		category TEXT NOT NULL,
		category_ordinal INTEGER NOT NULL,
		ordinal INTEGER NOT NULL,
		name TEXT NOT NULL,
		summary TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sidebar_artifact ON sidebar_items (artifact_id)`,
}

func openSQLite(dbPath string) (*sql.DB, error) {
	// If an existing file isn't SQLite, delete it (stale file from another driver).
	if info, err := os.Stat(dbPath); err == nil && info.Size() >= 4 {
		f, err := os.Open(dbPath)
		if err == nil {
			header := make([]byte, 4)
			n, _ := f.Read(header)
			f.Close()
			if n >= 4 && string(header) != "SQLi" {
				log.Printf("Removing non-SQLite database file at %s", dbPath)
				os.Remove(dbPath)
			}
		}
	}

	dsn := "file:" + dbPath + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	return sql.Open("sqlite3", dsn)
}
