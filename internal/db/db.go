package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/docs"
)

type DB struct {
	conn   *sql.DB
	driver string
}

// New opens (creating if needed) the index database at dbPath using the
// given driver, either "duckdb" or "sqlite3".
func New(driver, dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	var (
		conn   *sql.DB
		schema []string
		err    error
	)
	switch driver {
	case "duckdb", "":
		driver = "duckdb"
		conn, err = openDuckDB(dbPath)
		schema = duckdbSchema
	case "sqlite3":
		conn, err = openSQLite(dbPath)
		schema = sqliteSchema
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	d := &DB{conn: conn, driver: driver}
	if err := d.initSchema(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return d, nil
}

func (db *DB) Driver() string { return db.driver }

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema(queries []string) error {
	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("executing %q: %w", q, err)
		}
	}
	return nil
}

// --- Artifact operations ---

// Artifact is one stored index file. Source names where it came from: a
// local doc root or a crate@version fetched remotely.
type Artifact struct {
	ID          int
	Kind        docs.ArtifactKind
	Subject     string
	Source      string
	Path        string
	ContentHash string
	LoadedAt    time.Time
}

const artifactColumns = `id, kind, subject, source, path, content_hash, loaded_at`

func scanArtifact(row interface{ Scan(...any) error }) (*Artifact, error) {
	var a Artifact
	var kind string
	if err := row.Scan(&a.ID, &kind, &a.Subject, &a.Source, &a.Path, &a.ContentHash, &a.LoadedAt); err != nil {
		return nil, err
	}
	a.Kind = docs.ArtifactKind(kind)
	return &a, nil
}

// GetArtifact returns the artifact stored for (source, path), or nil.
func (db *DB) GetArtifact(source, path string) (*Artifact, error) {
	a, err := scanArtifact(db.conn.QueryRow(
		`SELECT `+artifactColumns+` FROM artifacts WHERE source = ? AND path = ?`,
		source, path,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListArtifacts returns every stored artifact in load order.
func (db *DB) ListArtifacts() ([]Artifact, error) {
	rows, err := db.conn.Query(`SELECT ` + artifactColumns + ` FROM artifacts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// StoreArtifact records a parsed artifact and its entries, replacing any
// rows previously stored for the same (source, path). The returned bool is
// false when the stored content hash already matched and nothing changed.
func (db *DB) StoreArtifact(source string, a *docs.Artifact, contentHash string) (*Artifact, bool, error) {
	existing, err := db.GetArtifact(source, a.Path)
	if err != nil {
		return nil, false, fmt.Errorf("checking artifact: %w", err)
	}
	if existing != nil && existing.ContentHash == contentHash {
		return existing, false, nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Truncate(time.Second)
	rec := &Artifact{Kind: a.Kind, Subject: a.Subject, Source: source, Path: a.Path, ContentHash: contentHash, LoadedAt: now}
	if existing == nil {
		err = tx.QueryRow(
			`INSERT INTO artifacts (kind, subject, source, path, content_hash, loaded_at)
			 VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
			string(a.Kind), a.Subject, source, a.Path, contentHash, now,
		).Scan(&rec.ID)
		if err != nil {
			return nil, false, fmt.Errorf("inserting artifact: %w", err)
		}
	} else {
		rec.ID = existing.ID
		if _, err := tx.Exec(
			`UPDATE artifacts SET content_hash = ?, loaded_at = ? WHERE id = ?`,
			contentHash, now, existing.ID,
		); err != nil {
			return nil, false, fmt.Errorf("updating artifact: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM implementors WHERE artifact_id = ?`, existing.ID); err != nil {
			return nil, false, err
		}
		if _, err := tx.Exec(`DELETE FROM sidebar_items WHERE artifact_id = ?`, existing.ID); err != nil {
			return nil, false, err
		}
	}

	switch a.Kind {
	case docs.KindImplementors:
		err = insertImplementors(tx, rec.ID, a.Implementors)
	case docs.KindSidebar:
		err = insertSidebar(tx, rec.ID, a.Sidebar)
	default:
		err = fmt.Errorf("%w: kind %q", docs.ErrUnknownArtifact, a.Kind)
	}
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing artifact: %w", err)
	}
	return rec, true, nil
}

func insertImplementors(tx *sql.Tx, artifactID int, f *docs.ImplementorFile) error {
	stmt, err := tx.Prepare(
		`INSERT INTO implementors (artifact_id, library, library_ordinal, ordinal, text, type_name, synthetic, types)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing implementor insert: %w", err)
	}
	defer stmt.Close()

	libOrd := 0
	for pair := f.Libraries.Oldest(); pair != nil; pair = pair.Next() {
		for i, im := range pair.Value {
			types := im.Types
			if types == nil {
				types = []string{}
			}
			typesJSON, err := json.Marshal(types)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(artifactID, pair.Key, libOrd, i, im.Text, im.TypeName(), im.Synthetic, string(typesJSON)); err != nil {
				return fmt.Errorf("inserting implementor: %w", err)
			}
		}
		libOrd++
	}
	return nil
}

func insertSidebar(tx *sql.Tx, artifactID int, f *docs.SidebarFile) error {
	stmt, err := tx.Prepare(
		`INSERT INTO sidebar_items (artifact_id, category, category_ordinal, ordinal, name, summary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing sidebar insert: %w", err)
	}
	defer stmt.Close()

	catOrd := 0
	for pair := f.Items.Oldest(); pair != nil; pair = pair.Next() {
		for i, it := range pair.Value {
			if _, err := stmt.Exec(artifactID, string(pair.Key), catOrd, i, it.Name, it.Summary); err != nil {
				return fmt.Errorf("inserting sidebar item: %w", err)
			}
		}
		catOrd++
	}
	return nil
}

// DeleteArtifact removes an artifact and its entries. Missing artifacts are
// not an error.
func (db *DB) DeleteArtifact(source, path string) error {
	existing, err := db.GetArtifact(source, path)
	if err != nil || existing == nil {
		return err
	}
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM implementors WHERE artifact_id = ?`,
		`DELETE FROM sidebar_items WHERE artifact_id = ?`,
		`DELETE FROM artifacts WHERE id = ?`,
	} {
		if _, err := tx.Exec(q, existing.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Clear drops every stored artifact.
func (db *DB) Clear() error {
	for _, q := range []string{
		`DELETE FROM implementors`,
		`DELETE FROM sidebar_items`,
		`DELETE FROM artifacts`,
	} {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
	}
	return nil
}

// --- Entry queries ---

// ImplementorRow is one stored implementor with the trait it belongs to.
type ImplementorRow struct {
	Trait     string
	Source    string
	Library   string
	Text      string
	TypeName  string
	Synthetic bool
	Types     []string
}

func (r ImplementorRow) Implementor() docs.Implementor {
	types := r.Types
	if types == nil {
		types = []string{}
	}
	return docs.Implementor{Text: r.Text, Synthetic: r.Synthetic, Types: types}
}

const implementorQuery = `SELECT a.subject, a.source, i.library, i.text, i.type_name, i.synthetic, i.types
	FROM implementors i JOIN artifacts a ON a.id = i.artifact_id`

const implementorOrder = ` ORDER BY a.id, i.library_ordinal, i.ordinal`

func (db *DB) queryImplementors(where string, args ...any) ([]ImplementorRow, error) {
	rows, err := db.conn.Query(implementorQuery+" WHERE "+where+implementorOrder, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImplementorRow
	for rows.Next() {
		var r ImplementorRow
		var typesJSON string
		if err := rows.Scan(&r.Trait, &r.Source, &r.Library, &r.Text, &r.TypeName, &r.Synthetic, &typesJSON); err != nil {
			return nil, err
		}
		if typesJSON != "" {
			if err := json.Unmarshal([]byte(typesJSON), &r.Types); err != nil {
				return nil, fmt.Errorf("decoding types for %q: %w", r.Text, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ImplementorsForTrait returns every stored implementor of trait, grouped by
// artifact then library in load order.
func (db *DB) ImplementorsForTrait(trait string) ([]ImplementorRow, error) {
	return db.queryImplementors(`a.subject = ?`, trait)
}

// TraitsForType returns stored implementors whose implementing type is
// typeName, optionally restricted to one library.
func (db *DB) TraitsForType(typeName, library string) ([]ImplementorRow, error) {
	if library == "" {
		return db.queryImplementors(`i.type_name = ?`, typeName)
	}
	return db.queryImplementors(`i.type_name = ? AND i.library = ?`, typeName, library)
}

// ImplementorsForLibraries returns implementors from any of the named
// libraries.
func (db *DB) ImplementorsForLibraries(libraries []string) ([]ImplementorRow, error) {
	if len(libraries) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(libraries))
	params := make([]any, len(libraries))
	for i, lib := range libraries {
		placeholders[i] = "?"
		params[i] = lib
	}
	return db.queryImplementors(fmt.Sprintf(`i.library IN (%s)`, strings.Join(placeholders, ",")), params...)
}

// SidebarRow is one stored sidebar entry with the module it belongs to.
type SidebarRow struct {
	Module   string
	Source   string
	Category docs.Category
	Name     string
	Summary  string
}

// SidebarForModule returns every stored item of module in load order.
func (db *DB) SidebarForModule(module string) ([]SidebarRow, error) {
	rows, err := db.conn.Query(
		`SELECT a.subject, a.source, s.category, s.name, s.summary
		 FROM sidebar_items s JOIN artifacts a ON a.id = s.artifact_id
		 WHERE a.subject = ?
		 ORDER BY a.id, s.category_ordinal, s.ordinal`,
		module,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SidebarRow
	for rows.Next() {
		var r SidebarRow
		var cat string
		if err := rows.Scan(&r.Module, &r.Source, &cat, &r.Name, &r.Summary); err != nil {
			return nil, err
		}
		r.Category = docs.Category(cat)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts summarizes what is stored.
type Counts struct {
	Artifacts    int
	Implementors int
	SidebarItems int
}

func (db *DB) Counts() (Counts, error) {
	var c Counts
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&c.Artifacts); err != nil {
		return c, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM implementors`).Scan(&c.Implementors); err != nil {
		return c, err
	}
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM sidebar_items`).Scan(&c.SidebarItems); err != nil {
		return c, err
	}
	return c, nil
}
