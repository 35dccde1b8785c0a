// Package store provides the embedded SQLite storage layer: the canonical
// memories table plus the legacy projects/conversation_sessions/
// conversation_messages tables kept for backward compatibility.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
)

// DB wraps a SQLite connection. Mutating statements are serialized through
// mu; reads may proceed concurrently (database/sql pools its own readers).
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the database at path, running schema setup and
// additive migrations. The parent directory is created if absent.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(err, errs.FileSystem, "create data directory").With("path", dir)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, classifyOpenErr(err, path)
	}

	// sql.Open is lazy; force a connection now so open failures surface here.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, classifyOpenErr(err, path)
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errs.Wrap(err, errs.Database, "migrate").With("path", path)
	}
	return db, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, err
	}
	db := &DB{conn: conn, path: ":memory:"}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Path returns the path the database was opened with.
func (db *DB) Path() string { return db.path }

// Conn exposes the underlying *sql.DB for collaborators that need to run
// ad-hoc queries. Migration runs its target-side reads and writes through
// it; discovery verification and migration's source reads open their own
// connections.
func (db *DB) Conn() *sql.DB { return db.conn }

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(json_extract(metadata, '$.project'))`,
		`CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(json_extract(metadata, '$.session'))`,

		// Legacy tables, preserved so older tools can still read them. New
		// code never writes to these.
		`CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			path TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER,
			session_name TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_message_at DATETIME,
			is_active INTEGER DEFAULT 1,
			FOREIGN KEY(project_id) REFERENCES projects(id)
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER,
			role TEXT CHECK(role IN ('user','assistant','system')),
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			metadata TEXT,
			FOREIGN KEY(session_id) REFERENCES conversation_sessions(id)
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema: %w\nSQL: %s", err, stmt)
		}
	}

	// Additive, version-gated migrations; never destructive.
	current := db.SchemaVersion()
	versioned := []struct {
		version int
		fn      func() error
	}{
		{1, db.migrateV1SourceTracking},
	}
	for _, m := range versioned {
		if current < m.version {
			if err := m.fn(); err != nil {
				return fmt.Errorf("migration v%d: %w", m.version, err)
			}
			if err := db.SetMeta("schema_version", strconv.Itoa(m.version)); err != nil {
				return fmt.Errorf("record migration v%d: %w", m.version, err)
			}
		}
	}
	return nil
}

// migrateV1SourceTracking adds the source_db/original_id columns the
// Migrator needs; additive only, never destructive.
func (db *DB) migrateV1SourceTracking() error {
	if !db.hasColumn("memories", "source_db") {
		if _, err := db.conn.Exec(`ALTER TABLE memories ADD COLUMN source_db TEXT`); err != nil {
			return err
		}
	}
	if !db.hasColumn("memories", "original_id") {
		if _, err := db.conn.Exec(`ALTER TABLE memories ADD COLUMN original_id TEXT`); err != nil {
			return err
		}
	}
	_, err := db.conn.Exec(`CREATE INDEX IF NOT EXISTS idx_memories_source_db ON memories(source_db)`)
	return err
}

// SchemaVersion returns the current schema version, 0 if unset.
func (db *DB) SchemaVersion() int {
	v, ok := db.GetMeta("schema_version")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// GetMeta reads a key from schema_meta.
func (db *DB) GetMeta(key string) (string, bool) {
	var value string
	err := db.conn.QueryRow(`SELECT value FROM schema_meta WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", false
	}
	return value, true
}

// SetMeta upserts a key in schema_meta.
func (db *DB) SetMeta(key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.conn.Exec(
		`INSERT INTO schema_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

func (db *DB) hasColumn(table, column string) bool {
	rows, err := db.conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid      int
			name     string
			colType  string
			notNull  int
			defaultV sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultV, &pk); err != nil {
			continue
		}
		if strings.EqualFold(name, column) {
			return true
		}
	}
	return false
}

// IntegrityCheck runs SQLite's built-in integrity check.
func (db *DB) IntegrityCheck() error {
	var result string
	if err := db.conn.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return errs.Wrap(err, errs.Database, "integrity_check")
	}
	if result != "ok" {
		return errs.New(errs.Database, "integrity_failed", "integrity check failed: "+result,
			"restore the database from a recent backup").With("result", result)
	}
	return nil
}

// classifyOpenErr maps a raw sqlite3 error to a tagged *errs.Error with a
// recovery hint keyed on the native error class.
func classifyOpenErr(err error, path string) *errs.Error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if ok := asSqliteError(err, &sqliteErr); ok {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen:
			return errs.New(errs.Database, "cannot_open",
				"cannot open database file", "check the path and file permissions").
				With("path", path).With("operation", "open")
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errs.New(errs.Database, "busy",
				"database is locked by another process", "retry shortly").
				With("path", path).With("operation", "open")
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB:
			return errs.New(errs.Database, "corrupt",
				"database file appears corrupt", "restore from a recent backup").
				With("path", path).With("operation", "open")
		}
	}
	return errs.Wrap(err, errs.Database, "open").With("path", path)
}

func asSqliteError(err error, out *sqlite3.Error) bool {
	if se, ok := err.(sqlite3.Error); ok {
		*out = se
		return true
	}
	return false
}
