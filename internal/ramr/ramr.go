// Package ramr implements the optional tier-2 persistent priority cache
// (the "rapid-access memory register"). It is a separate SQLite
// database from the canonical memory store, since it is explicitly optional
// and disposable: losing it only costs cache warmth, never data.
package ramr

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
)

// Entry is one tier-2 row.
type Entry struct {
	Key           string
	Data          []byte
	Metadata      string // opaque JSON, caller-defined
	CreatedAt     time.Time
	LastAccessed  time.Time
	AccessCount   int
	PriorityScore float64 // 0..10
	Tags          []string
	ContentHash   string
	ExpiresAt     time.Time
	CacheType     string
}

// categoryFactor maps a cache_type to its TTL multiplier.
var categoryFactor = map[string]float64{
	"solution":             2.0,
	"configuration":        1.5,
	"knowledge":            2.5,
	"conversation_summary": 1.0,
	"temporary":            0.25,
}

func factorFor(cacheType string) float64 {
	if f, ok := categoryFactor[cacheType]; ok {
		return f
	}
	return 1.0
}

// TTL computes defaultTTL * max(priority/5, 0.5) * categoryFactor.
func TTL(defaultTTL time.Duration, priority float64, cacheType string) time.Duration {
	mult := priority / 5
	if mult < 0.5 {
		mult = 0.5
	}
	return time.Duration(float64(defaultTTL) * mult * factorFor(cacheType))
}

// PromotionThreshold is the priority_score above which a tier-2 read
// promotes the entry to tier-1.
const PromotionThreshold = 7.0

// DB wraps the tier-2 SQLite connection.
type DB struct {
	conn       *sql.DB
	mu         sync.Mutex
	defaultTTL time.Duration
}

// Open opens or creates the RAMR database at path.
func Open(path string, defaultTTL time.Duration) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, errs.FileSystem, "create ramr directory")
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "open ramr")
	}
	db := &DB{conn: conn, defaultTTL: defaultTTL}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, errs.Wrap(err, errs.Database, "migrate ramr")
	}
	return db, nil
}

func (db *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ramr_cache (
			key TEXT PRIMARY KEY,
			data BLOB,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_accessed DATETIME,
			access_count INTEGER DEFAULT 0,
			priority_score REAL DEFAULT 0,
			tags TEXT DEFAULT '[]',
			content_hash TEXT,
			expires_at DATETIME,
			cache_type TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ramr_expires_at ON ramr_cache(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ramr_priority ON ramr_cache(priority_score)`,
		`CREATE TABLE IF NOT EXISTS ramr_stats (
			stat_key TEXT PRIMARY KEY,
			stat_value TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := db.conn.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// SetOptions configures a Set call.
type SetOptions struct {
	Metadata      string
	PriorityScore float64
	Tags          []string
	CacheType     string
}

// Set upserts key with value, computing expires_at from the TTL formula and
// content_hash from the payload for dedup/debugging.
func (db *DB) Set(key string, value []byte, opts SetOptions) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now().UTC()
	ttl := TTL(db.defaultTTL, opts.PriorityScore, opts.CacheType)
	expiresAt := now.Add(ttl)
	hash := sha256.Sum256(value)
	tagsJSON, _ := json.Marshal(opts.Tags)

	_, err := db.conn.Exec(
		`INSERT INTO ramr_cache (key, data, metadata, created_at, last_accessed, access_count, priority_score, tags, content_hash, expires_at, cache_type)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   data=excluded.data, metadata=excluded.metadata, last_accessed=excluded.last_accessed,
		   priority_score=excluded.priority_score, tags=excluded.tags, content_hash=excluded.content_hash,
		   expires_at=excluded.expires_at, cache_type=excluded.cache_type`,
		key, value, opts.Metadata, now, now, opts.PriorityScore, string(tagsJSON), hex.EncodeToString(hash[:]), expiresAt, opts.CacheType,
	)
	if err != nil {
		return errs.Wrap(err, errs.Database, "ramr_set").With("key", key)
	}
	return nil
}

// Get fetches key, bumping access_count/last_accessed, and reports whether
// the entry was found and not expired. Promote is true if the caller should
// promote this entry to tier-1 per PromotionThreshold.
func (db *DB) Get(key string) (entry Entry, promote bool, found bool, err error) {
	row := db.conn.QueryRow(
		`SELECT key, data, metadata, created_at, last_accessed, access_count, priority_score, tags, content_hash, expires_at, cache_type
		 FROM ramr_cache WHERE key = ?`, key)

	var (
		tagsJSON  string
		expiresAt time.Time
	)
	e := Entry{}
	scanErr := row.Scan(&e.Key, &e.Data, &e.Metadata, &e.CreatedAt, &e.LastAccessed, &e.AccessCount,
		&e.PriorityScore, &tagsJSON, &e.ContentHash, &expiresAt, &e.CacheType)
	if scanErr == sql.ErrNoRows {
		return Entry{}, false, false, nil
	}
	if scanErr != nil {
		return Entry{}, false, false, errs.Wrap(scanErr, errs.Database, "ramr_get").With("key", key)
	}
	e.ExpiresAt = expiresAt
	_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)

	if time.Now().UTC().After(expiresAt) {
		return Entry{}, false, false, nil
	}

	db.mu.Lock()
	_, _ = db.conn.Exec(`UPDATE ramr_cache SET access_count = access_count + 1, last_accessed = ? WHERE key = ?`,
		time.Now().UTC(), key)
	db.mu.Unlock()

	return e, e.PriorityScore > PromotionThreshold, true, nil
}

// GetRelevantContext substring-matches query against stored metadata
// (a JSON blob describing the cached memory), returning up to limit
// unexpired entries ordered by priority_score desc.
func (db *DB) GetRelevantContext(query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.conn.Query(
		`SELECT key, data, metadata, created_at, last_accessed, access_count, priority_score, tags, content_hash, expires_at, cache_type
		 FROM ramr_cache
		 WHERE expires_at > ? AND instr(lower(metadata), lower(?)) > 0
		 ORDER BY priority_score DESC
		 LIMIT ?`,
		time.Now().UTC(), query, limit,
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "ramr_relevant_context")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var tagsJSON string
		if err := rows.Scan(&e.Key, &e.Data, &e.Metadata, &e.CreatedAt, &e.LastAccessed, &e.AccessCount,
			&e.PriorityScore, &tagsJSON, &e.ContentHash, &e.ExpiresAt, &e.CacheType); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(tagsJSON), &e.Tags)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExpireOld deletes entries past their expires_at, returning the count removed.
func (db *DB) ExpireOld() (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.conn.Exec(`DELETE FROM ramr_cache WHERE expires_at <= ?`, time.Now().UTC())
	if err != nil {
		return 0, errs.Wrap(err, errs.Database, "ramr_expire")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Count returns the number of live (unexpired) rows.
func (db *DB) Count() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM ramr_cache WHERE expires_at > ?`, time.Now().UTC()).Scan(&n)
	return n, err
}
