package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
	"github.com/durandal-labs/durandal-mcp/internal/memory"
)

// NewID generates an opaque, time-prefixed, randomly-suffixed memory id.
// Ordering is not relied on for correctness.
func NewID() string {
	return fmt.Sprintf("mem_%d_%s", time.Now().UTC().UnixNano(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// StoreMemory inserts a new memory row with metadata serialized as JSON and
// returns its id.
func (db *DB) StoreMemory(content string, md memory.Metadata) (string, error) {
	id := NewID()
	if err := db.InsertWithID(id, content, md); err != nil {
		return "", err
	}
	return id, nil
}

// InsertWithID inserts content/metadata under a caller-chosen id. The
// Dispatcher uses this so the same id can be written into Cache
// synchronously and into Store in a fire-and-forget goroutine.
func (db *DB) InsertWithID(id, content string, md memory.Metadata) error {
	if err := memory.ValidateContent(content); err != nil {
		return err
	}
	if err := memory.ValidateImportance(md.Importance); err != nil {
		return err
	}

	metaJSON, err := memory.MarshalMetadata(md)
	if err != nil {
		return errs.Wrap(err, errs.Database, "marshal_metadata")
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.conn.Exec(
		`INSERT INTO memories (id, content, metadata, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		id, content, metaJSON,
	)
	if err != nil {
		return errs.Wrap(err, errs.Database, "store_memory").With("id", id)
	}
	return nil
}

// Filters narrows SearchMemories and GetRecentMemories results.
type Filters struct {
	Project       string
	Session       string
	Categories    []string
	ImportanceMin *float64
	ImportanceMax *float64
	DateFrom      *time.Time
	DateTo        *time.Time
}

func scanMemoryRow(rows *sql.Rows) (memory.Memory, error) {
	var (
		id        string
		content   string
		metaJSON  sql.NullString
		createdAt time.Time
	)
	if err := rows.Scan(&id, &content, &metaJSON, &createdAt); err != nil {
		return memory.Memory{}, err
	}
	md, err := memory.UnmarshalMetadata(metaJSON.String)
	if err != nil {
		md = memory.Metadata{}
	}
	return memory.Memory{ID: id, Content: content, Metadata: md, CreatedAt: createdAt}, nil
}

// SearchMemories performs a case-insensitive substring match on content,
// applying the given filters, newest-first, capped at 100 results.
func (db *DB) SearchMemories(query string, filters Filters, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > 100 {
		limit = 100
	}

	// Overfetch generously since project/session/categories/importance/date
	// filters are applied in Go (metadata is opaque JSON); a plain
	// substring SQL filter keeps the query simple and index-friendly
	// on created_at while correctness for the rest is enforced here.
	rows, err := db.conn.Query(
		`SELECT id, content, metadata, created_at FROM memories
		 WHERE instr(lower(content), lower(?)) > 0
		 ORDER BY created_at DESC
		 LIMIT ?`,
		query, limit*20+200,
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "search_memories")
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.Database, "scan_memory")
		}
		if !matchFilters(m, filters) {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.Database, "search_memories_rows")
	}
	return out, nil
}

func matchFilters(m memory.Memory, f Filters) bool {
	if f.Project != "" && m.Metadata.Project != f.Project {
		return false
	}
	if f.Session != "" && m.Metadata.Session != f.Session {
		return false
	}
	if len(f.Categories) > 0 && !anyOf(m.Metadata.Categories, f.Categories) {
		return false
	}
	importance := m.Metadata.ImportanceOrDefault()
	if f.ImportanceMin != nil && importance < *f.ImportanceMin {
		return false
	}
	if f.ImportanceMax != nil && importance > *f.ImportanceMax {
		return false
	}
	if f.DateFrom != nil && m.CreatedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && m.CreatedAt.After(*f.DateTo) {
		return false
	}
	return true
}

func anyOf(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

// GetRecentMemories returns the newest memories, optionally filtered by
// project/session, newest-first, capped at 50.
func (db *DB) GetRecentMemories(project, session string, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > 50 {
		limit = 50
	}

	rows, err := db.conn.Query(
		`SELECT id, content, metadata, created_at FROM memories ORDER BY created_at DESC LIMIT ?`,
		limit*10+200,
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "get_recent_memories")
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, errs.Wrap(err, errs.Database, "scan_memory")
		}
		if project != "" && m.Metadata.Project != project {
			continue
		}
		if session != "" && m.Metadata.Session != session {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// GetMemoryByID fetches a single memory, or (zero, false) if absent.
func (db *DB) GetMemoryByID(id string) (memory.Memory, bool, error) {
	row := db.conn.QueryRow(`SELECT id, content, metadata, created_at FROM memories WHERE id = ?`, id)
	var (
		mid       string
		content   string
		metaJSON  sql.NullString
		createdAt time.Time
	)
	if err := row.Scan(&mid, &content, &metaJSON, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return memory.Memory{}, false, nil
		}
		return memory.Memory{}, false, errs.Wrap(err, errs.Database, "get_memory_by_id").With("id", id)
	}
	md, err := memory.UnmarshalMetadata(metaJSON.String)
	if err != nil {
		md = memory.Metadata{}
	}
	return memory.Memory{ID: mid, Content: content, Metadata: md, CreatedAt: createdAt}, true, nil
}

// CountMemories returns the total row count in memories, used by the
// --status command.
func (db *DB) CountMemories() (int, error) {
	var n int
	err := db.conn.QueryRow(`SELECT count(*) FROM memories`).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(err, errs.Database, "count_memories")
	}
	return n, nil
}
