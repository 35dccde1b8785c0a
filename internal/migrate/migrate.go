// Package migrate merges discovered databases: it consumes Discovery's
// output and merges every source database's memories into one canonical
// target, deduplicating by exact content match. Sources are never modified.
package migrate

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// Stats summarizes one migration run.
type Stats struct {
	Total      int
	Migrated   int
	Duplicates int
	Errors     int
}

// Result is the outcome of migrating one source database.
type Result struct {
	SourcePath string
	Stats      Stats
	Err        error
}

// Run migrates every source path into target. dryRun performs the scan and
// dedup check but writes nothing; the CLI passes dryRun=true until the
// operator confirms with --yes, so nothing is written without explicit
// confirmation.
func Run(target *store.DB, sources []string, dryRun bool) ([]Result, error) {
	existing, err := existingContentSet(target)
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "load_existing_content")
	}

	var results []Result
	for _, src := range sources {
		res := migrateOne(target, src, existing, dryRun)
		results = append(results, res)
	}
	return results, nil
}

func existingContentSet(target *store.DB) (map[string]bool, error) {
	rows, err := target.Conn().Query(`SELECT content FROM memories`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]bool)
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			continue
		}
		set[c] = true
	}
	return set, rows.Err()
}

type sourceRow struct {
	id        string
	content   string
	metadata  sql.NullString
	createdAt time.Time
}

func migrateOne(target *store.DB, sourcePath string, existing map[string]bool, dryRun bool) Result {
	res := Result{SourcePath: sourcePath}

	srcConn, err := sql.Open("sqlite3", "file:"+sourcePath+"?mode=ro")
	if err != nil {
		res.Err = errs.Wrap(err, errs.Database, "open_source").With("path", sourcePath)
		return res
	}
	defer srcConn.Close()

	rows, err := srcConn.Query(`SELECT id, content, metadata, created_at FROM memories ORDER BY created_at ASC`)
	if err != nil {
		res.Err = errs.Wrap(err, errs.Database, "read_source").With("path", sourcePath)
		return res
	}
	defer rows.Close()

	for rows.Next() {
		var r sourceRow
		if err := rows.Scan(&r.id, &r.content, &r.metadata, &r.createdAt); err != nil {
			res.Stats.Errors++
			continue
		}
		res.Stats.Total++

		if existing[r.content] {
			res.Stats.Duplicates++
			continue
		}

		if !dryRun {
			if err := insertMigrated(target, r, sourcePath); err != nil {
				res.Stats.Errors++
				continue
			}
		}
		existing[r.content] = true
		res.Stats.Migrated++
	}
	if err := rows.Err(); err != nil {
		res.Err = errs.Wrap(err, errs.Database, "read_source_rows").With("path", sourcePath)
	}
	return res
}

func insertMigrated(target *store.DB, r sourceRow, sourcePath string) error {
	conn := target.Conn()
	_, err := conn.Exec(
		`INSERT INTO memories (id, content, metadata, created_at, source_db, original_id) VALUES (?, ?, ?, ?, ?, ?)`,
		store.NewID(), r.content, r.metadata, r.createdAt, sourcePath, r.id,
	)
	return err
}

// Verify returns the total row count in target and the number of distinct
// source_db values recorded, used to sanity-check a migration run.
func Verify(target *store.DB) (totalRows, distinctSources int, err error) {
	if err := target.Conn().QueryRow(`SELECT count(*) FROM memories`).Scan(&totalRows); err != nil {
		return 0, 0, err
	}
	if err := target.Conn().QueryRow(`SELECT count(DISTINCT source_db) FROM memories WHERE source_db IS NOT NULL`).Scan(&distinctSources); err != nil {
		return 0, 0, err
	}
	return totalRows, distinctSources, nil
}

// Total sums Stats across a batch of per-source results.
func Total(results []Result) Stats {
	var s Stats
	for _, r := range results {
		s.Total += r.Stats.Total
		s.Migrated += r.Stats.Migrated
		s.Duplicates += r.Stats.Duplicates
		s.Errors += r.Stats.Errors
	}
	return s
}
