package store

import (
	"database/sql"

	"github.com/durandal-labs/durandal-mcp/internal/errs"
)

// ProjectSessionGroup summarizes one (project, session) pair for
// list_projects_sessions.
type ProjectSessionGroup struct {
	Project string
	Session string
	Count   int
	Samples []string
}

const sampleCount = 3
const sampleTruncateLen = 200

// ListProjectSessions aggregates memories by project/session, optionally
// filtered by metadata.type, newest group activity first. When
// includeSamples is set, up to sampleCount sample contents per group are
// attached, truncated to sampleTruncateLen runes.
func (db *DB) ListProjectSessions(typeFilter string, includeSamples bool) ([]ProjectSessionGroup, error) {
	query := `
		SELECT
			COALESCE(json_extract(metadata, '$.project'), 'default') AS project,
			COALESCE(json_extract(metadata, '$.session'), '') AS session,
			count(*) AS n
		FROM memories`
	args := []any{}
	if typeFilter != "" {
		query += ` WHERE json_extract(metadata, '$.type') = ?`
		args = append(args, typeFilter)
	}
	query += ` GROUP BY project, session ORDER BY max(created_at) DESC`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(err, errs.Database, "list_projects_sessions")
	}
	defer rows.Close()

	var groups []ProjectSessionGroup
	for rows.Next() {
		var g ProjectSessionGroup
		if err := rows.Scan(&g.Project, &g.Session, &g.Count); err != nil {
			return nil, errs.Wrap(err, errs.Database, "scan_project_session")
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.Database, "list_projects_sessions_rows")
	}

	if includeSamples {
		for i := range groups {
			samples, err := db.sampleContents(groups[i].Project, groups[i].Session, typeFilter)
			if err != nil {
				continue // samples are a best-effort enrichment, never fatal
			}
			groups[i].Samples = samples
		}
	}
	return groups, nil
}

func (db *DB) sampleContents(project, session, typeFilter string) ([]string, error) {
	query := `
		SELECT content FROM memories
		WHERE COALESCE(json_extract(metadata, '$.project'), 'default') = ?
		  AND COALESCE(json_extract(metadata, '$.session'), '') = ?`
	args := []any{project, session}
	if typeFilter != "" {
		query += ` AND json_extract(metadata, '$.type') = ?`
		args = append(args, typeFilter)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, sampleCount)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content sql.NullString
		if err := rows.Scan(&content); err != nil {
			continue
		}
		out = append(out, truncate(content.String, sampleTruncateLen))
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
