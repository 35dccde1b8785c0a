package cache

import (
	"sort"
	"strings"
	"time"
)

// Filters mirrors store.Filters for tier-1 search; kept as its own type so
// this package has no dependency on internal/store.
type Filters struct {
	Project       string
	Session       string
	Categories    []string
	ImportanceMin *float64
	ImportanceMax *float64
	DateFrom      *time.Time
	DateTo        *time.Time
}

// Search substring-matches query against cached content (case-insensitive)
// and applies filters. Matches come back newest-first by InsertedAt with id
// as the tiebreak, so a search merge over the same cache state is
// deterministic.
func (c *Cache) Search(query string, f Filters, limit int) []*Entry {
	q := strings.ToLower(query)
	var out []*Entry
	for _, e := range c.Snapshot() {
		if q != "" && !strings.Contains(strings.ToLower(e.Content), q) {
			continue
		}
		if !matchEntry(e, f) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InsertedAt.Equal(out[j].InsertedAt) {
			return out[i].InsertedAt.After(out[j].InsertedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchEntry(e *Entry, f Filters) bool {
	if f.Project != "" && e.Metadata.Project != f.Project {
		return false
	}
	if f.Session != "" && e.Metadata.Session != f.Session {
		return false
	}
	if len(f.Categories) > 0 {
		set := make(map[string]bool, len(e.Metadata.Categories))
		for _, c := range e.Metadata.Categories {
			set[c] = true
		}
		found := false
		for _, want := range f.Categories {
			if set[want] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	importance := e.Metadata.ImportanceOrDefault()
	if f.ImportanceMin != nil && importance < *f.ImportanceMin {
		return false
	}
	if f.ImportanceMax != nil && importance > *f.ImportanceMax {
		return false
	}
	if f.DateFrom != nil && e.InsertedAt.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && e.InsertedAt.After(*f.DateTo) {
		return false
	}
	return true
}
