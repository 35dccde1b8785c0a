package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/durandal-labs/durandal-mcp/internal/accesspattern"
	"github.com/durandal-labs/durandal-mcp/internal/cache"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/enricher"
	"github.com/durandal-labs/durandal-mcp/internal/errs"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
	"github.com/durandal-labs/durandal-mcp/internal/memory"
	"github.com/durandal-labs/durandal-mcp/internal/ramr"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// Tool input types.

type relationshipInput struct {
	Type     string  `json:"type"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength"`
}

type metadataInput struct {
	Project       string              `json:"project,omitempty" jsonschema:"project name, defaults to 'default'"`
	Session       string              `json:"session,omitempty" jsonschema:"session name, defaults to today's date"`
	Type          string              `json:"type,omitempty" jsonschema:"free-form type tag"`
	Importance    *float64            `json:"importance,omitempty" jsonschema:"0..1, default 0.5"`
	Categories    []string            `json:"categories,omitempty"`
	Keywords      []string            `json:"keywords,omitempty"`
	Relationships []relationshipInput `json:"relationships,omitempty"`
}

func (mi *metadataInput) toMetadata() memory.Metadata {
	if mi == nil {
		return memory.Metadata{}
	}
	md := memory.Metadata{
		Project:    mi.Project,
		Session:    mi.Session,
		Type:       mi.Type,
		Importance: mi.Importance,
		Categories: mi.Categories,
		Keywords:   mi.Keywords,
	}
	for _, r := range mi.Relationships {
		md.Relationships = append(md.Relationships, memory.Relationship{
			Type: r.Type, Target: r.Target, Strength: r.Strength,
		})
	}
	return md
}

type storeMemoryInput struct {
	Content  string         `json:"content" jsonschema:"text to remember, 1-50000 characters"`
	Metadata *metadataInput `json:"metadata,omitempty"`
}

func (d *Dispatcher) handleStoreMemory(ctx context.Context, req *mcp.CallToolRequest, input storeMemoryInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "store_memory", input.Content, func() (string, error) {
		if err := memory.ValidateContent(input.Content); err != nil {
			return "", err
		}
		md := input.Metadata.toMetadata()
		if err := memory.ValidateImportance(md.Importance); err != nil {
			return "", err
		}

		enriched := enricher.Enrich(md)
		id := store.NewID()

		d.Cache.Put(id, input.Content, enriched)
		d.Access.Record(id, accesspattern.ActionStore, time.Now())

		go func() {
			if err := d.Store.InsertWithID(id, input.Content, enriched); err != nil {
				d.recordDBError("store_memory", err)
			}
		}()
		if d.RAMR != nil {
			go d.writeTier2(id, input.Content, enriched)
		}

		priority := 0.0
		if enriched.RAMR != nil {
			priority = enriched.RAMR.CachePriority
		}
		return fmt.Sprintf(
			"Stored memory %s\nProject: %s\nSession: %s\nImportance: %v\nCategories: %s\nCache priority: %.2f",
			id, enriched.Project, enriched.Session, enriched.ImportanceOrDefault(),
			strings.Join(enriched.Categories, ", "), priority,
		), nil
	})
}

type filtersInput struct {
	Project       string   `json:"project,omitempty"`
	Session       string   `json:"session,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	ImportanceMin *float64 `json:"importance_min,omitempty"`
	ImportanceMax *float64 `json:"importance_max,omitempty"`
	DateFrom      string   `json:"date_from,omitempty" jsonschema:"RFC3339 timestamp"`
	DateTo        string   `json:"date_to,omitempty" jsonschema:"RFC3339 timestamp"`
}

func (fi *filtersInput) toStoreFilters() store.Filters {
	if fi == nil {
		return store.Filters{}
	}
	f := store.Filters{
		Project: fi.Project, Session: fi.Session, Categories: fi.Categories,
		ImportanceMin: fi.ImportanceMin, ImportanceMax: fi.ImportanceMax,
	}
	if t, err := time.Parse(time.RFC3339, fi.DateFrom); err == nil {
		f.DateFrom = &t
	}
	if t, err := time.Parse(time.RFC3339, fi.DateTo); err == nil {
		f.DateTo = &t
	}
	return f
}

func (fi *filtersInput) toCacheFilters() cache.Filters {
	sf := fi.toStoreFilters()
	return cache.Filters{
		Project: sf.Project, Session: sf.Session, Categories: sf.Categories,
		ImportanceMin: sf.ImportanceMin, ImportanceMax: sf.ImportanceMax,
		DateFrom: sf.DateFrom, DateTo: sf.DateTo,
	}
}

type searchMemoriesInput struct {
	Query   string        `json:"query" jsonschema:"substring to search for"`
	Filters *filtersInput `json:"filters,omitempty"`
	Limit   *int          `json:"limit,omitempty" jsonschema:"default 10, max 100"`
}

// effectiveLimit applies the shared limit semantics: absent means def,
// an explicit 0 means an empty result, negatives are treated as 0, and
// anything above max is clamped.
func effectiveLimit(limit *int, def, max int) int {
	n := def
	if limit != nil {
		n = *limit
	}
	if n < 0 {
		n = 0
	}
	if n > max {
		n = max
	}
	return n
}

func (d *Dispatcher) handleSearchMemories(ctx context.Context, req *mcp.CallToolRequest, input searchMemoriesInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "search_memories", input.Query, func() (string, error) {
		if strings.TrimSpace(input.Query) == "" {
			return "", errs.Validationf("query", input.Query, "query must not be empty")
		}
		limit := effectiveLimit(input.Limit, 10, 100)
		if limit == 0 {
			return "No matching memories found.", nil
		}

		cacheHits := d.Cache.Search(input.Query, input.Filters.toCacheFilters(), limit)
		seen := make(map[string]bool, len(cacheHits))
		for _, e := range cacheHits {
			seen[e.ID] = true
		}

		storeHits, err := d.Store.SearchMemories(input.Query, input.Filters.toStoreFilters(), limit)
		if err != nil {
			d.recordDBError("search_memories", err)
			storeHits = nil // degrade to cache-only results
		}

		var merged []searchResult
		for _, e := range cacheHits {
			merged = append(merged, searchResult{e.ID, e.Content, e.Metadata})
		}
		for _, m := range storeHits {
			if seen[m.ID] {
				continue
			}
			merged = append(merged, searchResult{m.ID, m.Content, m.Metadata})
			seen[m.ID] = true
			if m.Metadata.RAMR != nil && d.Cache.ShouldPromote(m.Metadata.RAMR.CachePriority) {
				d.Cache.Put(m.ID, m.Content, m.Metadata)
			}
			if len(merged) >= limit {
				break
			}
		}
		if len(merged) > limit {
			merged = merged[:limit]
		}

		if d.RAMR != nil && len(merged) < limit {
			merged = d.mergeTier2(input.Query, merged, seen, limit)
		}

		now := time.Now()
		for _, r := range merged {
			d.Access.Record(r.ID, accesspattern.ActionSearch, now)
		}

		if d.Cfg != nil && d.Cfg.RAMR.Prefetch {
			d.schedulePrefetch(merged)
		}

		if len(merged) == 0 {
			return "No matching memories found.", nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d result(s):\n", len(merged))
		for _, r := range merged {
			fmt.Fprintf(&b, "- [%s] (project=%s session=%s importance=%v) %s\n",
				r.ID, r.Metadata.Project, r.Metadata.Session, r.Metadata.ImportanceOrDefault(), snippet(r.Content, 160))
		}
		return b.String(), nil
	})
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

type searchResult struct {
	ID       string
	Content  string
	Metadata memory.Metadata
}

// writeTier2 mirrors a newly stored memory into the tier-2 persistent cache.
// Best-effort: tier-2 is disposable, so failures are logged and dropped.
func (d *Dispatcher) writeTier2(id, content string, md memory.Metadata) {
	metaJSON, err := memory.MarshalMetadata(md)
	if err != nil {
		return
	}
	priority := 0.0
	if md.RAMR != nil {
		priority = md.RAMR.CachePriority * 10
	}
	err = d.RAMR.Set(id, []byte(content), ramr.SetOptions{
		Metadata:      metaJSON,
		PriorityScore: priority,
		Tags:          md.Categories,
		CacheType:     md.Type,
	})
	if err != nil && d.Log != nil {
		d.Log.Warn("tier-2 write failed", zap.String("id", id), zap.Error(err))
	}
}

// mergeTier2 fills the remaining result slots from the tier-2 cache and
// promotes entries above the configured threshold to tier-1. Tier-2
// failures never affect the response; the merged slice is returned as-is.
func (d *Dispatcher) mergeTier2(query string, merged []searchResult, seen map[string]bool, limit int) []searchResult {
	threshold := ramr.PromotionThreshold
	if d.Cfg != nil {
		threshold = d.Cfg.RAMR.CacheThreshold
	}
	entries, err := d.RAMR.GetRelevantContext(query, limit-len(merged))
	if err != nil {
		return merged
	}
	for _, e := range entries {
		if seen[e.Key] {
			continue
		}
		md, err := memory.UnmarshalMetadata(e.Metadata)
		if err != nil {
			continue
		}
		merged = append(merged, searchResult{e.Key, string(e.Data), md})
		seen[e.Key] = true
		if e.PriorityScore > threshold {
			d.Cache.Put(e.Key, string(e.Data), md)
		}
	}
	return merged
}

// schedulePrefetch enumerates relationships.target across the results and
// loads up to maxPrefetch not-yet-cached ids from Store into Cache in the
// background. Best-effort: any failure is silent and never affects the
// user-visible response.
func (d *Dispatcher) schedulePrefetch(results []searchResult) {
	var targets []string
	for _, r := range results {
		for _, rel := range r.Metadata.Relationships {
			if rel.Target == "" {
				continue
			}
			if d.Cache.Has(rel.Target) {
				continue
			}
			targets = append(targets, rel.Target)
			if len(targets) >= maxPrefetch {
				break
			}
		}
		if len(targets) >= maxPrefetch {
			break
		}
	}
	if len(targets) == 0 {
		return
	}
	go func() {
		for _, id := range targets {
			m, found, err := d.Store.GetMemoryByID(id)
			if err != nil || !found {
				continue
			}
			d.Cache.Put(m.ID, m.Content, m.Metadata)
		}
	}()
}

type getContextInput struct {
	Project      string `json:"project,omitempty"`
	Session      string `json:"session,omitempty"`
	Limit        *int   `json:"limit,omitempty" jsonschema:"default 10, max 50"`
	IncludeStats bool   `json:"include_stats,omitempty"`
}

func (d *Dispatcher) handleGetContext(ctx context.Context, req *mcp.CallToolRequest, input getContextInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "get_context", input.Project+"/"+input.Session, func() (string, error) {
		limit := effectiveLimit(input.Limit, 10, 50)

		recent, err := d.Store.GetRecentMemories(input.Project, input.Session, limit)
		if err != nil {
			d.recordDBError("get_context", err)
			recent = nil
		}

		var cacheMatches []*cache.Entry
		for _, e := range d.Cache.Snapshot() {
			if input.Project != "" && e.Metadata.Project != input.Project {
				continue
			}
			if input.Session != "" && e.Metadata.Session != input.Session {
				continue
			}
			cacheMatches = append(cacheMatches, e)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Recent memories (%d):\n", len(recent))
		for _, m := range recent {
			fmt.Fprintf(&b, "- [%s] %s\n", m.ID, snippet(m.Content, 160))
		}
		fmt.Fprintf(&b, "Cache matches: %d\n", len(cacheMatches))

		if input.IncludeStats {
			fmt.Fprintf(&b, "Cache size: %d/%d\nHit rate: %.3f\nRAMR enabled: %v\nSelective attention enabled: %v\n",
				d.Cache.Len(), d.Cache.MaxSize(), d.Cache.HitRate(),
				d.Cfg != nil && d.Cfg.RAMR.Enabled,
				d.Cfg != nil && d.Cfg.SelectiveAttention.Enabled,
			)
		}
		return b.String(), nil
	})
}

type optimizeMemoryInput struct {
	Operations []string `json:"operations,omitempty" jsonschema:"subset of cache_optimization, retention_review, pattern_analysis, relationship_update"`
}

var allOptimizeOps = []string{"cache_optimization", "retention_review", "pattern_analysis", "relationship_update"}

func (d *Dispatcher) handleOptimizeMemory(ctx context.Context, req *mcp.CallToolRequest, input optimizeMemoryInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "optimize_memory", strings.Join(input.Operations, ","), func() (string, error) {
		ops := input.Operations
		if len(ops) == 0 {
			ops = allOptimizeOps
		}
		var lines []string
		for _, op := range ops {
			switch op {
			case "cache_optimization":
				n := d.Cache.OptimizeCache()
				lines = append(lines, fmt.Sprintf("cache_optimization: evicted %d entries", n))
			case "retention_review":
				lines = append(lines, d.retentionReview())
			case "pattern_analysis":
				lines = append(lines, d.patternAnalysis())
			case "relationship_update":
				lines = append(lines, d.relationshipUpdate())
			default:
				lines = append(lines, fmt.Sprintf("%s: unknown operation, skipped", op))
			}
		}
		return strings.Join(lines, "\n"), nil
	})
}

func (d *Dispatcher) retentionReview() string {
	archiveAfter := 30
	retentionThresh := 0.3
	if d.Cfg != nil {
		archiveAfter = d.Cfg.SelectiveAttention.ArchiveAfterDays
		retentionThresh = d.Cfg.SelectiveAttention.RetentionThresh
	}
	cutoff := time.Now().Add(-time.Duration(archiveAfter) * 24 * time.Hour)

	marked := 0
	for _, e := range d.Cache.Snapshot() {
		if e.InsertedAt.After(cutoff) {
			continue
		}
		if e.Metadata.SelectiveAttn == nil || e.Metadata.SelectiveAttn.AttentionScore >= retentionThresh {
			continue
		}
		id := e.ID
		ok := d.Cache.UpdateMetadata(id, func(m memory.Metadata) memory.Metadata {
			if m.SelectiveAttn == nil {
				return m
			}
			m.SelectiveAttn.ArchiveCandidate = true
			return m
		})
		if ok {
			marked++
		}
	}
	return fmt.Sprintf("retention_review: marked %d entries as archive candidates", marked)
}

func (d *Dispatcher) patternAnalysis() string {
	minSupport := 2
	if d.Cfg != nil {
		minSupport = d.Cfg.SelectiveAttention.PatternMinSupport
	}
	counts := make(map[string]int)
	for _, e := range d.Cache.Snapshot() {
		for _, c := range e.Metadata.Categories {
			counts[c]++
		}
	}
	var supported []string
	for c, n := range counts {
		if n >= minSupport {
			supported = append(supported, fmt.Sprintf("%s(%d)", c, n))
		}
	}
	sort.Strings(supported)
	return fmt.Sprintf("pattern_analysis: %d categories at or above min support: %s", len(supported), strings.Join(supported, ", "))
}

func (d *Dispatcher) relationshipUpdate() string {
	total := 0
	for _, e := range d.Cache.Snapshot() {
		total += len(e.Metadata.Relationships)
	}
	return fmt.Sprintf("relationship_update: %d relationships across cache", total)
}

type emptyInput struct{}

func (d *Dispatcher) handleGetStatus(ctx context.Context, req *mcp.CallToolRequest, input emptyInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "get_status", "", func() (string, error) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		dbPath := d.Store.Path()
		var dbSize int64
		if info, err := os.Stat(dbPath); err == nil {
			dbSize = info.Size()
		}

		console, file := logging.LevelError, logging.LevelError
		if d.Log != nil {
			console, file = d.Log.Levels()
		}

		var b strings.Builder
		fmt.Fprintf(&b, "Uptime: %s\n", time.Since(d.startedAt).Round(time.Second))
		fmt.Fprintf(&b, "Heap in use: %d KB\n", mem.HeapInuse/1024)
		fmt.Fprintf(&b, "Store path: %s (%d bytes)\n", dbPath, dbSize)
		fmt.Fprintf(&b, "Cache: %d/%d entries, hit rate %.3f\n", d.Cache.Len(), d.Cache.MaxSize(), d.Cache.HitRate())
		fmt.Fprintf(&b, "RAMR enabled: %v\n", d.Cfg != nil && d.Cfg.RAMR.Enabled)
		fmt.Fprintf(&b, "Console log level: %s\nFile log level: %s\n", console, file)
		fmt.Fprintf(&b, "Database error count: %d\n", atomic.LoadInt64(&d.dbErrCount))
		if len(d.Checks) > 0 {
			var parts []string
			for _, c := range d.Checks {
				state := "ok"
				if !c.OK {
					state = "warn"
					if c.Fatal {
						state = "failed"
					}
				}
				parts = append(parts, c.Name+" "+state)
			}
			fmt.Fprintf(&b, "Startup checks: %s\n", strings.Join(parts, ", "))
		}
		return b.String(), nil
	})
}

type configureLoggingInput struct {
	ConsoleLevel string `json:"console_level,omitempty"`
	FileLevel    string `json:"file_level,omitempty"`
}

func (d *Dispatcher) handleConfigureLogging(ctx context.Context, req *mcp.CallToolRequest, input configureLoggingInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "configure_logging", input.ConsoleLevel+"/"+input.FileLevel, func() (string, error) {
		if input.ConsoleLevel == "" && input.FileLevel == "" {
			return "", errs.Validationf("console_level/file_level", "", "at least one of console_level or file_level must be provided")
		}

		var console, file logging.Level
		if input.ConsoleLevel != "" {
			lvl, err := logging.ParseLevel(input.ConsoleLevel)
			if err != nil {
				return "", errs.Validationf("console_level", input.ConsoleLevel, "%v", err)
			}
			console = lvl
		}
		if input.FileLevel != "" {
			lvl, err := logging.ParseLevel(input.FileLevel)
			if err != nil {
				return "", errs.Validationf("file_level", input.FileLevel, "%v", err)
			}
			file = lvl
		}

		if err := d.Log.SetLevels(console, file); err != nil {
			return "", errs.Wrap(err, errs.Configuration, "set_log_levels")
		}

		path := config.EnvFilePath()
		ef, err := config.ReadEnvFile(path)
		if err != nil {
			return "", errs.Wrap(err, errs.FileSystem, "read_env_file").With("path", path)
		}
		if console != "" {
			ef.Set("CONSOLE_LOG_LEVEL", string(console))
		}
		if file != "" {
			ef.Set("FILE_LOG_LEVEL", string(file))
		}
		if err := config.WriteEnvFile(path, ef); err != nil {
			return "", errs.Wrap(err, errs.FileSystem, "write_env_file").With("path", path)
		}

		nowConsole, nowFile := d.Log.Levels()
		return fmt.Sprintf("Logging configured. Console level: %s, file level: %s", nowConsole, nowFile), nil
	})
}

type getLogsInput struct {
	Lines       int    `json:"lines,omitempty" jsonschema:"default 50"`
	LevelFilter string `json:"level_filter,omitempty" jsonschema:"error|warn|info|debug"`
	Search      string `json:"search,omitempty"`
}

var logLevelRank = map[string]int{"debug": 0, "info": 1, "warn": 2, "error": 3}

func (d *Dispatcher) handleGetLogs(ctx context.Context, req *mcp.CallToolRequest, input getLogsInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "get_logs", input.Search, func() (string, error) {
		lines := input.Lines
		if lines <= 0 {
			lines = 50
		}

		var minRank int
		if input.LevelFilter != "" {
			r, ok := logLevelRank[strings.ToLower(input.LevelFilter)]
			if !ok {
				return "", errs.Validationf("level_filter", input.LevelFilter, "must be one of error, warn, info, debug")
			}
			minRank = r
		}

		path := d.Log.CurrentLogFile()
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return "No log entries yet.", nil
			}
			return "", errs.Wrap(err, errs.FileSystem, "open_log_file").With("path", path)
		}
		defer f.Close()

		var matched []string
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if input.Search != "" && !strings.Contains(line, input.Search) {
				continue
			}
			if input.LevelFilter != "" {
				var entry struct {
					Level string `json:"level"`
				}
				if err := json.Unmarshal([]byte(line), &entry); err == nil {
					if r, ok := logLevelRank[strings.ToLower(entry.Level)]; ok && r < minRank {
						continue
					}
				}
			}
			matched = append(matched, line)
		}

		if len(matched) > lines {
			matched = matched[len(matched)-lines:]
		}
		if len(matched) == 0 {
			return "No log entries matched.", nil
		}
		return strings.Join(matched, "\n"), nil
	})
}

type listProjectsSessionsInput struct {
	Type           string `json:"type,omitempty"`
	IncludeSamples bool   `json:"include_samples,omitempty"`
}

func (d *Dispatcher) handleListProjectsSessions(ctx context.Context, req *mcp.CallToolRequest, input listProjectsSessionsInput) (*mcp.CallToolResult, any, error) {
	return d.trace(ctx, "list_projects_sessions", input.Type, func() (string, error) {
		groups, err := d.Store.ListProjectSessions(input.Type, input.IncludeSamples)
		if err != nil {
			return "", err
		}
		if len(groups) == 0 {
			return "No projects/sessions found.", nil
		}
		var b strings.Builder
		for _, g := range groups {
			fmt.Fprintf(&b, "%s / %s: %d memories\n", g.Project, g.Session, g.Count)
			for _, s := range g.Samples {
				fmt.Fprintf(&b, "  - %s\n", s)
			}
		}
		return b.String(), nil
	})
}
