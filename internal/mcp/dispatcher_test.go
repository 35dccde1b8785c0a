package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/durandal-labs/durandal-mcp/internal/accesspattern"
	"github.com/durandal-labs/durandal-mcp/internal/cache"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
	"github.com/durandal-labs/durandal-mcp/internal/memory"
	"github.com/durandal-labs/durandal-mcp/internal/ramr"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c := cache.New(cache.DefaultConfig(), accesspattern.New(), accesspattern.NewStats())

	log, err := logging.New(logging.Options{LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	return New(db, c, nil, accesspattern.New(), accesspattern.NewStats(), log, config.DefaultConfig())
}

func newTier2Dispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ramrDB, err := ramr.Open(filepath.Join(t.TempDir(), "ramr.db"), time.Hour)
	if err != nil {
		t.Fatalf("ramr.Open: %v", err)
	}
	t.Cleanup(func() { ramrDB.Close() })

	c := cache.New(cache.DefaultConfig(), accesspattern.New(), accesspattern.NewStats())
	log, err := logging.New(logging.Options{LogDir: t.TempDir()})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.RAMR.Enabled = true

	return New(db, c, ramrDB, accesspattern.New(), accesspattern.NewStats(), log, cfg)
}

func intPtr(n int) *int { return &n }

func extractText(res *mcpsdk.CallToolResult) string {
	if len(res.Content) == 0 {
		return ""
	}
	if tc, ok := res.Content[0].(*mcpsdk.TextContent); ok {
		return tc.Text
	}
	return ""
}

func categoryMetadata(category string) memory.Metadata {
	var categories []string
	if category != "" {
		categories = []string{category}
	}
	return memory.Metadata{Categories: categories}
}

func projectSessionMetadata(project, session string) memory.Metadata {
	return memory.Metadata{Project: project, Session: session}
}

func relationshipMetadata(target string) memory.Metadata {
	return memory.Metadata{Relationships: []memory.Relationship{{Type: "related_to", Target: target, Strength: 1}}}
}

func TestStoreThenSearchMemories(t *testing.T) {
	d := newTestDispatcher(t)

	storeRes, _, err := d.handleStoreMemory(context.Background(), nil, storeMemoryInput{
		Content:  "remember the deploy runbook",
		Metadata: &metadataInput{Project: "infra"},
	})
	if err != nil {
		t.Fatalf("handleStoreMemory: %v", err)
	}
	if !strings.Contains(extractText(storeRes), "Stored memory") {
		t.Fatalf("expected confirmation text, got %q", extractText(storeRes))
	}

	searchRes, _, err := d.handleSearchMemories(context.Background(), nil, searchMemoriesInput{Query: "runbook", Limit: intPtr(10)})
	if err != nil {
		t.Fatalf("handleSearchMemories: %v", err)
	}
	out := extractText(searchRes)
	if !strings.Contains(out, "Found 1 result") {
		t.Errorf("search output = %q, want a single match (served from cache before the async write lands)", out)
	}
}

func TestStoreMemoryValidatesEmptyContent(t *testing.T) {
	d := newTestDispatcher(t)
	res, _, err := d.handleStoreMemory(context.Background(), nil, storeMemoryInput{Content: ""})
	if err != nil {
		t.Fatalf("handler itself should not return a Go error: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "Error:") {
		t.Errorf("expected a formatted validation error, got %q", out)
	}
}

func TestSearchMemoriesRejectsEmptyQuery(t *testing.T) {
	d := newTestDispatcher(t)
	res, _, err := d.handleSearchMemories(context.Background(), nil, searchMemoriesInput{Query: "   "})
	if err != nil {
		t.Fatalf("handler itself should not return a Go error: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "Error:") {
		t.Errorf("expected validation error for blank query, got %q", out)
	}
}

func TestGetStatusReportsCacheAndUptime(t *testing.T) {
	d := newTestDispatcher(t)
	res, _, err := d.handleGetStatus(context.Background(), nil, emptyInput{})
	if err != nil {
		t.Fatalf("handleGetStatus: %v", err)
	}
	out := extractText(res)
	for _, want := range []string{"Uptime:", "Cache:", "Database error count: 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("get_status output missing %q: %q", want, out)
		}
	}
}

func TestConfigureLoggingRequiresAtLeastOneLevel(t *testing.T) {
	d := newTestDispatcher(t)
	res, _, err := d.handleConfigureLogging(context.Background(), nil, configureLoggingInput{})
	if err != nil {
		t.Fatalf("handleConfigureLogging: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "Error:") {
		t.Errorf("expected validation error, got %q", out)
	}
}

func TestConfigureLoggingUpdatesLiveLevelAndPersistsEnvFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d := newTestDispatcher(t)

	res, _, err := d.handleConfigureLogging(context.Background(), nil, configureLoggingInput{ConsoleLevel: "debug"})
	if err != nil {
		t.Fatalf("handleConfigureLogging: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "debug") {
		t.Errorf("expected confirmation mentioning the new level, got %q", out)
	}

	console, _ := d.Log.Levels()
	if console != logging.LevelDebug {
		t.Errorf("live console level = %v, want debug", console)
	}

	ef, err := config.ReadEnvFile(config.EnvFilePath())
	if err != nil {
		t.Fatalf("ReadEnvFile: %v", err)
	}
	if v, ok := ef.Get("CONSOLE_LOG_LEVEL"); !ok || v != "debug" {
		t.Errorf("persisted CONSOLE_LOG_LEVEL = %q, %v, want debug, true", v, ok)
	}
}

func TestOptimizeMemoryRunsAllOperationsByDefault(t *testing.T) {
	d := newTestDispatcher(t)
	d.Cache.Put("m1", "alpha", categoryMetadata("infra"))
	d.Cache.Put("m2", "beta", categoryMetadata("infra"))

	res, _, err := d.handleOptimizeMemory(context.Background(), nil, optimizeMemoryInput{})
	if err != nil {
		t.Fatalf("handleOptimizeMemory: %v", err)
	}
	out := extractText(res)
	for _, op := range allOptimizeOps {
		if !strings.Contains(out, op) {
			t.Errorf("expected output to mention operation %q, got %q", op, out)
		}
	}
}

func TestListProjectsSessionsAggregatesAcrossStore(t *testing.T) {
	d := newTestDispatcher(t)
	if err := d.Store.InsertWithID(store.NewID(), "one", projectSessionMetadata("p1", "s1")); err != nil {
		t.Fatalf("InsertWithID: %v", err)
	}
	if err := d.Store.InsertWithID(store.NewID(), "two", projectSessionMetadata("p1", "s1")); err != nil {
		t.Fatalf("InsertWithID: %v", err)
	}

	res, _, err := d.handleListProjectsSessions(context.Background(), nil, listProjectsSessionsInput{})
	if err != nil {
		t.Fatalf("handleListProjectsSessions: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "p1 / s1: 2 memories") {
		t.Errorf("expected aggregated group line, got %q", out)
	}
}

func TestSearchMemoriesFallsThroughToTier2AndPromotes(t *testing.T) {
	d := newTier2Dispatcher(t)
	err := d.RAMR.Set("mem_t2", []byte("notes on the quasar deploy"), ramr.SetOptions{
		Metadata:      `{"project":"astro","keywords":["quasar"]}`,
		PriorityScore: 9,
		CacheType:     "knowledge",
	})
	if err != nil {
		t.Fatalf("RAMR.Set: %v", err)
	}

	res, _, err := d.handleSearchMemories(context.Background(), nil, searchMemoriesInput{Query: "quasar", Limit: intPtr(10)})
	if err != nil {
		t.Fatalf("handleSearchMemories: %v", err)
	}
	out := extractText(res)
	if !strings.Contains(out, "mem_t2") {
		t.Errorf("expected tier-2 entry in results, got %q", out)
	}
	if !d.Cache.Has("mem_t2") {
		t.Error("priority 9 entry should have been promoted to tier-1")
	}
}

func TestStoreMemoryMirrorsIntoTier2(t *testing.T) {
	d := newTier2Dispatcher(t)
	res, _, err := d.handleStoreMemory(context.Background(), nil, storeMemoryInput{
		Content:  "tier two mirror target",
		Metadata: &metadataInput{Type: "knowledge"},
	})
	if err != nil {
		t.Fatalf("handleStoreMemory: %v", err)
	}
	firstLine, _, _ := strings.Cut(extractText(res), "\n")
	id := strings.TrimPrefix(firstLine, "Stored memory ")
	time.Sleep(50 * time.Millisecond) // tier-2 mirror is fire-and-forget

	entry, _, found, err := d.RAMR.Get(id)
	if err != nil || !found {
		t.Fatalf("RAMR.Get(%q): found=%v err=%v", id, found, err)
	}
	if string(entry.Data) != "tier two mirror target" {
		t.Errorf("tier-2 Data = %q, want the stored content", entry.Data)
	}
	if entry.CacheType != "knowledge" {
		t.Errorf("tier-2 CacheType = %q, want knowledge", entry.CacheType)
	}
}

func TestSchedulePrefetchRespectsAlreadyCachedAndMissingTargets(t *testing.T) {
	d := newTestDispatcher(t)
	d.Cache.Put("already-cached", "x", categoryMetadata(""))

	// a relationship pointing at an already-cached id must not be re-fetched,
	// and a relationship pointing nowhere real is silently skipped.
	d.schedulePrefetch([]searchResult{
		{ID: "r1", Metadata: relationshipMetadata("already-cached")},
		{ID: "r2", Metadata: relationshipMetadata("does-not-exist")},
	})
	time.Sleep(20 * time.Millisecond)

	if !d.Cache.Has("already-cached") {
		t.Error("already-cached entry should remain cached")
	}
	if d.Cache.Has("does-not-exist") {
		t.Error("a relationship target absent from the store should never be cached")
	}
}
