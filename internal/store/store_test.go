package store

import (
	"testing"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/memory"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStoreAndRetrieve(t *testing.T) {
	db := openTestDB(t)
	importance := 0.9
	id, err := db.StoreMemory("hello world", memory.Metadata{Project: "p1", Importance: &importance})
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	got, ok, err := db.GetMemoryByID(id)
	if err != nil || !ok {
		t.Fatalf("GetMemoryByID(%q) = %+v, %v, %v", id, got, ok, err)
	}
	if got.Content != "hello world" {
		t.Errorf("Content = %q, want %q", got.Content, "hello world")
	}
	if got.Metadata.Project != "p1" {
		t.Errorf("Project = %q, want p1", got.Metadata.Project)
	}
}

func TestStoreMemoryValidatesContent(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.StoreMemory("", memory.Metadata{}); err == nil {
		t.Error("expected error storing empty content")
	}
	if n, _ := db.CountMemories(); n != 0 {
		t.Errorf("invalid store should not have inserted a row, count = %d", n)
	}
}

func TestStoreMemoryValidatesImportance(t *testing.T) {
	db := openTestDB(t)
	bad := 1.5
	if _, err := db.StoreMemory("x", memory.Metadata{Importance: &bad}); err == nil {
		t.Error("expected error for out-of-range importance")
	}
	if n, _ := db.CountMemories(); n != 0 {
		t.Errorf("invalid store should not have inserted a row, count = %d", n)
	}
}

func TestSearchMemoriesSubstringCaseInsensitive(t *testing.T) {
	db := openTestDB(t)
	db.StoreMemory("Hello World", memory.Metadata{Project: "p1"})
	db.StoreMemory("goodbye", memory.Metadata{Project: "p1"})

	results, err := db.SearchMemories("hello", Filters{}, 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(results) != 1 || results[0].Content != "Hello World" {
		t.Fatalf("expected 1 case-insensitive match, got %+v", results)
	}
}

func TestSearchMemoriesFilterByProject(t *testing.T) {
	db := openTestDB(t)
	db.StoreMemory("alpha", memory.Metadata{Project: "A"})
	db.StoreMemory("bravo", memory.Metadata{Project: "B"})

	results, err := db.SearchMemories("a", Filters{Project: "A"}, 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(results) != 1 || results[0].Content != "alpha" {
		t.Fatalf("expected only project A's memory, got %+v", results)
	}
}

func TestSearchMemoriesLimitClamp(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		db.StoreMemory("match me", memory.Metadata{})
	}
	results, err := db.SearchMemories("match", Filters{}, 0)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("limit 0 should return empty, got %d", len(results))
	}

	results, err = db.SearchMemories("match", Filters{}, 1000)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(results) != 5 {
		t.Errorf("expected all 5 stored results under the 100 cap, got %d", len(results))
	}
}

func TestGetRecentMemoriesOrderAndLimit(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		if _, err := db.StoreMemory("memory", memory.Metadata{}); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	results, err := db.GetRecentMemories("", "", 2)
	if err != nil {
		t.Fatalf("GetRecentMemories: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results capped by limit, got %d", len(results))
	}
}

func TestGetMemoryByIDMissing(t *testing.T) {
	db := openTestDB(t)
	_, ok, err := db.GetMemoryByID("does-not-exist")
	if err != nil {
		t.Fatalf("GetMemoryByID: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing id")
	}
}

func TestNewIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestStartupChecksPassOnFreshDB(t *testing.T) {
	db := openTestDB(t)
	results, err := db.StartupChecks()
	if err != nil {
		t.Fatalf("StartupChecks: %v", err)
	}
	names := map[string]CheckResult{}
	for _, r := range results {
		names[r.Name] = r
	}
	for _, want := range []string{"connectivity", "schema", "read_write_probe", "integrity"} {
		r, ok := names[want]
		if !ok {
			t.Fatalf("missing check result %q", want)
		}
		if !r.OK {
			t.Errorf("check %q = %+v, want OK", want, r)
		}
	}
	if n, _ := db.CountMemories(); n != 0 {
		t.Errorf("read/write probe row should be cleaned up, count = %d", n)
	}
}

func TestListProjectSessionsGroupsAndSamples(t *testing.T) {
	db := openTestDB(t)
	db.StoreMemory("alpha one", memory.Metadata{Project: "p1", Session: "s1"})
	db.StoreMemory("alpha two", memory.Metadata{Project: "p1", Session: "s1"})
	db.StoreMemory("bravo", memory.Metadata{Project: "p2", Session: "s2"})

	groups, err := db.ListProjectSessions("", false)
	if err != nil {
		t.Fatalf("ListProjectSessions: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(groups), groups)
	}
	for _, g := range groups {
		if g.Samples != nil {
			t.Errorf("samples should be nil when includeSamples=false, got %+v", g.Samples)
		}
	}

	withSamples, err := db.ListProjectSessions("", true)
	if err != nil {
		t.Fatalf("ListProjectSessions with samples: %v", err)
	}
	var found bool
	for _, g := range withSamples {
		if g.Project == "p1" && g.Session == "s1" {
			found = true
			if g.Count != 2 {
				t.Errorf("p1/s1 count = %d, want 2", g.Count)
			}
			if len(g.Samples) == 0 {
				t.Errorf("expected samples for p1/s1 group")
			}
		}
	}
	if !found {
		t.Fatal("expected to find p1/s1 group")
	}
}
