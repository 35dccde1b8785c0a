package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRelevant_ExcludesOwnDatabaseSiblings(t *testing.T) {
	dbDir := t.TempDir()
	own := filepath.Join(dbDir, "durandal-mcp-memory.db")
	wt := &Watcher{dbDir: dbDir, ownDB: own}

	for _, name := range []string{own, own + "-wal", own + "-shm", own + "-journal"} {
		if wt.relevant(name) {
			t.Fatalf("expected own db sibling %s to be excluded", name)
		}
	}
}

func TestRelevant_ReportsOtherFilesInDBDir(t *testing.T) {
	dbDir := t.TempDir()
	own := filepath.Join(dbDir, "durandal-mcp-memory.db")
	wt := &Watcher{dbDir: dbDir, ownDB: own}

	other := filepath.Join(dbDir, "durandal-mcp-memory.db.bak")
	if !wt.relevant(other) {
		t.Fatalf("expected unrelated file in db dir to be reported")
	}
}

func TestRelevant_ReportsEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	wt := &Watcher{envPath: envPath}

	if !wt.relevant(envPath) {
		t.Fatalf("expected env file writes to be reported")
	}
	if wt.relevant(filepath.Join(dir, "other.txt")) {
		t.Fatalf("expected unrelated file outside dbDir/envPath to be ignored")
	}
}

func TestWatcher_WarnsOnExternalModification(t *testing.T) {
	dbDir := t.TempDir()
	own := filepath.Join(dbDir, "durandal-mcp-memory.db")
	if err := os.WriteFile(own, []byte("x"), 0o600); err != nil {
		t.Fatalf("seed own db: %v", err)
	}

	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)
	wt, err := New(log, dbDir, "", own)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	wt.Start()
	defer wt.Stop()

	intruder := filepath.Join(dbDir, "intruder.db")
	if err := os.WriteFile(intruder, []byte("y"), 0o600); err != nil {
		t.Fatalf("write intruder file: %v", err)
	}

	// the debounce flush logs asynchronously; give it time to fire.
	time.Sleep(debounceDelay + 500*time.Millisecond)
	if logs.FilterMessageSnippet("unexpected external modification").Len() == 0 {
		t.Fatalf("expected a warning about the external write to %s", intruder)
	}
}
