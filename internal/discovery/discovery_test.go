package discovery

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestIsCandidateName(t *testing.T) {
	cases := map[string]bool{
		"durandal-mcp-memory.db": true,
		"memories.db":            true,
		"durandal-memory.db":     true,
		"DURANDAL-STUFF.DB":      true,
		"my-memory.db":           true,
		"old-durandal-vault.db":  true,
		"notes.txt":              false,
		"random.db":              false,
	}
	for name, want := range cases {
		if got := isCandidateName(name); got != want {
			t.Errorf("isCandidateName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestDedupeStringsCaseInsensitiveAndEmpty(t *testing.T) {
	in := []string{"/a/b", "/A/B", "", "/c"}
	got := dedupeStrings(in)
	if len(got) != 2 {
		t.Fatalf("dedupeStrings = %v, want 2 entries", got)
	}
}

func makeSQLiteFile(t *testing.T, dir, name string, setup func(*sql.DB)) string {
	t.Helper()
	path := filepath.Join(dir, name)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	setup(db)
	return path
}

func TestVerifyClassifiesModern(t *testing.T) {
	dir := t.TempDir()
	path := makeSQLiteFile(t, dir, "modern.db", func(db *sql.DB) {
		db.Exec(`CREATE TABLE memories (id TEXT, content TEXT)`)
		db.Exec(`INSERT INTO memories (id, content) VALUES ('1', 'x'), ('2', 'y')`)
	})
	rec := Verify(path)
	if rec.Status != Modern {
		t.Errorf("Status = %v, want Modern", rec.Status)
	}
	if rec.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", rec.RecordCount)
	}
}

func TestVerifyClassifiesLegacy(t *testing.T) {
	dir := t.TempDir()
	path := makeSQLiteFile(t, dir, "legacy.db", func(db *sql.DB) {
		db.Exec(`CREATE TABLE projects (id TEXT)`)
		db.Exec(`CREATE TABLE conversation_messages (id TEXT)`)
		db.Exec(`INSERT INTO conversation_messages (id) VALUES ('1')`)
	})
	rec := Verify(path)
	if rec.Status != Legacy {
		t.Errorf("Status = %v, want Legacy", rec.Status)
	}
	if rec.RecordCount != 1 {
		t.Errorf("RecordCount = %d, want 1", rec.RecordCount)
	}
}

func TestVerifyClassifiesInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.db")
	if err := os.WriteFile(path, []byte("not a sqlite file"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	rec := Verify(path)
	if rec.Status != Invalid {
		t.Errorf("Status = %v, want Invalid", rec.Status)
	}
}

func TestDiscoverFindsAndSortsCandidates(t *testing.T) {
	dir := t.TempDir()
	makeSQLiteFile(t, dir, "memories.db", func(db *sql.DB) {
		db.Exec(`CREATE TABLE memories (id TEXT)`)
		db.Exec(`INSERT INTO memories (id) VALUES ('1')`)
	})
	sub := filepath.Join(dir, "nested")
	os.MkdirAll(sub, 0o755)
	makeSQLiteFile(t, sub, "durandal-memory.db", func(db *sql.DB) {
		db.Exec(`CREATE TABLE memories (id TEXT)`)
		db.Exec(`INSERT INTO memories (id) VALUES ('1'), ('2'), ('3')`)
	})
	// Non-candidate name should never surface.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o644)

	records, err := Discover(Options{Roots: []string{dir}, MaxDepth: 3})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(records), records)
	}
	if records[0].RecordCount != 3 {
		t.Errorf("expected highest record-count candidate first, got %+v", records[0])
	}
}

func TestDiscoverSkipsEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memories.db")
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	records, err := Discover(Options{Roots: []string{dir}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty file to be skipped, got %+v", records)
	}
}
