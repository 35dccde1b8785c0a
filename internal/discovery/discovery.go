// Package discovery enumerates candidate database files on the host.
// It never modifies a candidate: every open is read-only, and
// symlinks outside the search roots are never followed.
package discovery

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaStatus classifies a candidate database.
type SchemaStatus string

const (
	Modern  SchemaStatus = "modern"
	Legacy  SchemaStatus = "legacy"
	Invalid SchemaStatus = "invalid"
)

// Record describes one discovered database file.
type Record struct {
	Path        string
	SizeBytes   int64
	ModTime     time.Time
	Status      SchemaStatus
	RecordCount int
}

const defaultWalkDepth = 3

var skipDirNames = map[string]bool{
	"node_modules": true, ".git": true, ".hg": true, ".svn": true,
	"dist": true, "build": true, "target": true, "out": true,
	".cache": true, "Cache": true, "tmp": true, ".Trash": true,
	"Library": true, "System": true, "Windows": true, "proc": true, "sys": true,
}

// candidateNames are exact filename matches (no globbing needed).
var candidateNames = map[string]bool{
	"durandal-mcp-memory.db": true,
	"durandal-memory.db":     true,
	"memories.db":            true,
}

// isCandidateName reports whether a filename matches any known pattern:
// exact legacy names, durandal*.db, *memory*.db,
// *durandal*.db, or any .db file whose name mentions durandal or memory.
func isCandidateName(name string) bool {
	lower := strings.ToLower(name)
	if candidateNames[lower] {
		return true
	}
	if !strings.HasSuffix(lower, ".db") {
		return false
	}
	if strings.HasPrefix(lower, "durandal") {
		return true
	}
	return strings.Contains(lower, "memory") || strings.Contains(lower, "durandal")
}

// SearchRoots composes the platform-specific set of directories worth
// sweeping for stray databases.
func SearchRoots() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	roots := []string{
		home,
		filepath.Join(home, ".durandal-mcp"),
		filepath.Join(home, ".durandal"),
	}

	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
		dir := cwd
		for i := 0; i < 5; i++ {
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			roots = append(roots, parent)
			dir = parent
		}
	}

	if runtime.GOOS == "windows" {
		if v := os.Getenv("APPDATA"); v != "" {
			roots = append(roots, v)
		}
		if v := os.Getenv("LOCALAPPDATA"); v != "" {
			roots = append(roots, v)
		}
		roots = append(roots, `C:\Projects`)
	} else {
		roots = append(roots,
			"/usr/local", "/opt", "/var/lib",
			filepath.Join(home, "Documents"),
			filepath.Join(home, "Projects"),
		)
	}

	return dedupeStrings(roots)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" {
			continue
		}
		key := strings.ToLower(filepath.Clean(s))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// Options configures a discovery run.
type Options struct {
	Roots    []string
	MaxDepth int
}

// defaultSweep memoizes the default-root walk so PathResolver and the CLI
// commands can each consult it within one process run without re-walking
// the filesystem. Explicit Options.Roots bypass the cache.
var defaultSweep struct {
	mu      sync.Mutex
	key     string
	records []Record
	done    bool
}

// Discover walks the search roots (or Options.Roots if set) up to MaxDepth
// and returns every verified candidate, deduplicated by resolved absolute
// path and sorted by record count desc, then size desc.
func Discover(opts Options) ([]Record, error) {
	roots := opts.Roots
	cacheable := roots == nil
	if roots == nil {
		roots = SearchRoots()
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultWalkDepth
	}

	var cacheKey string
	if cacheable {
		cacheKey = fmt.Sprintf("%d\x00%s", maxDepth, strings.Join(roots, "\x00"))
		defaultSweep.mu.Lock()
		if defaultSweep.done && defaultSweep.key == cacheKey {
			out := append([]Record(nil), defaultSweep.records...)
			defaultSweep.mu.Unlock()
			return out, nil
		}
		defaultSweep.mu.Unlock()
	}

	seen := make(map[string]bool)
	var records []Record

	for _, root := range roots {
		walkRoot(root, maxDepth, func(path string, info os.FileInfo) {
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			key := abs
			if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
				key = strings.ToLower(abs)
			}
			if seen[key] {
				return
			}
			seen[key] = true

			rec := Verify(abs)
			rec.SizeBytes = info.Size()
			rec.ModTime = info.ModTime()
			records = append(records, rec)
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].RecordCount != records[j].RecordCount {
			return records[i].RecordCount > records[j].RecordCount
		}
		return records[i].SizeBytes > records[j].SizeBytes
	})

	if cacheable {
		defaultSweep.mu.Lock()
		defaultSweep.key = cacheKey
		defaultSweep.records = append([]Record(nil), records...)
		defaultSweep.done = true
		defaultSweep.mu.Unlock()
	}
	return records, nil
}

func walkRoot(root string, maxDepth int, visit func(path string, info os.FileInfo)) {
	rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best-effort walk, skip unreadable entries
		}
		if d.IsDir() {
			if d.Name() != filepath.Base(root) && skipDirNames[d.Name()] {
				return filepath.SkipDir
			}
			depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
			if depth > maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if !isCandidateName(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr
		}
		if info.Size() == 0 {
			return nil
		}
		visit(path, info)
		return nil
	})
}

// Verify opens path read-only and classifies its schema without modifying
// it. Any failure to open or query classifies the candidate as Invalid.
func Verify(path string) Record {
	rec := Record{Path: path, Status: Invalid}

	dsn := "file:" + path + "?mode=ro&immutable=0"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return rec
	}
	defer db.Close()

	if hasTable(db, "memories") {
		rec.Status = Modern
		rec.RecordCount = countRows(db, "memories")
		return rec
	}
	if hasTable(db, "projects") || hasTable(db, "conversation_sessions") || hasTable(db, "conversation_messages") {
		rec.Status = Legacy
		rec.RecordCount = countRows(db, "conversation_messages")
		return rec
	}
	return rec
}

func hasTable(db *sql.DB, name string) bool {
	var n int
	err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name = ?`, name).Scan(&n)
	return err == nil && n > 0
}

func countRows(db *sql.DB, table string) int {
	var n int
	// table name is one of a fixed, internally-known set, never user input.
	if err := db.QueryRow(`SELECT count(*) FROM ` + table).Scan(&n); err != nil {
		return 0
	}
	return n
}
