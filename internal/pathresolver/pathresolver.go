// Package pathresolver selects the canonical database file at startup
// without ever shadowing existing user data.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/discovery"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
)

// Result is the resolved path plus the context needed to explain the choice.
type Result struct {
	Path       string
	Candidates []discovery.Record // all candidates found, for logging
	Created    bool               // true if Path doesn't exist yet and will be created fresh
}

// Resolve selects the database path: explicit override, then fixed
// candidate locations, then (only if none exist) a full Discovery sweep,
// and only then permission to create a fresh database.
func Resolve(log *logging.Logger) (Result, error) {
	if override := os.Getenv("DATABASE_PATH"); override != "" {
		return Result{Path: override}, nil
	}

	fixed := fixedCandidates()
	var found []discovery.Record
	for _, c := range fixed {
		if rec, ok := statCandidate(c); ok {
			found = append(found, rec)
		}
	}

	if len(found) == 0 {
		discovered, err := discovery.Discover(discovery.Options{})
		if err == nil {
			found = append(found, discovered...)
		}
	}

	if len(found) == 0 {
		return Result{Path: config.DefaultDatabasePath(), Created: true}, nil
	}

	if len(found) == 1 {
		return Result{Path: found[0].Path, Candidates: found}, nil
	}

	best := found[0]
	for _, c := range found[1:] {
		if c.RecordCount > best.RecordCount ||
			(c.RecordCount == best.RecordCount && c.SizeBytes > best.SizeBytes) {
			best = c
		}
	}

	if log != nil {
		log.Warn("multiple candidate databases found; selecting the one with the most records",
			zap.Strings("candidates", candidateSummaries(found)),
			zap.String("selected", best.Path),
			zap.String("advice", "consolidate with --migrate to avoid this warning"),
		)
	}

	return Result{Path: best.Path, Candidates: found}, nil
}

func fixedCandidates() []string {
	var out []string
	if cwd, err := os.Getwd(); err == nil {
		out = append(out, filepath.Join(cwd, "durandal-mcp-memory.db"))
	}
	out = append(out, config.DefaultDatabasePath())
	if exe, err := os.Executable(); err == nil {
		out = append(out, filepath.Join(filepath.Dir(exe), "durandal-mcp-memory.db"))
	}
	for _, alt := range []string{"durandal-memory.db", "memories.db"} {
		if cwd, err := os.Getwd(); err == nil {
			out = append(out, filepath.Join(cwd, alt))
		}
		out = append(out, filepath.Join(config.UserConfigDir(), alt))
	}
	return out
}

func statCandidate(path string) (discovery.Record, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return discovery.Record{}, false
	}
	rec := discovery.Verify(path)
	rec.SizeBytes = info.Size()
	rec.ModTime = info.ModTime()
	return rec, true
}

func candidateSummaries(found []discovery.Record) []string {
	out := make([]string, len(found))
	for i, r := range found {
		out[i] = fmt.Sprintf("%s (%d rows)", r.Path, r.RecordCount)
	}
	return out
}
