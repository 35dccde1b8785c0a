package main

import (
	"fmt"

	"github.com/durandal-labs/durandal-mcp/internal/cli"
	"github.com/durandal-labs/durandal-mcp/internal/discovery"
	"github.com/durandal-labs/durandal-mcp/internal/migrate"
	"github.com/durandal-labs/durandal-mcp/internal/pathresolver"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// runMigrate discovers candidate databases and merges the ones other than
// the canonical target into it. Without --yes the run is a dry run:
// it reports what would change but writes nothing, matching the "requires
// explicit confirmation before writing" contract.
func runMigrate(confirmed bool) error {
	cli.Header("durandal-mcp migration")
	fmt.Println()

	resolved, err := pathresolver.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}

	target, err := store.Open(resolved.Path)
	if err != nil {
		return fmt.Errorf("open target database: %w", err)
	}
	defer target.Close()

	candidates, err := discovery.Discover(discovery.Options{})
	if err != nil {
		return fmt.Errorf("discover sources: %w", err)
	}

	var sources []string
	for _, c := range candidates {
		if c.Path == resolved.Path || c.Status == discovery.Invalid {
			continue
		}
		sources = append(sources, c.Path)
	}
	if len(sources) == 0 {
		fmt.Println("  no other candidate databases to merge")
		return nil
	}

	if !confirmed {
		fmt.Printf("  target: %s\n", cli.ShortenHome(resolved.Path))
		fmt.Println("  sources:")
		for _, s := range sources {
			fmt.Printf("    - %s\n", cli.ShortenHome(s))
		}
		fmt.Println()
		fmt.Println("  dry run only; re-run with --migrate --yes to write")
	}

	results, err := migrate.Run(target, sources, !confirmed)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	totals := migrate.Total(results)
	for _, r := range results {
		if r.Err != nil {
			fmt.Printf("  %s✗%s %s: %s\n", cli.Red, cli.Reset, cli.ShortenHome(r.SourcePath), r.Err)
			continue
		}
		fmt.Printf("  %s✓%s %s: migrated=%d duplicates=%d errors=%d\n",
			cli.Green, cli.Reset, cli.ShortenHome(r.SourcePath), r.Stats.Migrated, r.Stats.Duplicates, r.Stats.Errors)
	}
	fmt.Println()
	fmt.Printf("  total: migrated=%d duplicates=%d errors=%d\n", totals.Migrated, totals.Duplicates, totals.Errors)

	if confirmed {
		rows, distinct, err := migrate.Verify(target)
		if err != nil {
			return fmt.Errorf("verify target: %w", err)
		}
		fmt.Printf("  target now has %d rows from %d source database(s)\n", rows, distinct)
	}
	return nil
}
