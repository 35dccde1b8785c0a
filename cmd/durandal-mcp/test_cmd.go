package main

import (
	"fmt"

	"github.com/durandal-labs/durandal-mcp/internal/cli"
	"github.com/durandal-labs/durandal-mcp/internal/pathresolver"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// runTest opens the resolved database and runs StartupChecks, printing a
// pass/fail line per check. Any fatal check failure exits non-zero.
func runTest() error {
	cli.Header("durandal-mcp startup checks")
	fmt.Println()

	resolved, err := pathresolver.Resolve(nil)
	if err != nil {
		fmt.Printf("  %s✗%s resolve database path: %s\n", cli.Red, cli.Reset, err)
		return err
	}
	fmt.Printf("  database: %s\n\n", cli.ShortenHome(resolved.Path))

	db, err := store.Open(resolved.Path)
	if err != nil {
		fmt.Printf("  %s✗%s open database: %s\n", cli.Red, cli.Reset, err)
		return err
	}
	defer db.Close()

	results, err := db.StartupChecks()
	for _, r := range results {
		if r.OK {
			if r.Detail != "" {
				fmt.Printf("  %s✓%s %s (%s)\n", cli.Green, cli.Reset, r.Name, r.Detail)
			} else {
				fmt.Printf("  %s✓%s %s\n", cli.Green, cli.Reset, r.Name)
			}
		} else {
			marker := "warning"
			if r.Fatal {
				marker = "fatal"
			}
			fmt.Printf("  %s✗%s %s (%s): %s\n", cli.Red, cli.Reset, r.Name, marker, r.Detail)
		}
	}
	fmt.Println()
	if err != nil {
		fmt.Printf("%sresult: failed%s\n", cli.Red, cli.Reset)
		return err
	}
	fmt.Printf("%sresult: ok%s\n", cli.Green, cli.Reset)
	return nil
}
