package main

import (
	"fmt"

	"github.com/durandal-labs/durandal-mcp/internal/cli"
	"github.com/durandal-labs/durandal-mcp/internal/discovery"
)

// runDiscover enumerates candidate database files on the host
// without modifying any of them and prints what it found.
func runDiscover() error {
	cli.Header("durandal-mcp discovery")
	fmt.Println()

	records, err := discovery.Discover(discovery.Options{})
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("  no candidate databases found")
		return nil
	}

	for _, r := range records {
		fmt.Printf("  %s%-7s%s %-60s  %8s rows  %8s bytes\n",
			statusColor(r.Status), r.Status, cli.Reset, cli.ShortenHome(r.Path),
			cli.FormatNumber(r.RecordCount), cli.FormatNumber(int(r.SizeBytes)))
	}
	fmt.Println()
	fmt.Printf("  %d candidate(s) found. Run --migrate --yes to merge them into one canonical database.\n", len(records))
	return nil
}

func statusColor(s discovery.SchemaStatus) string {
	switch s {
	case discovery.Modern:
		return cli.Green
	case discovery.Legacy:
		return cli.Dim
	default:
		return cli.Red
	}
}
