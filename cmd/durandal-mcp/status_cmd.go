package main

import (
	"fmt"
	"os"

	"github.com/durandal-labs/durandal-mcp/internal/cli"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
	"github.com/durandal-labs/durandal-mcp/internal/pathresolver"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// runStatus prints a point-in-time snapshot of persisted state: database
// path/size/row count, configured cache/RAMR tuning, and current log
// levels. It does not talk to a running server process; get_status (the
// MCP tool) reports the live equivalent for an already-started process.
func runStatus() error {
	cli.Header("durandal-mcp status")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	resolved, err := pathresolver.Resolve(nil)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	fmt.Printf("  database:        %s\n", cli.ShortenHome(resolved.Path))

	if info, err := os.Stat(resolved.Path); err == nil {
		fmt.Printf("  size:            %s bytes\n", cli.FormatNumber(int(info.Size())))
	} else {
		fmt.Printf("  size:            (not yet created)\n")
	}

	if db, err := store.Open(resolved.Path); err == nil {
		defer db.Close()
		if n, err := db.CountMemories(); err == nil {
			fmt.Printf("  memories:        %s\n", cli.FormatNumber(n))
		}
		fmt.Printf("  schema version:  %d\n", db.SchemaVersion())
	}

	fmt.Println()
	fmt.Printf("  cache max size:       %d\n", cfg.Cache.MaxSize)
	fmt.Printf("  cache default ttl:    %d ms\n", cfg.Cache.DefaultTTLMs)
	fmt.Printf("  ramr enabled:         %v\n", cfg.RAMR.Enabled)
	fmt.Printf("  selective attention:  %v\n", cfg.SelectiveAttention.Enabled)
	fmt.Printf("  maintenance interval: %s\n", cfg.Maintenance.RunInterval)

	console, file := config.LogLevelEnv()
	if console == "" {
		console = string(logging.LevelInfo)
	}
	if file == "" {
		file = string(logging.LevelInfo)
	}
	fmt.Println()
	fmt.Printf("  console log level: %s\n", console)
	fmt.Printf("  file log level:    %s\n", file)
	fmt.Printf("  config file:       %s\n", cli.ShortenHome(config.ConfigFilePath()))
	fmt.Println()
	return nil
}
