// Package main is the entrypoint for the durandal-mcp memory server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	var (
		runTestFlag      bool
		runStatusFlag    bool
		runDiscoverFlag  bool
		runMigrateFlag   bool
		runConfigureFlag bool
		runUpdateFlag    bool
		debug            bool
		verbose          bool
		logFile          string
		logLevel         string
		yes              bool
		consoleLevel     string
		fileLevel        string
	)

	root := &cobra.Command{
		Use:     "durandal-mcp",
		Short:   "A tiered-cache memory server for AI coding assistants, spoken over MCP",
		Version: Version,
		Long: `durandal-mcp exposes a small set of MCP tools (store_memory, search_memories,
get_context, optimize_memory, get_status, configure_logging, get_logs,
list_projects_sessions) backed by a SQLite store and a bounded in-process
cache. Run with no flags to start the stdio server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				os.Setenv("DEBUG", "true")
			}
			if verbose {
				os.Setenv("VERBOSE", "true")
			}
			if logFile != "" {
				os.Setenv("LOG_FILE", logFile)
			}
			if logLevel != "" {
				os.Setenv("LOG_LEVEL", logLevel)
			}

			switch {
			case runTestFlag:
				return runTest()
			case runStatusFlag:
				return runStatus()
			case runDiscoverFlag:
				return runDiscover()
			case runMigrateFlag:
				return runMigrate(yes)
			case runConfigureFlag:
				return runConfigure(consoleLevel, fileLevel)
			case runUpdateFlag:
				return runUpdateCheck(Version)
			default:
				return runServe(Version)
			}
		},
	}

	root.Flags().BoolVar(&runTestFlag, "test", false, "run startup checks and exit")
	root.Flags().BoolVar(&runStatusFlag, "status", false, "print server/store/cache status and exit")
	root.Flags().BoolVar(&runDiscoverFlag, "discover", false, "enumerate candidate database files and exit")
	root.Flags().BoolVar(&runMigrateFlag, "migrate", false, "merge discovered candidate databases into the canonical store")
	root.Flags().BoolVar(&yes, "yes", false, "confirm a --migrate write (required; otherwise a dry run is printed)")
	root.Flags().BoolVar(&runConfigureFlag, "configure", false, "update persisted log levels and exit")
	root.Flags().StringVar(&consoleLevel, "console-level", "", "console log level for --configure (error|warn|info|debug)")
	root.Flags().StringVar(&fileLevel, "file-level", "", "file log level for --configure (error|warn|info|debug)")
	root.Flags().BoolVar(&runUpdateFlag, "update", false, "check for a newer release and exit")
	root.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	root.Flags().BoolVar(&verbose, "verbose", false, "enable verbose console output")
	root.Flags().StringVar(&logFile, "log-file", "", "set LOG_FILE for this process (the file logger still writes dated files in its default log directory)")
	root.Flags().StringVar(&logLevel, "log-level", "", "override both console and file log levels")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
