package main

import (
	"fmt"

	"github.com/durandal-labs/durandal-mcp/internal/cli"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
)

// runConfigure persists console/file log levels to the user env file, the
// same contract configure_logging uses from inside a running server,
// offered here for operators who want to set levels before first start.
func runConfigure(consoleLevel, fileLevel string) error {
	cli.Header("durandal-mcp configure")
	fmt.Println()

	if consoleLevel == "" && fileLevel == "" {
		console, file := config.LogLevelEnv()
		fmt.Printf("  console log level: %s\n", valueOr(console, "info"))
		fmt.Printf("  file log level:    %s\n", valueOr(file, "info"))
		fmt.Println()
		fmt.Println("  pass --console-level and/or --file-level to change them")
		return nil
	}

	if consoleLevel != "" {
		if _, err := logging.ParseLevel(consoleLevel); err != nil {
			return fmt.Errorf("invalid console level %q: %w", consoleLevel, err)
		}
	}
	if fileLevel != "" {
		if _, err := logging.ParseLevel(fileLevel); err != nil {
			return fmt.Errorf("invalid file level %q: %w", fileLevel, err)
		}
	}

	path := config.EnvFilePath()
	ef, err := config.ReadEnvFile(path)
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	if consoleLevel != "" {
		ef.Set("CONSOLE_LOG_LEVEL", consoleLevel)
	}
	if fileLevel != "" {
		ef.Set("FILE_LOG_LEVEL", fileLevel)
	}
	if err := config.WriteEnvFile(path, ef); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}

	fmt.Printf("  %s✓%s persisted to %s\n", cli.Green, cli.Reset, cli.ShortenHome(path))
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
