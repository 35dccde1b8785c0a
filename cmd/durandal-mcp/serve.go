package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/durandal-labs/durandal-mcp/internal/accesspattern"
	"github.com/durandal-labs/durandal-mcp/internal/cache"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
	"github.com/durandal-labs/durandal-mcp/internal/maintenance"
	"github.com/durandal-labs/durandal-mcp/internal/mcp"
	"github.com/durandal-labs/durandal-mcp/internal/pathresolver"
	"github.com/durandal-labs/durandal-mcp/internal/ramr"
	"github.com/durandal-labs/durandal-mcp/internal/store"
	"github.com/durandal-labs/durandal-mcp/internal/watch"
)

// shutdownGrace bounds how long the server waits for in-flight handlers to
// drain after a shutdown signal.
const shutdownGrace = 5 * time.Second

// runServe wires PathResolver -> Store -> StartupChecks -> cache/RAMR/
// maintenance -> Dispatcher and blocks on the stdio MCP transport until the
// process receives SIGINT/SIGTERM or the transport closes.
func runServe(version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	console, file := config.LogLevelEnv()
	if console == "" {
		console = "info"
	}
	if file == "" {
		file = "info"
	}
	consoleLevel, err := logging.ParseLevel(console)
	if err != nil {
		consoleLevel = logging.LevelInfo
	}
	fileLevel, err := logging.ParseLevel(file)
	if err != nil {
		fileLevel = logging.LevelInfo
	}
	if config.Debug() {
		consoleLevel = logging.LevelDebug
		fileLevel = logging.LevelDebug
	}
	log, err := logging.New(logging.Options{
		ConsoleLevel: consoleLevel,
		FileLevel:    fileLevel,
		Console:      config.Verbose() || config.Debug(),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	resolved, err := pathresolver.Resolve(log)
	if err != nil {
		return fmt.Errorf("resolve database path: %w", err)
	}
	log.Info("resolved database path", zap.String("path", resolved.Path), zap.Bool("created", resolved.Created))

	db, err := store.Open(resolved.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	cfg.DatabasePath = resolved.Path

	checks, err := db.StartupChecks()
	for _, c := range checks {
		if c.OK {
			log.Info("startup check passed", zap.String("check", c.Name), zap.String("detail", c.Detail))
		} else {
			log.Warn("startup check failed", zap.String("check", c.Name), zap.Bool("fatal", c.Fatal), zap.String("detail", c.Detail))
		}
	}
	if err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	access := accesspattern.New()
	stats := accesspattern.NewStats()

	cacheCfg := cache.Config{
		MaxSize:             cfg.Cache.MaxSize,
		DefaultTTL:          time.Duration(cfg.Cache.DefaultTTLMs) * time.Millisecond,
		ImportanceThreshold: cfg.Cache.ImportanceThreshold,
		PromotionThreshold:  cfg.Cache.PromotionThreshold,
	}
	c := cache.New(cacheCfg, access, stats)

	var ramrDB *ramr.DB
	if cfg.RAMR.Enabled {
		path := cfg.RAMR.Path
		if path == "" {
			path = filepath.Join(config.UserConfigDir(), "ramr.db")
		}
		ramrDB, err = ramr.Open(path, cacheCfg.DefaultTTL)
		if err != nil {
			log.Warn("RAMR unavailable; continuing with tier-1 cache only", zap.Error(err))
		} else {
			defer ramrDB.Close()
		}
	}

	mLoop := maintenance.New(maintenance.Config{
		TickInterval:    cfg.Maintenance.TickInterval,
		RunInterval:     cfg.Maintenance.RunInterval,
		UtilizationHigh: cfg.Maintenance.UtilizationHigh,
		EvictFraction:   cfg.Maintenance.EvictFraction,
	}, c, ramrDB, log.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mLoop.Start(ctx)
	defer mLoop.Stop()

	w, err := watch.New(log.Logger, filepath.Dir(resolved.Path), config.EnvFilePath(), resolved.Path)
	if err != nil {
		log.Warn("file watcher unavailable", zap.Error(err))
	} else {
		w.Start()
		defer w.Stop()
	}

	dispatcher := mcp.New(db, c, ramrDB, access, stats, log, cfg)
	dispatcher.Checks = checks

	server := gomcp.NewServer(&gomcp.Implementation{
		Name:    "durandal-mcp",
		Version: version,
	}, nil)
	dispatcher.RegisterTools(server)

	log.Info("durandal-mcp ready", zap.String("version", version))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Run(ctx, &gomcp.StdioTransport{})
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		select {
		case err := <-serveErr:
			return err
		case <-time.After(shutdownGrace):
			log.Warn("shutdown grace period elapsed; exiting")
			return nil
		}
	}
}
