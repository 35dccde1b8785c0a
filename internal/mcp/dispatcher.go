// Package mcp implements the Dispatcher: the MCP tool table, argument
// validation, and the handlers that wire Cache, Store, RAMR, the Enricher,
// and access-pattern tracking together.
package mcp

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/durandal-labs/durandal-mcp/internal/accesspattern"
	"github.com/durandal-labs/durandal-mcp/internal/cache"
	"github.com/durandal-labs/durandal-mcp/internal/config"
	"github.com/durandal-labs/durandal-mcp/internal/errs"
	"github.com/durandal-labs/durandal-mcp/internal/logging"
	"github.com/durandal-labs/durandal-mcp/internal/ramr"
	"github.com/durandal-labs/durandal-mcp/internal/store"
)

// maxPrefetch bounds the number of related memories one search may prefetch.
const maxPrefetch = 10

// Dispatcher owns the tool table and the component references handlers need.
// It is constructed once at boot, after PathResolver/Store/StartupChecks.
type Dispatcher struct {
	Store  *store.DB
	Cache  *cache.Cache
	RAMR   *ramr.DB // nil when tier-2 is disabled
	Access *accesspattern.Tracker
	Stats  *accesspattern.Stats
	Log    *logging.Logger
	Cfg    *config.Config

	// Checks holds the boot-time StartupChecks results so get_status can
	// report non-fatal warnings. Set once after New, before serving.
	Checks []store.CheckResult

	startedAt  time.Time
	dbErrCount int64 // atomic; store read and write failures surfaced via get_status
	reqCounter int64 // atomic; request id source
}

// New constructs a Dispatcher from already-opened components.
func New(db *store.DB, c *cache.Cache, ramrDB *ramr.DB, access *accesspattern.Tracker, stats *accesspattern.Stats, log *logging.Logger, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		Store:     db,
		Cache:     c,
		RAMR:      ramrDB,
		Access:    access,
		Stats:     stats,
		Log:       log,
		Cfg:       cfg,
		startedAt: time.Now(),
	}
}

// nextRequestID assigns a monotonically increasing request id for trace
// spans.
func (d *Dispatcher) nextRequestID() string {
	n := atomic.AddInt64(&d.reqCounter, 1)
	return fmt.Sprintf("req_%d", n)
}

func (d *Dispatcher) recordDBError(operation string, err error) {
	atomic.AddInt64(&d.dbErrCount, 1)
	if d.Log != nil {
		d.Log.Warn("store operation failed; degrading gracefully",
			zap.String("operation", operation), zap.Error(err))
	}
}

// trace wraps a handler body with a request id / duration / outcome
// logging span.
func (d *Dispatcher) trace(ctx context.Context, tool string, argSummary string, fn func() (string, error)) (*mcp.CallToolResult, any, error) {
	reqID := d.nextRequestID()
	start := time.Now()
	if d.Log != nil && d.Cfg != nil && d.Cfg.LogMCPTools {
		d.Log.Info("tool call received", zap.String("tool", tool), zap.String("request_id", reqID), zap.String("args", argSummary))
	}

	text, err := fn()
	dur := time.Since(start)

	if err != nil {
		kind := errs.KindOf(err)
		recovery := "see logs for details"
		var tagged *errs.Error
		if errs.As(err, &tagged) {
			recovery = tagged.Recovery
		}
		if d.Log != nil {
			d.Log.Warn("tool call failed", zap.String("tool", tool), zap.String("request_id", reqID),
				zap.Duration("duration", dur), zap.String("kind", string(kind)))
		}
		return textResult(fmt.Sprintf("Error: %s\nRecovery: %s", err.Error(), recovery)), nil, nil
	}

	if d.Log != nil && d.Cfg != nil && d.Cfg.LogMCPTools {
		d.Log.Info("tool call succeeded", zap.String("tool", tool), zap.String("request_id", reqID), zap.Duration("duration", dur))
	}
	return textResult(text), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// RegisterTools adds the eight tools to server.
func (d *Dispatcher) RegisterTools(server *mcp.Server) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}
	boolPtr := func(b bool) *bool { return &b }
	writeNonDestructive := &mcp.ToolAnnotations{DestructiveHint: boolPtr(false), IdempotentHint: false}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_memory",
		Description: "Persist a textual memory with optional structured metadata (project, session, importance, categories, keywords, relationships). Returns a confirmation including the derived cache priority.\n\nArgs:\n  content: text to remember, 1-50000 characters\n  metadata: optional object (project, session, type, importance 0..1, categories, keywords, relationships)",
		Annotations: writeNonDestructive,
	}, d.handleStoreMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memories",
		Description: "Search stored memories by substring match on content, with optional filters (project, session, categories, importance range, date range). Cache results are returned first, then non-duplicate store results, truncated to limit.\n\nArgs:\n  query: substring to search for (required)\n  filters: optional object\n  limit: max results, default 10, capped at 100",
		Annotations: readOnly,
	}, d.handleSearchMemories)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_context",
		Description: "Return the most recent memories for a project/session, the matching cache entries, and optional cache statistics. Useful for orienting a new session.\n\nArgs:\n  project, session: optional filters\n  limit: default 10, capped at 50\n  include_stats: attach cache size/hit-rate/feature-flag summary",
		Annotations: readOnly,
	}, d.handleGetContext)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "optimize_memory",
		Description: "Run one or more maintenance operations against the in-process cache: cache_optimization, retention_review, pattern_analysis, relationship_update. Each reports a single-line summary. Omit operations to run all four.\n\nArgs:\n  operations: subset of [cache_optimization, retention_review, pattern_analysis, relationship_update]",
		Annotations: writeNonDestructive,
	}, d.handleOptimizeMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_status",
		Description: "Report process uptime, memory stats, store path/size, cache fill, current log levels, and aggregate database error counts.",
		Annotations: readOnly,
	}, d.handleGetStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "configure_logging",
		Description: "Update console and/or file log levels on the live logger and persist them to the user config env file. Valid levels: error, warn, info, debug. At least one of console_level/file_level must be given.\n\nArgs:\n  console_level, file_level: optional level strings",
		Annotations: writeNonDestructive,
	}, d.handleConfigureLogging)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_logs",
		Description: "Read the current JSON-lines log file, filter by minimum level and/or a substring, and return the last N matching entries.\n\nArgs:\n  lines: default 50\n  level_filter: error|warn|info|debug, optional minimum level\n  search: optional substring filter",
		Annotations: readOnly,
	}, d.handleGetLogs)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_projects_sessions",
		Description: "Aggregate stored memories by project and session, reporting counts and (optionally) a few truncated sample contents per group.\n\nArgs:\n  type: optional metadata.type filter\n  include_samples: attach up to 3 truncated sample contents per group",
		Annotations: readOnly,
	}, d.handleListProjectsSessions)
}
