// Package maintenance implements the background maintenance loop: a
// single cancellable task that wakes on a short timer and, once the
// configured run interval has elapsed, expires TTL entries, evicts under
// high utilization, and records a last-maintenance timestamp.
package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/durandal-labs/durandal-mcp/internal/cache"
	"github.com/durandal-labs/durandal-mcp/internal/ramr"
)

// Config tunes the loop's cadence and eviction behavior.
type Config struct {
	TickInterval    time.Duration // how often the loop wakes to check
	RunInterval     time.Duration // minimum time between maintenance passes
	UtilizationHigh float64       // utilization fraction that triggers eviction
	EvictFraction   float64       // fraction evicted when utilization is high
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    7*time.Minute + 30*time.Second,
		RunInterval:     30 * time.Minute,
		UtilizationHigh: 0.8,
		EvictFraction:   0.1,
	}
}

// Loop owns the background goroutine. It is a process-wide singleton:
// construct once at boot after Store open, Stop once at shutdown.
type Loop struct {
	cfg   Config
	cache *cache.Cache
	ramr  *ramr.DB // nil if tier-2 is disabled
	log   *zap.Logger

	mu              sync.Mutex
	lastMaintenance time.Time
	running         bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Loop. ramrDB may be nil when tier-2 is disabled.
func New(cfg Config, c *cache.Cache, ramrDB *ramr.DB, log *zap.Logger) *Loop {
	return &Loop{cfg: cfg, cache: c, ramr: ramrDB, log: log}
}

// Start launches the background goroutine. It is idempotent: calling Start
// twice without an intervening Stop is a no-op.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.mu.Unlock()

	go l.run(ctx)
}

// Stop cancels the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()
	<-done

	l.mu.Lock()
	l.running = false
	l.mu.Unlock()
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.maybeRunPass()
		}
	}
}

// maybeRunPass runs a pass if RunInterval has elapsed since the last one.
// The mutex guards only the lastMaintenance check; timer-driven passes do
// not overlap because the loop goroutine is this method's only caller.
func (l *Loop) maybeRunPass() {
	l.mu.Lock()
	if time.Since(l.lastMaintenance) < l.cfg.RunInterval {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	l.RunPass()
}

// PassResult summarizes one maintenance pass.
type PassResult struct {
	CacheEvictedTTL  int
	CacheEvictedUtil int
	RAMRExpired      int
	Ran              time.Time
}

// RunPass executes one maintenance pass unconditionally: expire TTL
// entries, evict under high utilization, and record the timestamp. Exposed
// directly (not just via the timer) so tests can trigger a pass
// synchronously.
func (l *Loop) RunPass() PassResult {
	res := PassResult{Ran: time.Now().UTC()}

	defer func() {
		if r := recover(); r != nil && l.log != nil {
			l.log.Error("maintenance pass panicked; skipping this cycle", zap.Any("recover", r))
		}
	}()

	res.CacheEvictedTTL = l.cache.OptimizeCache()

	if l.cache.MaxSize() > 0 {
		utilization := float64(l.cache.Len()) / float64(l.cache.MaxSize())
		if utilization > l.cfg.UtilizationHigh {
			res.CacheEvictedUtil = l.cache.EvictLowestFraction(l.cfg.EvictFraction)
		}
	}

	if l.ramr != nil {
		if n, err := l.ramr.ExpireOld(); err == nil {
			res.RAMRExpired = n
		} else if l.log != nil {
			l.log.Warn("ramr expiry failed", zap.Error(err))
		}
	}

	l.mu.Lock()
	l.lastMaintenance = res.Ran
	l.mu.Unlock()

	if l.log != nil {
		l.log.Info("maintenance pass complete",
			zap.Int("cache_evicted_ttl", res.CacheEvictedTTL),
			zap.Int("cache_evicted_utilization", res.CacheEvictedUtil),
			zap.Int("ramr_expired", res.RAMRExpired),
		)
	}
	return res
}

// LastMaintenance returns the timestamp of the most recent pass.
func (l *Loop) LastMaintenance() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastMaintenance
}
