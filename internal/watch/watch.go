// Package watch monitors the database directory and the settings env file
// for out-of-process modification. The store does not support concurrent
// writers (Non-goal: multi-process concurrent writers to the same database
// file), so this package cannot prevent a second process from touching
// those paths; it only surfaces the fact via a debounced structured
// warning.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces bursts of events (e.g. SQLite's WAL/SHM churn)
// into a single warning instead of one per touched file.
const debounceDelay = 2 * time.Second

// Watcher watches dbDir and envPath for writes from outside this process.
type Watcher struct {
	log     *zap.Logger
	dbDir   string
	envPath string
	ownDB   string // the db file path this process itself writes; excluded from warnings

	w       *fsnotify.Watcher
	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]bool

	done chan struct{}
}

// New creates a Watcher over dbDir (the directory containing the database
// file) and envPath (the configure_logging settings file). ownDBPath is the
// absolute path of the database file this process itself owns; writes to
// it (and its -wal/-shm siblings) are expected and not reported.
func New(log *zap.Logger, dbDir, envPath, ownDBPath string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if dbDir != "" {
		if err := w.Add(dbDir); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch db dir %s: %w", dbDir, err)
		}
	}
	if envPath != "" {
		if err := w.Add(filepath.Dir(envPath)); err != nil {
			w.Close()
			return nil, fmt.Errorf("watch env dir %s: %w", filepath.Dir(envPath), err)
		}
	}
	return &Watcher{
		log:     log,
		dbDir:   dbDir,
		envPath: envPath,
		ownDB:   ownDBPath,
		w:       w,
		pending: make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching in the background. Call Stop to release resources.
func (wt *Watcher) Start() {
	go wt.run()
}

// Stop closes the underlying fsnotify watcher and waits for the run loop to
// exit.
func (wt *Watcher) Stop() {
	wt.w.Close()
	<-wt.done
}

func (wt *Watcher) run() {
	defer close(wt.done)
	for {
		select {
		case event, ok := <-wt.w.Events:
			if !ok {
				return
			}
			if !wt.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				wt.mu.Lock()
				wt.pending[event.Name] = true
				if wt.timer != nil {
					wt.timer.Stop()
				}
				wt.timer = time.AfterFunc(debounceDelay, wt.flush)
				wt.mu.Unlock()
			}
		case err, ok := <-wt.w.Errors:
			if !ok {
				return
			}
			if wt.log != nil {
				wt.log.Warn("watch error", zap.Error(err))
			}
		}
	}
}

// relevant filters events down to files this watcher actually cares about:
// the own database's WAL/SHM siblings are excluded (expected self-writes),
// everything else under dbDir and the env file itself are reported.
func (wt *Watcher) relevant(name string) bool {
	if wt.ownDB != "" {
		base := strings.TrimSuffix(wt.ownDB, filepath.Ext(wt.ownDB))
		if name == wt.ownDB || name == wt.ownDB+"-wal" || name == wt.ownDB+"-shm" || name == wt.ownDB+"-journal" || name == base+".db-wal" {
			return false
		}
	}
	if wt.envPath != "" && name == wt.envPath {
		return true
	}
	if wt.dbDir != "" && filepath.Dir(name) == wt.dbDir {
		return true
	}
	return false
}

func (wt *Watcher) flush() {
	wt.mu.Lock()
	paths := make([]string, 0, len(wt.pending))
	for p := range wt.pending {
		paths = append(paths, p)
	}
	wt.pending = make(map[string]bool)
	wt.mu.Unlock()

	if len(paths) == 0 || wt.log == nil {
		return
	}
	wt.log.Warn("unexpected external modification of managed files; this process does not support concurrent writers",
		zap.Strings("paths", paths))
}
