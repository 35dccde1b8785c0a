// Package logging provides the server's structured JSON-lines logger.
//
// Two independent zap cores back a single logger: a console core writing
// human-readable lines to stderr (attached only when Options.Console is
// set), and a file core writing JSON-lines to the
// daily log file under the logs directory. Each core has its own atomic
// level so configure_logging can raise or lower console and file verbosity
// independently, without closing and reopening either sink.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the four levels the MCP contract recognizes.
type Level string

const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel validates and normalizes a level string. Returns an error for
// anything other than error|warn|info|debug.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid log level %q: must be one of error, warn, info, debug", s)
	}
}

// Logger wraps a *zap.Logger with dynamically adjustable console/file levels
// and a handle to the rotating file sink, so get_logs can read it back.
type Logger struct {
	*zap.Logger

	mu           sync.Mutex
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	logDir       string
	currentFile  string
	sink         *rotatingWriter
}

// Options configures the logger at construction time.
type Options struct {
	LogDir       string // directory holding dated JSON-lines files
	ConsoleLevel Level
	FileLevel    Level
	Console      bool // whether to attach the console core (false in --test runs)
}

// New builds a Logger with a rotating JSON file core, plus a console core
// when opts.Console is set.
func New(opts Options) (*Logger, error) {
	if opts.LogDir == "" {
		opts.LogDir = defaultLogDir()
	}
	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if opts.ConsoleLevel == "" {
		opts.ConsoleLevel = LevelInfo
	}
	if opts.FileLevel == "" {
		opts.FileLevel = LevelInfo
	}

	consoleAtom := zap.NewAtomicLevelAt(opts.ConsoleLevel.zapLevel())
	fileAtom := zap.NewAtomicLevelAt(opts.FileLevel.zapLevel())

	sink := newRotatingWriter(opts.LogDir)
	fileEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		NameKey:        "logger",
		CallerKey:      "",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	})

	cores := []zapcore.Core{zapcore.NewCore(fileEncoder, sink, fileAtom)}
	if opts.Console {
		consoleEncoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			MessageKey:     "message",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		})
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stderr), consoleAtom))
	}

	core := zapcore.NewTee(cores...)
	zl := zap.New(core)

	return &Logger{
		Logger:       zl,
		consoleLevel: &consoleAtom,
		fileLevel:    &fileAtom,
		logDir:       opts.LogDir,
		sink:         sink,
	}, nil
}

func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".durandal-mcp", "logs")
}

// SetLevels updates console and/or file levels on the live logger. An empty
// Level leaves that sink's level unchanged.
func (l *Logger) SetLevels(console, file Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if console != "" {
		l.consoleLevel.SetLevel(console.zapLevel())
	}
	if file != "" {
		l.fileLevel.SetLevel(file.zapLevel())
	}
	return nil
}

// Levels returns the current console and file levels.
func (l *Logger) Levels() (console, file Level) {
	return levelFromZap(l.consoleLevel.Level()), levelFromZap(l.fileLevel.Level())
}

func levelFromZap(zl zapcore.Level) Level {
	switch zl {
	case zapcore.ErrorLevel:
		return LevelError
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.DebugLevel:
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogDir returns the directory log files are written to.
func (l *Logger) LogDir() string { return l.logDir }

// CurrentLogFile returns the path of today's JSON-lines log file.
func (l *Logger) CurrentLogFile() string {
	return l.sink.currentPath()
}

// rotatingWriter is a zapcore.WriteSyncer that rolls over to a new file
// named by date, or early if the current file exceeds rotateSize, and prunes
// files older than retainDays whenever it opens a new daily file.
type rotatingWriter struct {
	mu         sync.Mutex
	dir        string
	f          *os.File
	path       string
	day        string // date stamp of the currently open file
	size       int64
	rotateSize int64
	retainDays int
}

const (
	defaultRotateSize = 10 * 1024 * 1024 // 10MB
	defaultRetainDays = 7
)

func newRotatingWriter(dir string) *rotatingWriter {
	return &rotatingWriter{dir: dir, rotateSize: defaultRotateSize, retainDays: defaultRetainDays}
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensureOpen(); err != nil {
		return 0, err
	}
	n, err := w.f.Write(p)
	w.size += int64(n)
	if w.size >= w.rotateSize {
		w.rotate()
	}
	return n, err
}

func (w *rotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

func (w *rotatingWriter) currentPath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ensureOpen()
	return w.path
}

func (w *rotatingWriter) ensureOpen() error {
	day := time.Now().UTC().Format("2006-01-02")
	// A same-day size rotation leaves w.path pointing at a numbered file;
	// only the date rolling over forces a reopen.
	if w.f != nil && w.day == day {
		return nil
	}
	if w.f != nil {
		w.f.Close()
	}
	wantPath := filepath.Join(w.dir, day+".log")
	f, err := os.OpenFile(wantPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, _ := f.Stat()
	w.f = f
	w.path = wantPath
	w.day = day
	if info != nil {
		w.size = info.Size()
	}
	w.pruneOld()
	return nil
}

func (w *rotatingWriter) rotate() {
	// Daily filenames already roll the file forward at midnight; for
	// same-day overflow past rotateSize, append a numbered suffix.
	base := time.Now().UTC().Format("2006-01-02")
	for i := 1; ; i++ {
		candidate := filepath.Join(w.dir, fmt.Sprintf("%s.%d.log", base, i))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			if w.f != nil {
				w.f.Close()
			}
			f, err := os.OpenFile(candidate, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				w.f = f
				w.path = candidate
				w.day = base
				w.size = 0
			}
			return
		}
	}
}

func (w *rotatingWriter) pruneOld() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -w.retainDays)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(w.dir, e.Name()))
		}
	}
}
