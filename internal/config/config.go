// Package config loads durandal-mcp's configuration. Precedence is
// environment variables, then the user TOML config file
// (<home>/.durandal-mcp/config.toml), then built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// CacheConfig tunes the tier-1 in-process cache.
type CacheConfig struct {
	MaxSize             int     `toml:"max_size"`
	DefaultTTLMs        int     `toml:"default_ttl_ms"`
	ImportanceThreshold float64 `toml:"importance_threshold"`
	PromotionThreshold  float64 `toml:"promotion_threshold"`
}

// RAMRConfig tunes the optional tier-2 persistent cache.
type RAMRConfig struct {
	Enabled        bool    `toml:"enabled"`
	Prefetch       bool    `toml:"prefetch"`
	CacheThreshold float64 `toml:"cache_threshold"` // priority_score above which tier-2 reads promote to tier-1
	Path           string  `toml:"path"`
}

// SelectiveAttentionConfig tunes the retention-review maintenance operation.
type SelectiveAttentionConfig struct {
	Enabled           bool    `toml:"enabled"`
	RetentionThresh   float64 `toml:"retention_threshold"`
	ArchiveAfterDays  int     `toml:"archive_after_days"`
	PatternMinSupport int     `toml:"pattern_min_support"`
}

// UpdateCheckConfig controls the (out-of-core-scope) update notifier; the
// server only needs to know whether to invoke it and how often.
type UpdateCheckConfig struct {
	Enabled      bool          `toml:"enabled"`
	Notify       bool          `toml:"notify"`
	Interval     time.Duration `toml:"interval"`
	SkipOnNoFlag bool          `toml:"-"` // set by NO_UPDATE_CHECK
}

// MaintenanceConfig tunes the background maintenance loop.
type MaintenanceConfig struct {
	TickInterval    time.Duration `toml:"tick_interval"`
	RunInterval     time.Duration `toml:"run_interval"`
	UtilizationHigh float64       `toml:"utilization_high"`
	EvictFraction   float64       `toml:"evict_fraction"`
}

// Config is the fully merged configuration.
type Config struct {
	DatabasePath       string                   `toml:"-"` // from DATABASE_PATH only, never the TOML file
	Cache              CacheConfig              `toml:"cache"`
	RAMR               RAMRConfig               `toml:"ramr"`
	SelectiveAttention SelectiveAttentionConfig `toml:"selective_attention"`
	UpdateCheck        UpdateCheckConfig        `toml:"update_check"`
	Maintenance        MaintenanceConfig        `toml:"maintenance"`
	LogMCPTools        bool                     `toml:"log_mcp_tools"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			MaxSize:             1000,
			DefaultTTLMs:        3_600_000,
			ImportanceThreshold: 0.5,
			PromotionThreshold:  0.7,
		},
		RAMR: RAMRConfig{
			Enabled:        false,
			Prefetch:       true,
			CacheThreshold: 7.0,
		},
		SelectiveAttention: SelectiveAttentionConfig{
			Enabled:           true,
			RetentionThresh:   0.3,
			ArchiveAfterDays:  30,
			PatternMinSupport: 2,
		},
		UpdateCheck: UpdateCheckConfig{
			Enabled:  true,
			Notify:   true,
			Interval: 24 * time.Hour,
		},
		Maintenance: MaintenanceConfig{
			TickInterval:    7*time.Minute + 30*time.Second,
			RunInterval:     30 * time.Minute,
			UtilizationHigh: 0.8,
			EvictFraction:   0.1,
		},
	}
}

// Load merges defaults < TOML config file < environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := ConfigFilePath(); path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v, ok := envInt("CACHE_MAX_SIZE"); ok {
		cfg.Cache.MaxSize = v
	}
	if v, ok := envInt("CACHE_TTL"); ok {
		cfg.Cache.DefaultTTLMs = v
	}
	if v, ok := envFloat("CACHE_IMPORTANCE_THRESHOLD"); ok {
		cfg.Cache.ImportanceThreshold = v
	}
	if v, ok := envBool("RAMR_ENABLED"); ok {
		cfg.RAMR.Enabled = v
	}
	if v, ok := envBool("RAMR_PREFETCH"); ok {
		cfg.RAMR.Prefetch = v
	}
	if v, ok := envFloat("RAMR_CACHE_THRESHOLD"); ok {
		cfg.RAMR.CacheThreshold = v
	}
	if v, ok := envBool("SELECTIVE_ATTENTION_ENABLED"); ok {
		cfg.SelectiveAttention.Enabled = v
	}
	if v, ok := envFloat("RETENTION_THRESHOLD"); ok {
		cfg.SelectiveAttention.RetentionThresh = v
	}
	if v, ok := envInt("ARCHIVE_AFTER_DAYS"); ok {
		cfg.SelectiveAttention.ArchiveAfterDays = v
	}
	if v, ok := envBool("NO_UPDATE_CHECK"); ok && v {
		cfg.UpdateCheck.Enabled = false
		cfg.UpdateCheck.SkipOnNoFlag = true
	}
	if v, ok := envBool("UPDATE_CHECK_ENABLED"); ok {
		cfg.UpdateCheck.Enabled = v
	}
	if v, ok := envBool("UPDATE_NOTIFICATION"); ok {
		cfg.UpdateCheck.Notify = v
	}
	if v, ok := envInt("UPDATE_CHECK_INTERVAL"); ok {
		cfg.UpdateCheck.Interval = time.Duration(v) * time.Second
	}
	if v, ok := envBool("LOG_MCP_TOOLS"); ok {
		cfg.LogMCPTools = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// HomeDir returns the user's home directory, falling back to "." when it
// cannot be determined (e.g. in a minimal container).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return home
}

// UserConfigDir returns <home>/.durandal-mcp, creating it if absent.
func UserConfigDir() string {
	dir := filepath.Join(HomeDir(), ".durandal-mcp")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// ConfigFilePath returns the path of the TOML config file.
func ConfigFilePath() string {
	return filepath.Join(UserConfigDir(), "config.toml")
}

// EnvFilePath returns the path of the small KEY=VALUE settings file that
// configure_logging persists to.
func EnvFilePath() string {
	return filepath.Join(UserConfigDir(), ".env")
}

// DefaultDatabasePath is the canonical database location absent any
// discovered or configured alternative.
func DefaultDatabasePath() string {
	return filepath.Join(UserConfigDir(), "durandal-mcp-memory.db")
}

// LogLevelEnv reads the console/file log level overrides, falling back to
// LOG_LEVEL for either when the specific variable is unset.
func LogLevelEnv() (console, file string) {
	fallback := os.Getenv("LOG_LEVEL")
	console = os.Getenv("CONSOLE_LOG_LEVEL")
	if console == "" {
		console = fallback
	}
	file = os.Getenv("FILE_LOG_LEVEL")
	if file == "" {
		file = fallback
	}
	return console, file
}

// LogFilePath returns LOG_FILE if set. The logger does not read it: it
// always writes dated files under its own log directory (see
// internal/logging).
func LogFilePath() string {
	return os.Getenv("LOG_FILE")
}

// ErrorLogFilePath returns ERROR_LOG_FILE if set.
func ErrorLogFilePath() string {
	return os.Getenv("ERROR_LOG_FILE")
}

// Verbose reports whether VERBOSE is truthy.
func Verbose() bool {
	b, _ := envBool("VERBOSE")
	return b
}

// Debug reports whether DEBUG is truthy.
func Debug() bool {
	b, _ := envBool("DEBUG")
	return b
}

// ReadEnvFile parses the KEY=VALUE settings file, preserving line order and
// comments so WriteEnvFile can round-trip it. Missing file returns an empty,
// valid EnvFile.
func ReadEnvFile(path string) (*EnvFile, error) {
	ef := &EnvFile{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ef, nil
		}
		return nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		ef.lines = append(ef.lines, line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if k, v, ok := strings.Cut(trimmed, "="); ok {
			if ef.values == nil {
				ef.values = make(map[string]string)
			}
			ef.values[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return ef, nil
}

// EnvFile is an in-memory, comment-preserving view of a KEY=VALUE file.
type EnvFile struct {
	lines  []string
	values map[string]string
}

// Get returns a key's value and whether it was present.
func (ef *EnvFile) Get(key string) (string, bool) {
	v, ok := ef.values[key]
	return v, ok
}

// Set updates key in place if present, or appends a new line.
func (ef *EnvFile) Set(key, value string) {
	if ef.values == nil {
		ef.values = make(map[string]string)
	}
	for i, line := range ef.lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") || trimmed == "" {
			continue
		}
		if k, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(k) == key {
			ef.lines[i] = key + "=" + value
			ef.values[key] = value
			return
		}
	}
	ef.lines = append(ef.lines, key+"="+value)
	ef.values[key] = value
}

// WriteEnvFile persists the file to path, creating parent directories as
// needed. A trailing newline is always written.
func WriteEnvFile(path string, ef *EnvFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := strings.Join(ef.lines, "\n")
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
