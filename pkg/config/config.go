// Package config handles Muninn configuration via YAML files and environment
// variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (MUNINN_*)
//  2. Config file (config.yaml)
//  3. Built-in defaults
//
// Example usage:
//
//	cfg, err := config.LoadFromFile(config.FindConfigFile())
//	if err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	fmt.Printf("data dir: %s\n", cfg.Database.DataDir)
//
// Environment variables (all use the MUNINN_ prefix):
//
// Database:
//   - MUNINN_DATA_DIR="./data" (empty keeps everything in memory)
//   - MUNINN_SNAPSHOT_FORMAT="car" | "dag-json" | "jsonl"
//   - MUNINN_WAL_ENABLED=true
//   - MUNINN_WAL_SYNC_MODE="batch" | "immediate" | "none"
//   - MUNINN_WAL_SYNC_INTERVAL="100ms"
//
// Query:
//   - MUNINN_MAX_ROWS=0 (0 = unlimited)
//   - MUNINN_QUERY_TIMEOUT="30s" (0 = no timeout)
//   - MUNINN_DEFAULT_ISOLATION="READ_COMMITTED"
//
// Logging:
//   - MUNINN_LOG_LEVEL="info"
//   - MUNINN_LOG_FORMAT="text" | "json"
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all Muninn configuration, organized into sections.
type Config struct {
	Database DatabaseConfig
	Query    QueryConfig
	Logging  LoggingConfig
}

// DatabaseConfig controls storage and durability.
type DatabaseConfig struct {
	// DataDir is the root directory for the WAL and the snapshot blob
	// store. Empty keeps everything in memory, which is the mode tests and
	// embedded callers usually want.
	DataDir string

	// SnapshotFormat is the default encoding for saved snapshots:
	// "dag-json", "jsonl" or "car".
	SnapshotFormat string

	// WALEnabled turns the write-ahead log on. Requires DataDir.
	WALEnabled bool

	// WALSyncMode controls when WAL writes reach disk: "immediate" fsyncs
	// every append, "batch" fsyncs on a timer, "none" leaves it to the OS.
	WALSyncMode string

	// WALSyncInterval is the fsync period for "batch" mode.
	WALSyncInterval time.Duration
}

// QueryConfig controls query execution.
type QueryConfig struct {
	// MaxRows caps the intermediate row count of one query. 0 is unlimited.
	MaxRows int

	// Timeout bounds one query's execution. 0 disables the bound.
	Timeout time.Duration

	// DefaultIsolation is the isolation level used by writes that do not
	// ask for one: READ_UNCOMMITTED, READ_COMMITTED, REPEATABLE_READ or
	// SERIALIZABLE.
	DefaultIsolation string
}

// LoggingConfig controls diagnostic output.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string

	// Format is "text" or "json".
	Format string
}

// yamlConfig is the YAML file schema. Durations are strings so files can
// say "100ms" rather than raw nanoseconds; values are overlaid onto the
// defaults only when set.
type yamlConfig struct {
	Database struct {
		DataDir         string `yaml:"data_dir"`
		SnapshotFormat  string `yaml:"snapshot_format"`
		WALEnabled      bool   `yaml:"wal_enabled"`
		WALSyncMode     string `yaml:"wal_sync_mode"`
		WALSyncInterval string `yaml:"wal_sync_interval"`
	} `yaml:"database"`
	Query struct {
		MaxRows          int    `yaml:"max_rows"`
		Timeout          string `yaml:"timeout"`
		DefaultIsolation string `yaml:"default_isolation"`
	} `yaml:"query"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns the built-in defaults: an in-memory database with
// the WAL off, CAR snapshots, and read-committed writes.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataDir:         "",
			SnapshotFormat:  "car",
			WALEnabled:      false,
			WALSyncMode:     "batch",
			WALSyncInterval: 100 * time.Millisecond,
		},
		Query: QueryConfig{
			MaxRows:          0,
			Timeout:          0,
			DefaultIsolation: "READ_COMMITTED",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv builds a config from defaults plus MUNINN_* environment
// variables.
func LoadFromEnv() *Config {
	cfg := DefaultConfig()
	applyEnvVars(cfg)
	return cfg
}

// LoadFromFile loads configuration with full precedence: defaults, then the
// YAML file, then environment variables on top.
//
// A missing file is not an error; the defaults plus environment apply. An
// unreadable or malformed file is.
func LoadFromFile(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			var yc yamlConfig
			if err := yaml.Unmarshal(data, &yc); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
			if err := applyYAML(cfg, &yc); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvVars(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyYAML overlays file values onto cfg. Unset fields keep their
// defaults; wal_enabled only switches the log on, never off.
func applyYAML(cfg *Config, yc *yamlConfig) error {
	if yc.Database.DataDir != "" {
		cfg.Database.DataDir = yc.Database.DataDir
	}
	if yc.Database.SnapshotFormat != "" {
		cfg.Database.SnapshotFormat = yc.Database.SnapshotFormat
	}
	if yc.Database.WALEnabled {
		cfg.Database.WALEnabled = true
	}
	if yc.Database.WALSyncMode != "" {
		cfg.Database.WALSyncMode = yc.Database.WALSyncMode
	}
	if yc.Database.WALSyncInterval != "" {
		d, err := parseDuration(yc.Database.WALSyncInterval)
		if err != nil {
			return fmt.Errorf("database.wal_sync_interval: %w", err)
		}
		cfg.Database.WALSyncInterval = d
	}

	if yc.Query.MaxRows != 0 {
		cfg.Query.MaxRows = yc.Query.MaxRows
	}
	if yc.Query.Timeout != "" {
		d, err := parseDuration(yc.Query.Timeout)
		if err != nil {
			return fmt.Errorf("query.timeout: %w", err)
		}
		cfg.Query.Timeout = d
	}
	if yc.Query.DefaultIsolation != "" {
		cfg.Query.DefaultIsolation = yc.Query.DefaultIsolation
	}

	if yc.Logging.Level != "" {
		cfg.Logging.Level = yc.Logging.Level
	}
	if yc.Logging.Format != "" {
		cfg.Logging.Format = yc.Logging.Format
	}
	return nil
}

// applyEnvVars overrides config fields from MUNINN_* environment variables.
func applyEnvVars(cfg *Config) {
	cfg.Database.DataDir = getEnv("MUNINN_DATA_DIR", cfg.Database.DataDir)
	cfg.Database.SnapshotFormat = getEnv("MUNINN_SNAPSHOT_FORMAT", cfg.Database.SnapshotFormat)
	cfg.Database.WALEnabled = getEnvBool("MUNINN_WAL_ENABLED", cfg.Database.WALEnabled)
	cfg.Database.WALSyncMode = getEnv("MUNINN_WAL_SYNC_MODE", cfg.Database.WALSyncMode)
	cfg.Database.WALSyncInterval = getEnvDuration("MUNINN_WAL_SYNC_INTERVAL", cfg.Database.WALSyncInterval)

	cfg.Query.MaxRows = getEnvInt("MUNINN_MAX_ROWS", cfg.Query.MaxRows)
	cfg.Query.Timeout = getEnvDuration("MUNINN_QUERY_TIMEOUT", cfg.Query.Timeout)
	cfg.Query.DefaultIsolation = getEnv("MUNINN_DEFAULT_ISOLATION", cfg.Query.DefaultIsolation)

	cfg.Logging.Level = getEnv("MUNINN_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("MUNINN_LOG_FORMAT", cfg.Logging.Format)
}

var validIsolations = map[string]bool{
	"READ_UNCOMMITTED": true,
	"READ_COMMITTED":   true,
	"REPEATABLE_READ":  true,
	"SERIALIZABLE":     true,
}

// Validate checks the configuration for values no component can accept.
func (c *Config) Validate() error {
	switch c.Database.SnapshotFormat {
	case "dag-json", "jsonl", "car":
	default:
		return fmt.Errorf("invalid snapshot format: %q", c.Database.SnapshotFormat)
	}

	switch c.Database.WALSyncMode {
	case "immediate", "batch", "none":
	default:
		return fmt.Errorf("invalid wal sync mode: %q", c.Database.WALSyncMode)
	}

	if c.Database.WALEnabled && c.Database.DataDir == "" {
		return fmt.Errorf("wal requires a data directory")
	}

	if c.Query.MaxRows < 0 {
		return fmt.Errorf("invalid max rows: %d", c.Query.MaxRows)
	}
	if c.Query.Timeout < 0 {
		return fmt.Errorf("invalid query timeout: %s", c.Query.Timeout)
	}
	if !validIsolations[strings.ToUpper(strings.TrimSpace(c.Query.DefaultIsolation))] {
		return fmt.Errorf("invalid isolation level: %q", c.Query.DefaultIsolation)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	return nil
}

// String returns a representation safe for logging.
func (c *Config) String() string {
	dir := c.Database.DataDir
	if dir == "" {
		dir = "(in-memory)"
	}
	return fmt.Sprintf("Config{DataDir: %s, Snapshot: %s, WAL: %v, Isolation: %s}",
		dir, c.Database.SnapshotFormat, c.Database.WALEnabled, c.Query.DefaultIsolation)
}

// FindConfigFile searches the conventional locations for a config file and
// returns the first that exists, or "" when none does.
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".muninn", "config.yaml"))
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		candidates = append(candidates,
			filepath.Join(exeDir, "config.yaml"),
			filepath.Join(exeDir, "muninn.yaml"),
		)
	}

	candidates = append(candidates,
		"config.yaml",
		"muninn.yaml",
	)

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "muninn", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Environment variable parsing helpers.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := parseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// parseDuration accepts Go duration syntax ("100ms", "2s") or a bare
// number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration %q", s)
}
