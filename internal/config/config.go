// Package config provides layered configuration for amangrep.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/amangrep/config.yaml)
//  3. Project config (.amangrep.yaml at the workspace root)
//  4. Environment variables (AMANGREP_*)
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

// Config represents the complete amangrep configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Backend BackendConfig `yaml:"backend" json:"backend"`
	Search  SearchConfig  `yaml:"search" json:"search"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Fuzzy   FuzzyConfig   `yaml:"fuzzy" json:"fuzzy"`
	Stats   StatsConfig   `yaml:"stats" json:"stats"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BackendConfig configures the external search tool.
type BackendConfig struct {
	// Preferred is the binary probed first (default: ugrep).
	Preferred string `yaml:"preferred" json:"preferred"`
	// Fallback is probed when the preferred binary is unusable (default: rg).
	Fallback string `yaml:"fallback" json:"fallback"`
	// ProbeTimeout bounds the --version probe (default: 2s).
	ProbeTimeout string `yaml:"probe_timeout" json:"probe_timeout"`
}

// SearchConfig configures per-request limits and defaults.
type SearchConfig struct {
	// TimeoutMS is the default request timeout in milliseconds.
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`
	// MaxResults caps emitted events (match and context count identically).
	MaxResults int `yaml:"max_results" json:"max_results"`
	// MaxMatchesPerFile caps match events per file.
	MaxMatchesPerFile int `yaml:"max_matches_per_file" json:"max_matches_per_file"`
	// MaxFiles caps the number of candidate files per request.
	MaxFiles int `yaml:"max_files" json:"max_files"`
	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
	// Context is the default number of context lines.
	Context int `yaml:"context" json:"context"`
	// MaxResponseBytes bounds the encoded response; trailing matches are
	// dropped (and the response re-flagged truncated) until it fits.
	MaxResponseBytes int `yaml:"max_response_bytes" json:"max_response_bytes"`
}

// IndexConfig configures the background indexer and candidate filter.
type IndexConfig struct {
	// Mode is auto, on, or off.
	Mode string `yaml:"mode" json:"mode"`
	// MinFiles is the auto-mode file-count threshold.
	MinFiles int `yaml:"min_files" json:"min_files"`
	// MinTotalBytes is the auto-mode byte threshold.
	MinTotalBytes int64 `yaml:"min_total_bytes" json:"min_total_bytes"`
	// NgramSize is the token length k; patterns shorter than k are never
	// used for exclusion.
	NgramSize int `yaml:"ngram_size" json:"ngram_size"`
	// TargetFPR is the Bloom filter false-positive-rate target used to
	// derive bit and hash counts once per index key.
	TargetFPR float64 `yaml:"target_fpr" json:"target_fpr"`
	// BatchSize is the number of files tokenized between throttle pauses.
	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// BatchPause is the sleep between batches (default: 25ms).
	BatchPause string `yaml:"batch_pause" json:"batch_pause"`
	// IdleBoost skips the batch pause while no searches are running.
	IdleBoost bool `yaml:"idle_boost" json:"idle_boost"`
	// Workers is the tokenizer pool size (default: min(4, NumCPU)).
	Workers int `yaml:"workers" json:"workers"`
	// ShutdownTimeout bounds builder shutdown (default: 3s).
	ShutdownTimeout string `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// RescanInterval is how often auto mode re-evaluates thresholds
	// after settling below them (default: 5m).
	RescanInterval string `yaml:"rescan_interval" json:"rescan_interval"`
}

// WatchConfig configures change tracking and reconcile scans.
type WatchConfig struct {
	// Debounce is the event coalescing window (default: 300ms).
	Debounce string `yaml:"debounce" json:"debounce"`
	// QueueCap bounds the in-flight event channel; overflow invalidates
	// coverage rather than blocking the watcher.
	QueueCap int `yaml:"queue_cap" json:"queue_cap"`
	// PollInterval is the fallback polling cadence when native watches
	// are unavailable (default: 2s).
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	// ReconcileMaxFiles bounds one reconcile scan.
	ReconcileMaxFiles int `yaml:"reconcile_max_files" json:"reconcile_max_files"`
	// ReconcileMaxTime bounds one reconcile scan (default: 1500ms).
	ReconcileMaxTime string `yaml:"reconcile_max_time" json:"reconcile_max_time"`
	// LockTimeout bounds catalog mutation lock acquisition (default: 250ms).
	LockTimeout string `yaml:"lock_timeout" json:"lock_timeout"`
}

// StorageConfig configures catalog storage and resource limits.
type StorageConfig struct {
	// Mode is persist or memory.
	Mode string `yaml:"mode" json:"mode"`
	// CacheDir overrides the catalog location. Empty uses the user cache
	// directory. The catalog never lives inside the searched tree.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// MaxTotalBytes caps persisted catalog bytes across all index keys.
	MaxTotalBytes int64 `yaml:"max_total_bytes" json:"max_total_bytes"`
	// MaxIndexes caps the number of persisted index keys.
	MaxIndexes int `yaml:"max_indexes" json:"max_indexes"`
	// MemoryMaxBytes caps the in-memory store.
	MemoryMaxBytes int64 `yaml:"memory_max_bytes" json:"memory_max_bytes"`
}

// FuzzyConfig configures the opt-in fuzzy fallback ladder.
type FuzzyConfig struct {
	// Enabled turns the fallback on (default: false).
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Levels are tried in order until one produces a match event.
	Levels []int `yaml:"levels" json:"levels"`
}

// StatsConfig gates the diagnostic stats block on responses.
type StatsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Backend: BackendConfig{
			Preferred:    "ugrep",
			Fallback:     "rg",
			ProbeTimeout: "2s",
		},
		Search: SearchConfig{
			TimeoutMS:         20000,
			MaxResults:        200,
			MaxMatchesPerFile: 50,
			MaxFiles:          10000,
			MaxFileSize:       2 * 1024 * 1024,
			Context:           0,
			MaxResponseBytes:  256 * 1024,
		},
		Index: IndexConfig{
			Mode:            "auto",
			MinFiles:        100,
			MinTotalBytes:   1024 * 1024,
			NgramSize:       3,
			TargetFPR:       0.01,
			BatchSize:       64,
			BatchPause:      "25ms",
			IdleBoost:       true,
			Workers:         0, // 0 selects min(4, NumCPU) at runtime
			ShutdownTimeout: "3s",
			RescanInterval:  "5m",
		},
		Watch: WatchConfig{
			Debounce:          "300ms",
			QueueCap:          1024,
			PollInterval:      "2s",
			ReconcileMaxFiles: 2000,
			ReconcileMaxTime:  "1500ms",
			LockTimeout:       "250ms",
		},
		Storage: StorageConfig{
			Mode:           "persist",
			CacheDir:       "",
			MaxTotalBytes:  256 * 1024 * 1024,
			MaxIndexes:     16,
			MemoryMaxBytes: 64 * 1024 * 1024,
		},
		Fuzzy: FuzzyConfig{
			Enabled: false,
			Levels:  []int{1, 2},
		},
		Stats: StatsConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      "",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amangrep/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amangrep/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amangrep", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "amangrep", "config.yaml")
	}
	return filepath.Join(home, ".config", "amangrep", "config.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given workspace root.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFile builds configuration from defaults, the user config, and one
// explicit config file, skipping project-file discovery. Used when the
// file was named on the command line, so a missing file is an error.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .amangrep.yaml or .amangrep.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".amangrep.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".amangrep.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, defaults apply.
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Backend
	if other.Backend.Preferred != "" {
		c.Backend.Preferred = other.Backend.Preferred
	}
	if other.Backend.Fallback != "" {
		c.Backend.Fallback = other.Backend.Fallback
	}
	if other.Backend.ProbeTimeout != "" {
		c.Backend.ProbeTimeout = other.Backend.ProbeTimeout
	}

	// Search
	if other.Search.TimeoutMS != 0 {
		c.Search.TimeoutMS = other.Search.TimeoutMS
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.MaxMatchesPerFile != 0 {
		c.Search.MaxMatchesPerFile = other.Search.MaxMatchesPerFile
	}
	if other.Search.MaxFiles != 0 {
		c.Search.MaxFiles = other.Search.MaxFiles
	}
	if other.Search.MaxFileSize != 0 {
		c.Search.MaxFileSize = other.Search.MaxFileSize
	}
	if other.Search.Context != 0 {
		c.Search.Context = other.Search.Context
	}
	if other.Search.MaxResponseBytes != 0 {
		c.Search.MaxResponseBytes = other.Search.MaxResponseBytes
	}

	// Index
	if other.Index.Mode != "" {
		c.Index.Mode = other.Index.Mode
	}
	if other.Index.MinFiles != 0 {
		c.Index.MinFiles = other.Index.MinFiles
	}
	if other.Index.MinTotalBytes != 0 {
		c.Index.MinTotalBytes = other.Index.MinTotalBytes
	}
	if other.Index.NgramSize != 0 {
		c.Index.NgramSize = other.Index.NgramSize
	}
	if other.Index.TargetFPR != 0 {
		c.Index.TargetFPR = other.Index.TargetFPR
	}
	if other.Index.BatchSize != 0 {
		c.Index.BatchSize = other.Index.BatchSize
	}
	if other.Index.BatchPause != "" {
		c.Index.BatchPause = other.Index.BatchPause
	}
	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}
	if other.Index.ShutdownTimeout != "" {
		c.Index.ShutdownTimeout = other.Index.ShutdownTimeout
	}
	if other.Index.RescanInterval != "" {
		c.Index.RescanInterval = other.Index.RescanInterval
	}

	// Watch
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.QueueCap != 0 {
		c.Watch.QueueCap = other.Watch.QueueCap
	}
	if other.Watch.PollInterval != "" {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if other.Watch.ReconcileMaxFiles != 0 {
		c.Watch.ReconcileMaxFiles = other.Watch.ReconcileMaxFiles
	}
	if other.Watch.ReconcileMaxTime != "" {
		c.Watch.ReconcileMaxTime = other.Watch.ReconcileMaxTime
	}
	if other.Watch.LockTimeout != "" {
		c.Watch.LockTimeout = other.Watch.LockTimeout
	}

	// Storage
	if other.Storage.Mode != "" {
		c.Storage.Mode = other.Storage.Mode
	}
	if other.Storage.CacheDir != "" {
		c.Storage.CacheDir = other.Storage.CacheDir
	}
	if other.Storage.MaxTotalBytes != 0 {
		c.Storage.MaxTotalBytes = other.Storage.MaxTotalBytes
	}
	if other.Storage.MaxIndexes != 0 {
		c.Storage.MaxIndexes = other.Storage.MaxIndexes
	}
	if other.Storage.MemoryMaxBytes != 0 {
		c.Storage.MemoryMaxBytes = other.Storage.MemoryMaxBytes
	}

	// Fuzzy: Enabled is boolean, merge only when levels were configured too,
	// since yaml cannot distinguish "false" from "not set".
	if len(other.Fuzzy.Levels) > 0 {
		c.Fuzzy.Levels = other.Fuzzy.Levels
		c.Fuzzy.Enabled = other.Fuzzy.Enabled
	} else if other.Fuzzy.Enabled {
		c.Fuzzy.Enabled = true
	}

	if other.Stats.Enabled {
		c.Stats.Enabled = true
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies AMANGREP_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMANGREP_BACKEND"); v != "" {
		c.Backend.Preferred = v
	}
	if v := os.Getenv("AMANGREP_INDEX_MODE"); v != "" {
		c.Index.Mode = v
	}
	if v := os.Getenv("AMANGREP_STORAGE_MODE"); v != "" {
		c.Storage.Mode = v
	}
	if v := os.Getenv("AMANGREP_CACHE_DIR"); v != "" {
		c.Storage.CacheDir = v
	}
	if v := os.Getenv("AMANGREP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AMANGREP_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxResults = n
		}
	}
	if v := os.Getenv("AMANGREP_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TimeoutMS = n
		}
	}
	if v := os.Getenv("AMANGREP_FUZZY_ENABLED"); v != "" {
		c.Fuzzy.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("AMANGREP_STATS_ENABLED"); v != "" {
		c.Stats.Enabled = strings.ToLower(v) == "true" || v == "1"
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	validModes := map[string]bool{"auto": true, "on": true, "off": true}
	if !validModes[strings.ToLower(c.Index.Mode)] {
		return fmt.Errorf("index.mode must be 'auto', 'on', or 'off', got %s", c.Index.Mode)
	}

	validStorage := map[string]bool{"persist": true, "memory": true}
	if !validStorage[strings.ToLower(c.Storage.Mode)] {
		return fmt.Errorf("storage.mode must be 'persist' or 'memory', got %s", c.Storage.Mode)
	}

	if c.Index.NgramSize < 2 || c.Index.NgramSize > 8 {
		return fmt.Errorf("index.ngram_size must be between 2 and 8, got %d", c.Index.NgramSize)
	}
	if c.Index.TargetFPR <= 0 || c.Index.TargetFPR >= 0.5 {
		return fmt.Errorf("index.target_fpr must be in (0, 0.5), got %f", c.Index.TargetFPR)
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}
	if c.Search.TimeoutMS <= 0 {
		return fmt.Errorf("search.timeout_ms must be positive, got %d", c.Search.TimeoutMS)
	}

	for _, lvl := range c.Fuzzy.Levels {
		if lvl < 1 || lvl > 9 {
			return fmt.Errorf("fuzzy.levels entries must be between 1 and 9, got %d", lvl)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	for name, d := range map[string]string{
		"backend.probe_timeout":    c.Backend.ProbeTimeout,
		"index.batch_pause":        c.Index.BatchPause,
		"index.shutdown_timeout":   c.Index.ShutdownTimeout,
		"index.rescan_interval":    c.Index.RescanInterval,
		"watch.debounce":           c.Watch.Debounce,
		"watch.poll_interval":      c.Watch.PollInterval,
		"watch.reconcile_max_time": c.Watch.ReconcileMaxTime,
		"watch.lock_timeout":       c.Watch.LockTimeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("%s is not a valid duration: %q", name, d)
		}
	}

	return nil
}

// CacheDir resolves the catalog cache directory.
func (c *Config) CacheDir() string {
	if c.Storage.CacheDir != "" {
		return c.Storage.CacheDir
	}
	cache, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "amangrep")
	}
	return filepath.Join(cache, "amangrep")
}

// duration parses d with a fallback default for unset or invalid values.
func duration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	parsed, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return parsed
}

// ProbeTimeout returns the backend probe timeout.
func (c *Config) ProbeTimeout() time.Duration { return duration(c.Backend.ProbeTimeout, 2*time.Second) }

// BatchPause returns the indexer inter-batch pause.
func (c *Config) BatchPause() time.Duration { return duration(c.Index.BatchPause, 25*time.Millisecond) }

// ShutdownTimeout returns the builder shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return duration(c.Index.ShutdownTimeout, 3*time.Second)
}

// RescanInterval returns the auto-mode threshold re-evaluation interval.
func (c *Config) RescanInterval() time.Duration {
	return duration(c.Index.RescanInterval, 5*time.Minute)
}

// Debounce returns the watcher coalescing window.
func (c *Config) Debounce() time.Duration { return duration(c.Watch.Debounce, 300*time.Millisecond) }

// PollInterval returns the fallback polling cadence.
func (c *Config) PollInterval() time.Duration { return duration(c.Watch.PollInterval, 2*time.Second) }

// ReconcileMaxTime returns the reconcile scan time budget.
func (c *Config) ReconcileMaxTime() time.Duration {
	return duration(c.Watch.ReconcileMaxTime, 1500*time.Millisecond)
}

// LockTimeout returns the catalog mutation lock bound.
func (c *Config) LockTimeout() time.Duration {
	return duration(c.Watch.LockTimeout, 250*time.Millisecond)
}

// RequestTimeout returns the default search timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutMS) * time.Millisecond
}

// FindProjectRoot finds the workspace root directory.
// It looks for a .git directory or an .amangrep.yaml/.yml file by walking
// up the directory tree, falling back to the starting directory.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".amangrep.yaml")) ||
			fileExists(filepath.Join(currentDir, ".amangrep.yml")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
