package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Pipeline contains batching and assignment policy knobs.
type Pipeline struct {
	// DefaultBatchSize is used when a command omits an explicit size.
	DefaultBatchSize int `toml:"default_batch_size"`
	// AllowedBatchSizes restricts the sizes accepted by batch commands.
	AllowedBatchSizes []int `toml:"allowed_batch_sizes"`
	// DefaultOverlap is the annotators-per-product count for auto assignment.
	DefaultOverlap int `toml:"default_overlap"`
	// MaxOverlap bounds the overlap count accepted by auto assignment.
	MaxOverlap int `toml:"max_overlap"`
	// SuggestionSeed seeds the deterministic suggestion generators. Zero
	// selects a time-based seed.
	SuggestionSeed int64 `toml:"suggestion_seed"`
}

// Processing contains daemon loop timing configuration. Values are seconds.
type Processing struct {
	PollInterval       int `toml:"poll_interval"`
	PausePollInterval  int `toml:"pause_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	BatchDelay         int `toml:"batch_delay"`
}

// PollDuration is the idle wait between cycles when no products are pending.
func (p Processing) PollDuration() time.Duration {
	return time.Duration(p.PollInterval) * time.Second
}

// PausePollDuration is the wait between pause flag checks while paused.
func (p Processing) PausePollDuration() time.Duration {
	return time.Duration(p.PausePollInterval) * time.Second
}

// ErrorRetryDuration is the backoff after a failed processing cycle.
func (p Processing) ErrorRetryDuration() time.Duration {
	return time.Duration(p.ErrorRetryInterval) * time.Second
}

// BatchDelayDuration is the pause between consecutive successful batches.
func (p Processing) BatchDelayDuration() time.Duration {
	return time.Duration(p.BatchDelay) * time.Second
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Facet.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Pipeline: batch sizing and overlap assignment policy
//   - Processing: daemon polling intervals
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Processing Processing `toml:"processing"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/facet/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The boolean reports
// whether a config file was found at the resolved path.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the annotated sample configuration to the provided path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the directories the daemon needs at runtime.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "facet.db")
}

// LogPath returns the primary daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "facet.log")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}

	if c.Pipeline.DefaultBatchSize == 0 {
		c.Pipeline.DefaultBatchSize = defaultBatchSize
	}
	if len(c.Pipeline.AllowedBatchSizes) == 0 {
		c.Pipeline.AllowedBatchSizes = append([]int{}, defaultAllowedBatchSizes...)
	}
	if c.Pipeline.DefaultOverlap == 0 {
		c.Pipeline.DefaultOverlap = defaultOverlap
	}
	if c.Pipeline.MaxOverlap == 0 {
		c.Pipeline.MaxOverlap = defaultMaxOverlap
	}

	if c.Processing.PollInterval == 0 {
		c.Processing.PollInterval = defaultPollInterval
	}
	if c.Processing.PausePollInterval == 0 {
		c.Processing.PausePollInterval = defaultPausePollInterval
	}
	if c.Processing.ErrorRetryInterval == 0 {
		c.Processing.ErrorRetryInterval = defaultErrorRetryInterval
	}
	if c.Processing.BatchDelay == 0 {
		c.Processing.BatchDelay = defaultBatchDelay
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		if strings.HasPrefix(trimmed, "~/") {
			return filepath.Join(home, trimmed[2:]), nil
		}
		return "", fmt.Errorf("unsupported home-relative path %q", trimmed)
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %q: %w", trimmed, err)
	}
	return abs, nil
}
