package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateProcessing(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.DefaultBatchSize <= 0 {
		return errors.New("pipeline.default_batch_size must be positive")
	}
	for _, size := range c.Pipeline.AllowedBatchSizes {
		if size <= 0 {
			return fmt.Errorf("pipeline.allowed_batch_sizes contains invalid size %d", size)
		}
	}
	if !c.BatchSizeAllowed(c.Pipeline.DefaultBatchSize) {
		return fmt.Errorf("pipeline.default_batch_size %d is not in allowed_batch_sizes", c.Pipeline.DefaultBatchSize)
	}
	if c.Pipeline.DefaultOverlap < 1 {
		return errors.New("pipeline.default_overlap must be at least 1")
	}
	if c.Pipeline.MaxOverlap < c.Pipeline.DefaultOverlap {
		return errors.New("pipeline.max_overlap must be >= pipeline.default_overlap")
	}
	return nil
}

func (c *Config) validateProcessing() error {
	return ensurePositiveMap(map[string]int{
		"processing.poll_interval":        c.Processing.PollInterval,
		"processing.pause_poll_interval":  c.Processing.PausePollInterval,
		"processing.error_retry_interval": c.Processing.ErrorRetryInterval,
		"processing.batch_delay":          c.Processing.BatchDelay,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// BatchSizeAllowed reports whether a batch size passes the configured policy.
func (c *Config) BatchSizeAllowed(size int) bool {
	for _, allowed := range c.Pipeline.AllowedBatchSizes {
		if size == allowed {
			return true
		}
	}
	return false
}

// OverlapAllowed reports whether an overlap count passes the configured policy.
func (c *Config) OverlapAllowed(count int) bool {
	return count >= 1 && count <= c.Pipeline.MaxOverlap
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
