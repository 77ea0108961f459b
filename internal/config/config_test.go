package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"facet/internal/config"
)

func TestDefaultsValidate(t *testing.T) {
	cfg, _, exists, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load with defaults failed: %v", err)
	}
	if exists {
		t.Fatal("expected missing config file to be reported as absent")
	}
	if cfg.Pipeline.DefaultBatchSize != 10 {
		t.Fatalf("unexpected default batch size %d", cfg.Pipeline.DefaultBatchSize)
	}
	if !cfg.BatchSizeAllowed(20) || cfg.BatchSizeAllowed(15) {
		t.Fatal("allowed batch size policy mismatch")
	}
	if !cfg.OverlapAllowed(5) || cfg.OverlapAllowed(6) || cfg.OverlapAllowed(0) {
		t.Fatal("overlap policy mismatch")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
data_dir = "` + filepath.Join(dir, "data") + `"
log_dir = "` + filepath.Join(dir, "logs") + `"
api_bind = "127.0.0.1:0"

[pipeline]
default_batch_size = 20
allowed_batch_sizes = [10, 20, 50]
default_overlap = 3

[logging]
format = "json"
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected config at %s to be used, got %s exists=%v", path, resolved, exists)
	}
	if cfg.Pipeline.DefaultBatchSize != 20 || !cfg.BatchSizeAllowed(50) {
		t.Fatalf("pipeline overrides not applied: %+v", cfg.Pipeline)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("logging overrides not applied: %+v", cfg.Logging)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero batch size", func(c *config.Config) { c.Pipeline.DefaultBatchSize = 0 }},
		{"default outside allowed", func(c *config.Config) { c.Pipeline.DefaultBatchSize = 7 }},
		{"overlap below one", func(c *config.Config) { c.Pipeline.DefaultOverlap = 0 }},
		{"max below default overlap", func(c *config.Config) { c.Pipeline.MaxOverlap = 1; c.Pipeline.DefaultOverlap = 3 }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "yaml" }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.DataDir = t.TempDir()
			cfg.Paths.LogDir = t.TempDir()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected error when sample config already exists")
	}
}
