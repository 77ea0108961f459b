package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"facet/internal/api"
	"facet/internal/daemon"
	"facet/internal/logging"
	"facet/internal/testsupport"
)

func startTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	svc := api.NewService(st, cfg, logger)

	d, err := daemon.New(cfg, st, svc, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func runCLI(t *testing.T, address string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--address", address))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func requireContains(t *testing.T, output, want string) {
	t.Helper()
	if !strings.Contains(output, want) {
		t.Fatalf("output %q does not contain %q", output, want)
	}
}

func TestCLISeedAndList(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d := startTestDaemon(t)

	out, err := runCLI(t, d.Address(), "seed")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	requireContains(t, out, "Seeded")

	out, err = runCLI(t, d.Address(), "product", "list")
	if err != nil {
		t.Fatalf("product list: %v", err)
	}
	requireContains(t, out, "Trail Rain Jacket")

	out, err = runCLI(t, d.Address(), "attribute", "list")
	if err != nil {
		t.Fatalf("attribute list: %v", err)
	}
	requireContains(t, out, "color")
}

func TestCLIProductLifecycle(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d := startTestDaemon(t)

	out, err := runCLI(t, d.Address(), "attribute", "add", "color", "--values", "Red,Blue")
	if err != nil {
		t.Fatalf("attribute add: %v", err)
	}
	requireContains(t, out, "Created attribute")

	out, err = runCLI(t, d.Address(), "product", "add", "Rain Shell", "--category", "apparel", "--sku", "SKU-9000")
	if err != nil {
		t.Fatalf("product add: %v", err)
	}
	requireContains(t, out, "Created product")

	out, err = runCLI(t, d.Address(), "product", "list", "--status", "pending_ai")
	if err != nil {
		t.Fatalf("product list: %v", err)
	}
	requireContains(t, out, "Rain Shell")
	requireContains(t, out, "Pending AI")
}

func TestCLIProcessingPauseResume(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d := startTestDaemon(t)

	out, err := runCLI(t, d.Address(), "processing", "pause")
	if err != nil {
		t.Fatalf("processing pause: %v", err)
	}
	requireContains(t, out, "AI processing paused")

	out, err = runCLI(t, d.Address(), "processing", "status")
	if err != nil {
		t.Fatalf("processing status: %v", err)
	}
	requireContains(t, out, "Paused")

	out, err = runCLI(t, d.Address(), "processing", "resume")
	if err != nil {
		t.Fatalf("processing resume: %v", err)
	}
	requireContains(t, out, "AI processing resumed")
}

func TestCLIRejectsBadID(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	d := startTestDaemon(t)

	if _, err := runCLI(t, d.Address(), "product", "show", "zero"); err == nil {
		t.Fatal("expected an error for a non-numeric id")
	}
}

func TestConfigInit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	target := filepath.Join(t.TempDir(), "config.toml")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out.String(), "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}
