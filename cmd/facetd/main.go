// Command facetd runs the facet daemon: the AI batch processing loop and
// the HTTP API the facet CLI talks to.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"facet/internal/api"
	"facet/internal/config"
	"facet/internal/daemon"
	"facet/internal/logging"
	"facet/internal/store"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	svc := api.NewService(st, cfg, logger)
	d, err := daemon.New(cfg, st, svc, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = st.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	select {
	case <-ctx.Done():
	case <-d.Done():
	}
	logger.Info("facetd shutting down")
}
