package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jnoonan94/ccd-intro/internal/catalog"
	"github.com/jnoonan94/ccd-intro/internal/cli"
	"github.com/jnoonan94/ccd-intro/internal/config"
	"github.com/jnoonan94/ccd-intro/internal/logging"
	"github.com/jnoonan94/ccd-intro/internal/pipeline"
	"github.com/jnoonan94/ccd-intro/internal/solve"
	"github.com/jnoonan94/ccd-intro/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer store.Close()

	cat := catalog.NewClient(cfg.Catalog)
	solver := solve.New(cfg, cat, log)

	pipe := pipeline.New(context.Background(), 1, solver, log, store)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, log, store, pipe, solver)
	return rootCmd.Execute()
}
