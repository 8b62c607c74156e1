package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jnoonan94/ccd-intro/internal/batch"
	"github.com/jnoonan94/ccd-intro/internal/config"
	"github.com/jnoonan94/ccd-intro/internal/pipeline"
	"github.com/jnoonan94/ccd-intro/internal/server"
	"github.com/jnoonan94/ccd-intro/internal/solve"
	"github.com/jnoonan94/ccd-intro/internal/storage"
)

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, solver *solve.Assigner) *cobra.Command {
	root := NewRoot(pipe, solver, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "ccd-intro",
		Short: "ccd-intro assigns sky coordinates to CCD images",
		Long: `ccd-intro detects stars in FITS images, matches them against the Gaia
catalog, fits a TAN projection and writes solved copies with WCS headers.`,
	}

	rootCmd.AddCommand(newSolveCmd(root))
	rootCmd.AddCommand(newBatchCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newSolveCmd(root *Root) *cobra.Command {
	var (
		ra  float64
		dec float64
	)

	cmd := &cobra.Command{
		Use:   "solve <image.fits>",
		Short: "Solve a single FITS image",
		Long: `Detect stars in one FITS image, query the catalog around the given
center, fit a WCS and write a solved copy next to the input.

Examples:
  # Solve an image of the core of M13
  ccd-intro solve m13.fits --ra 250.42 --dec 36.46`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			root.log.Info("solve command parsed",
				"input", input,
				"ra", ra,
				"dec", dec,
			)

			job := pipeline.Job{
				ID:   newID("solve"),
				File: input,
				RA:   ra,
				Dec:  dec,
			}
			return root.enqueueAndWait(cmd.Context(), job)
		},
	}

	cmd.Flags().Float64Var(&ra, "ra", 0, "approximate field center right ascension in degrees (required)")
	cmd.Flags().Float64Var(&dec, "dec", 0, "approximate field center declination in degrees (required)")
	cmd.MarkFlagRequired("ra")
	cmd.MarkFlagRequired("dec")

	return cmd
}

func newBatchCmd(root *Root) *cobra.Command {
	var (
		ra       float64
		dec      float64
		failFast bool
	)

	cmd := &cobra.Command{
		Use:   "batch <input_directory>",
		Short: "Solve every FITS image in a directory",
		Long: `Process a directory of FITS images sharing one approximate field center.
Already-solved outputs are skipped and failures do not stop the run
unless --fail-fast is given.

Examples:
  ccd-intro batch /data/m13-session/ --ra 250.42 --dec 36.46
  ccd-intro batch /data/m13-session/ --ra 250.42 --dec 36.46 --fail-fast`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			folder := args[0]

			batchCfg := root.cfg.Batch
			batchCfg.FailFast = failFast
			runner := batch.NewRunner(root.solver, batchCfg, root.log)

			report, err := runner.ProcessFolder(cmd.Context(), folder, ra, dec)
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
	}

	cmd.Flags().Float64Var(&ra, "ra", 0, "approximate field center right ascension in degrees (required)")
	cmd.Flags().Float64Var(&dec, "dec", 0, "approximate field center declination in degrees (required)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", root.cfg.Batch.FailFast, "stop at the first image that fails to solve")
	cmd.MarkFlagRequired("ra")
	cmd.MarkFlagRequired("dec")

	return cmd
}

func printReport(cmd *cobra.Command, report *batch.Report) {
	cmd.Printf("Batch report for %s\n", report.Folder)
	for _, item := range report.Items {
		if item.Err != nil {
			cmd.Printf("  FAIL %-30s %v\n", item.File, item.Err)
			continue
		}
		cmd.Printf("  OK   %-30s pairs=%d rms=%.2f\" -> %s\n", item.File, item.Pairs, item.RMSArcsec, item.Output)
	}
	cmd.Printf("%d solved, %d failed\n", report.Succeeded(), report.Failed())
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		ra  float64
		dec float64
	)

	cmd := &cobra.Command{
		Use:   "watch <input_directory>",
		Short: "Watch a directory and solve new FITS images as they arrive",
		Long: `Monitor a directory for newly created FITS images and queue a solve job
for each one, using a fixed approximate field center. Runs until
interrupted.

Examples:
  ccd-intro watch /data/incoming/ --ra 250.42 --dec 36.46`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watcher, err := batch.NewWatcher(dir, root.log)
			if err != nil {
				return fmt.Errorf("watch %s: %w", dir, err)
			}
			defer watcher.Stop()

			root.log.Info("watching for new images", "dir", dir, "ra", ra, "dec", dec)

			for {
				select {
				case <-ctx.Done():
					return nil
				case path, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					job := pipeline.Job{
						ID:   newID("watch"),
						File: path,
						RA:   ra,
						Dec:  dec,
					}
					if err := root.enqueue(ctx, job); err != nil {
						root.log.Warn("could not queue job", "file", path, "error", err)
					}
				}
			}
		},
	}

	cmd.Flags().Float64Var(&ra, "ra", 0, "approximate field center right ascension in degrees (required)")
	cmd.Flags().Float64Var(&dec, "dec", 0, "approximate field center declination in degrees (required)")
	cmd.MarkFlagRequired("ra")
	cmd.MarkFlagRequired("dec")

	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP status server",
		Long: `Start an HTTP server exposing job history and a live result stream.

Examples:
  ccd-intro serve --addr :8417`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			realPipeline, ok := root.pipeline.(*pipeline.Pipeline)
			if !ok {
				return fmt.Errorf("pipeline unavailable for server startup")
			}

			srv := server.New(addr, root.store, realPipeline, root.log)

			root.log.Info("server ready",
				"addr", addr,
				"endpoints", []string{"/healthz", "/jobs", "/stream", "/ws"},
			)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.Addr, "server address (host:port)")

	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent solve jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				cmd.Println("No jobs recorded yet")
				return nil
			}
			for _, rec := range recs {
				line := fmt.Sprintf("%-42s %-10s %s", rec.ID, rec.Status, rec.InputPath)
				if rec.Error != "" {
					line += "  (" + rec.Error + ")"
				}
				cmd.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			cmd.Printf("Configuration:\n\n")
			cmd.Printf("Catalog URL:       %s\n", cfg.Catalog.BaseURL)
			cmd.Printf("Catalog Table:     %s\n", cfg.Catalog.Table)
			cmd.Printf("Search Radius:     %.1f arcmin\n", cfg.Catalog.RadiusArcmin)
			cmd.Printf("Row Limit:         %d\n", cfg.Catalog.RowLimit)
			cmd.Printf("Detection Sigma:   %.1f\n", cfg.Detection.ThresholdSigma)
			cmd.Printf("Expected FWHM:     %.1f px\n", cfg.Detection.FWHM)
			cmd.Printf("Max Sources:       %d\n", cfg.Detection.MaxSources)
			cmd.Printf("Match Strategy:    %s\n", cfg.Matching.Strategy)
			cmd.Printf("Pixel Scale:       %.2f arcsec/px\n", cfg.Matching.PixelScaleArcsec)
			cmd.Printf("Database Path:     %s\n", cfg.Paths.DatabasePath)
			cmd.Printf("Log Level:         %s\n", cfg.Logging.Level)
			cmd.Printf("Log Format:        %s\n", cfg.Logging.Format)
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			cmd.Println("Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("ccd-intro v1.0.0")
		},
	}
}
