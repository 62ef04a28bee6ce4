package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	noServer      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the forgetting core",
	Long: `Start the forgetting core with the specified configuration.

The core runs the executor workers and the eviction sweep schedule, and
serves the admin API (item ingest, decisions, state, rollback, approvals,
ledger history, budgets, feedback, health, and metrics).

Examples:
  # Start with defaults (in-memory state and ledger)
  lethe run

  # Start with a config file
  lethe run --config /etc/lethe/lethe.yaml

  # Override the admin listen address
  lethe run --listen 0.0.0.0:9400

  # Run sweeps only, without the admin API
  lethe run --no-server`,
	RunE: runCore,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override admin listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.noServer, "no-server", false, "do not start the admin API")
}

func runCore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Initialize(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if runFlags.noServer {
		cfg.Server.Enabled = false
	}

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	dm, err := buildDaemon(ctx, cfg, os.Stderr)
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	printBanner(cmd.OutOrStdout(), cfg)

	if err := dm.start(ctx); err != nil {
		_ = dm.close(context.Background())
		return cli.NewCommandError("run", err)
	}
	<-ctx.Done()

	fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := dm.close(shutdownCtx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Stopped")
	return nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout + 5*time.Second
	}
	return 15 * time.Second
}

func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, "Lethe %s\n", Version)
	fmt.Fprintf(w, "✓ State backend: %s\n", cfg.State.Backend)
	fmt.Fprintf(w, "✓ Ledger backend: %s\n", cfg.Ledger.Backend)
	fmt.Fprintf(w, "✓ Budget scopes: %d\n", len(cfg.Budget.Scopes))
	fmt.Fprintf(w, "✓ Eviction schedule: %s\n", cfg.Eviction.Schedule)
	if cfg.Server.Enabled {
		fmt.Fprintf(w, "✓ Admin API: http://%s\n", cfg.Server.ListenAddress)
	}
}
