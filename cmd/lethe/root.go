package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "lethe",
	Short: "Lethe - staged data forgetting core",
	Long: `Lethe decides when and how stored data is forgotten.

It scores every item on seven axes, selects a strategy (defer, compress,
mask, archive, delete, key destruction) from a policy table under the
current storage budget, and moves items through ten reversibility stages.
Key destruction needs an approval and runs a verified crypto-shred
sequence. Every decision and transition is recorded in a hash-chained
ledger.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (defaults only when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
