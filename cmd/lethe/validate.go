package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/policy"
)

var validateFlags struct {
	table string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and policy table",
	Long: `Validate the configuration file and the policy table without starting
the core.

The policy table is read from --table, or from policy.table_path in the
configuration when the flag is omitted. Constraint registrations and axis
names are checked as well.

Examples:
  # Validate the configuration only
  lethe validate --config lethe.yaml

  # Validate a policy table before deploying it
  lethe validate --config lethe.yaml --table policy.yaml`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVarP(&validateFlags.table, "table", "t", "", "policy table file (uses config if not specified)")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return cli.NewConfigError("", err.Error())
	}
	fmt.Fprintln(w, "✓ Configuration valid")

	if _, err := scoringConfig(cfg.Scoring); err != nil {
		return cli.NewConfigError("scoring.axes", err.Error())
	}
	if _, err := constraints(cfg.Policy); err != nil {
		return cli.NewConfigError("policy.constraints", err.Error())
	}

	path := validateFlags.table
	if path == "" {
		path = cfg.Policy.TablePath
	}
	if path == "" {
		fmt.Fprintln(w, "✓ Using built-in policy table")
		return nil
	}
	table, err := policy.LoadTable(path)
	if err != nil {
		return cli.NewConfigError("policy.table_path", err.Error())
	}
	fmt.Fprintf(w, "✓ Policy table %s valid (version %s, %d rules)\n", path, table.Version, len(table.Rules))
	return nil
}
