package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/lethe/pkg/cli"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/ledger/export"
)

var ledgerFlags struct {
	itemID string
	format string
	output string
	since  string
	limit  int
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the decision ledger",
	Long: `Inspect the hash-chained decision ledger configured under ledger.

Examples:
  # Verify every chain
  lethe ledger verify --config lethe.yaml

  # Verify one item's chain
  lethe ledger verify --item doc-42

  # Export the last day of entries as CSV
  lethe ledger export --format csv --since 24h --output ledger.csv

  # Show the 20 newest entries
  lethe ledger tail --limit 20`,
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify ledger hash chains",
	RunE:  verifyLedger,
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger entries (json, jsonl, csv)",
	RunE:  exportLedger,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the newest ledger entries",
	RunE:  tailLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd, ledgerExportCmd, ledgerTailCmd)

	ledgerCmd.PersistentFlags().StringVar(&ledgerFlags.itemID, "item", "", "restrict to one item")
	ledgerVerifyCmd.Flags().StringVarP(&ledgerFlags.format, "format", "f", "text", "report format: text, json, csv")
	ledgerExportCmd.Flags().StringVarP(&ledgerFlags.format, "format", "f", "json", "export format: json, jsonl, csv")
	ledgerExportCmd.Flags().StringVarP(&ledgerFlags.output, "output", "o", "", "output file (stdout if not specified)")
	ledgerExportCmd.Flags().StringVar(&ledgerFlags.since, "since", "", "only entries newer than this duration (e.g. 24h)")
	ledgerTailCmd.Flags().IntVarP(&ledgerFlags.limit, "limit", "n", 10, "number of entries")
}

func openLedger(ctx context.Context) (*ledger.Ledger, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	storage, err := openLedgerStorage(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, storage)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}
	return l, nil
}

// chainReport is the result of verifying one chain.
type chainReport struct {
	Chain   string `json:"chain"`
	Entries int    `json:"entries"`
	Valid   bool   `json:"valid"`
	Problem string `json:"problem,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
}

func verifyLedger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	reports, err := verifyChains(ctx, l, ledgerFlags.itemID, cmd.ErrOrStderr())
	if err != nil {
		return cli.NewCommandError("ledger verify", err)
	}
	if err := writeReports(cmd.OutOrStdout(), reports, cli.OutputFormat(ledgerFlags.format)); err != nil {
		return err
	}
	for _, r := range reports {
		if !r.Valid {
			return cli.NewCommandError("ledger verify", fmt.Errorf("chain %s is broken at seq %d", r.Chain, r.Seq))
		}
	}
	return nil
}

// verifyChains verifies one chain, or every chain when itemID is empty.
func verifyChains(ctx context.Context, l *ledger.Ledger, itemID string, progress io.Writer) ([]chainReport, error) {
	q := &ledger.Query{ItemID: itemID}
	if itemID == ledger.SystemChain {
		q.ItemID = ""
	}
	entries, err := l.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	chains := make(map[string][]*ledger.Entry)
	for _, e := range entries {
		if itemID != "" && e.ChainKey() != itemID {
			continue
		}
		chains[e.ChainKey()] = append(chains[e.ChainKey()], e)
	}
	if itemID != "" && len(chains) == 0 {
		chains[itemID] = nil
	}
	keys := make([]string, 0, len(chains))
	for k := range chains {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	p := cli.NewProgressReporter(progress, "Verifying")
	p.Start(int64(len(keys)))
	reports := make([]chainReport, 0, len(keys))
	for i, k := range keys {
		r := chainReport{Chain: k, Entries: len(chains[k]), Valid: true}
		var ce *ledger.ChainError
		switch err := ledger.VerifyChain(chains[k], k); {
		case errors.As(err, &ce):
			r.Valid, r.Problem, r.Seq = false, ce.Problem, ce.Seq
		case err != nil:
			p.Error(err)
			return nil, err
		}
		reports = append(reports, r)
		p.Update(int64(i + 1))
	}
	p.Finish()
	return reports, nil
}

// chainReports is written as CSV with one row per chain.
type chainReports []chainReport

func (c chainReports) Rows() [][]string {
	rows := [][]string{{"chain", "entries", "valid", "problem", "seq"}}
	for _, r := range c {
		rows = append(rows, []string{r.Chain, strconv.Itoa(r.Entries), strconv.FormatBool(r.Valid), r.Problem, strconv.FormatUint(r.Seq, 10)})
	}
	return rows
}

func writeReports(w io.Writer, reports []chainReport, format cli.OutputFormat) error {
	switch format {
	case cli.FormatJSON:
		return cli.NewFormatter(format).FormatTo(w, reports)
	case cli.FormatCSV:
		return cli.NewFormatter(format).FormatTo(w, chainReports(reports))
	}
	for _, r := range reports {
		if r.Valid {
			fmt.Fprintf(w, "✓ %s (%d entries)\n", r.Chain, r.Entries)
			continue
		}
		fmt.Fprintf(w, "✗ %s: %s at seq %d\n", r.Chain, r.Problem, r.Seq)
	}
	return nil
}

func exportLedger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	exporter, err := export.New(export.Format(ledgerFlags.format))
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	q := &ledger.Query{ItemID: ledgerFlags.itemID}
	if ledgerFlags.since != "" {
		d, err := time.ParseDuration(ledgerFlags.since)
		if err != nil {
			return cli.NewConfigError("since", err.Error())
		}
		q.Since = time.Now().Add(-d)
	}

	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("ledger export", err)
	}

	w := cmd.OutOrStdout()
	if ledgerFlags.output != "" {
		f, err := os.Create(ledgerFlags.output)
		if err != nil {
			return cli.NewCommandError("ledger export", err)
		}
		defer f.Close()
		w = f
	}
	if err := exporter.Export(ctx, entries, w); err != nil {
		return cli.NewCommandError("ledger export", err)
	}
	if ledgerFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d entries to %s\n", len(entries), ledgerFlags.output)
	}
	return nil
}

func tailLedger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	l, err := openLedger(ctx)
	if err != nil {
		return err
	}
	defer l.Close()

	entries, err := l.Query(ctx, &ledger.Query{ItemID: ledgerFlags.itemID})
	if err != nil {
		return cli.NewCommandError("ledger tail", err)
	}
	printEntries(cmd.OutOrStdout(), tail(entries, ledgerFlags.limit))
	return nil
}

func tail(entries []*ledger.Entry, n int) []*ledger.Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

func printEntries(w io.Writer, entries []*ledger.Entry) {
	for _, e := range entries {
		fmt.Fprintf(w, "%6d  %s  %-22s %-16s", e.Seq, e.Time.UTC().Format(time.RFC3339), e.Kind, e.ChainKey())
		if e.Plan != nil {
			fmt.Fprintf(w, "  %s", e.Plan.Kind)
		}
		if e.Transition != nil {
			fmt.Fprintf(w, "  %s -> %s", e.Transition.From, e.Transition.To)
		}
		if e.Reason != "" {
			fmt.Fprintf(w, "  %s", e.Reason)
		}
		fmt.Fprintln(w)
	}
}
