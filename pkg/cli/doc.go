/*
Package cli provides helpers shared by the lethe commands: typed errors
with exit codes, output formatters, a progress reporter for long ledger
scans, and signal handling for graceful shutdown.

Output Formatting:

Reports can be printed as text, JSON, or CSV. CSV output takes a value
implementing Rows:

	f := cli.NewFormatter(cli.FormatJSON)
	if err := f.FormatTo(os.Stdout, reports); err != nil {
		return err
	}

Progress Reporting:

	p := cli.NewProgressReporter(os.Stderr)
	p.Start(int64(len(chains)))
	for i := range chains {
		// verify
		p.Update(int64(i + 1))
	}
	p.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
