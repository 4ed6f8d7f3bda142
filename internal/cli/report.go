package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kopikiosk/internal/app"
	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/sales"
)

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the menu, sales totals and the bestseller",
		Long: `Read the stock and sales sheets from the remote store and print the menu,
cups sold and revenue per item, and the bestseller.

Example:
  kopikiosk report
  kopikiosk report --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showReport(rootOpts, cmd)
		},
	}
}

func showReport(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.setupLogging(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	ctx := commandContext(cmd)
	store, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	ledger := inventory.New(nil)
	skipped, err := ledger.Load(ctx, store)
	if err != nil {
		return out.Fail("read stock", err)
	}
	if skipped > 0 {
		out.VerboseLog("skipped %d malformed stock row(s)", skipped)
	}
	recs, err := sales.LoadRecords(ctx, store)
	if err != nil {
		return out.Fail("read sales", err)
	}

	rep := sales.Summarize(recs)
	rep.Stock = ledger.Snapshot()
	return out.Render(rep, func(w io.Writer) error {
		return sales.RenderText(w, rep)
	})
}
