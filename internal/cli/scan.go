package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kopikiosk/internal/app"
	"github.com/roach88/kopikiosk/internal/reconcile"
)

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <token>",
		Short: "Dispense an online order by its QR token",
		Long: `Reconcile the online order behind a QR token against current stock.

Everything that is in stock is dispensed; anything missing stays owed and the
order can be scanned again after a restock.

Example:
  kopikiosk scan QR-1042
  kopikiosk scan QR-1042 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scanOrder(rootOpts, args[0], cmd)
		},
	}
}

func scanOrder(opts *RootOptions, token string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := opts.setupLogging(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	ctx := commandContext(cmd)
	a, err := openApp(ctx, cfg, logger, app.WithoutFeeds())
	if err != nil {
		return err
	}
	defer a.Close()

	outcome, err := a.Reconciler.Scan(ctx, token)
	if err != nil {
		return out.Fail("scan failed", err)
	}
	if _, err := a.Sync.Drain(cfg.Shutdown); err != nil {
		return out.Fail("order dispensed but not written back", err)
	}

	return out.Render(outcome, func(w io.Writer) error {
		return printOutcome(w, outcome)
	})
}

func printOutcome(w io.Writer, o reconcile.Outcome) error {
	fmt.Fprintf(w, "Order %s: %s\n", o.Token, o.Status)
	for _, l := range o.Lines {
		line := fmt.Sprintf("  %-18s requested %d, dispensed %d", l.ItemName, l.Requested, l.Dispensed)
		if l.Shortfall > 0 {
			line += fmt.Sprintf(", owed %d", l.Shortfall)
		}
		if l.Reason != "" {
			line += " (" + l.Reason + ")"
		}
		fmt.Fprintln(w, line)
	}
	_, err := fmt.Fprintf(w, "Dispensed %d cup(s).\n", o.Dispensed())
	return err
}
