package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kopikiosk/internal/app"
	"github.com/roach88/kopikiosk/internal/catalog"
	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/sales"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <catalog-file>",
		Short: "Initialize stock sheets from a catalog",
		Long: `Validate a menu catalog (.yaml, .yml or .cue) and write every coffee and
additive to the remote store. Existing rows for the same items are replaced.

Example:
  kopikiosk seed menu.yaml
  kopikiosk seed --store postgres menu.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedCatalog(rootOpts, args[0], cmd)
		},
	}
}

func seedCatalog(opts *RootOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.setupLogging(cmd.ErrOrStderr())
	out := opts.formatter(cmd)

	cat, err := catalog.LoadFile(path)
	if err != nil {
		_ = out.Error("INVALID_CATALOG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid catalog", err)
	}
	out.VerboseLog("catalog %s: %d coffees, %d additives", path, len(cat.Coffees), len(cat.Additives))

	ctx := commandContext(cmd)
	store, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer store.Close()

	n, err := catalog.Seed(ctx, store, cat)
	if err != nil {
		return out.Fail(fmt.Sprintf("seeded %d item(s) before failing", n), err)
	}

	items := cat.Items()
	return out.Render(map[string]any{"seeded": n, "items": items}, func(w io.Writer) error {
		for _, it := range items {
			price := "-"
			if it.Category == inventory.CategoryCoffee {
				price = sales.FormatRupiah(it.Price)
			}
			fmt.Fprintf(w, "  %-20s %10s  %d\n", it.Name, price, it.Quantity)
		}
		_, err := fmt.Fprintf(w, "Seeded %d item(s) from %s.\n", n, path)
		return err
	})
}
