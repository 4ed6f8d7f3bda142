package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/kopikiosk/internal/app"
	"github.com/roach88/kopikiosk/internal/kioskerr"
)

// AdminOptions holds flags shared by admin commands.
type AdminOptions struct {
	*RootOptions
	Code string
}

// NewRestockCommand creates the restock command.
func NewRestockCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "restock <item> <qty>",
		Short: "Add stock to an item",
		Long: `Add units to a coffee or additive and write the new quantity straight
through to the remote store.

Example:
  kopikiosk restock "Kopi Susu" 20 --code 1234567890
  kopikiosk restock gula 50 --code 1234567890`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("quantity must be a positive integer, got %q", args[1]))
			}
			return restockItem(opts, args[0], qty, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "admin code (required)")
	_ = cmd.MarkFlagRequired("code")

	return cmd
}

func restockItem(opts *AdminOptions, id string, qty int, cmd *cobra.Command) error {
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

	sess, err := a.Admin.Authenticate(opts.Code)
	if err != nil {
		return out.Fail("restock refused", err)
	}
	it, err := a.Admin.Restock(ctx, sess, id, qty)
	if err != nil && !kioskerr.IsRemoteUnavailable(err) {
		return out.Fail("restock failed", err)
	}
	if err != nil {
		// Stock changed locally only; one more attempt before exiting.
		if _, drainErr := a.Sync.Drain(cfg.Shutdown); drainErr != nil {
			return out.Fail("restock not saved", drainErr)
		}
	}

	return out.Render(it, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s now at %d.\n", it.Name, it.Quantity)
		return err
	})
}

// RotateOptions holds flags for the rotate-code command.
type RotateOptions struct {
	AdminOptions
	NewCode string
}

// NewRotateCodeCommand creates the rotate-code command.
func NewRotateCodeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RotateOptions{AdminOptions: AdminOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "rotate-code",
		Short: "Change the admin code",
		Long: `Replace the admin code. The new code is saved to ADMIN_CODE_FILE before it
takes effect; the old code stops working immediately.

Example:
  kopikiosk rotate-code --code 1234567890 --new 80914422`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rotateCode(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "current admin code (required)")
	cmd.Flags().StringVar(&opts.NewCode, "new", "", "new admin code (required)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("new")

	return cmd
}

func rotateCode(opts *RotateOptions, cmd *cobra.Command) error {
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

	sess, err := a.Admin.Authenticate(opts.Code)
	if err != nil {
		return out.Fail("rotation refused", err)
	}
	if err := a.Admin.RotateCode(ctx, sess, opts.NewCode); err != nil {
		return out.Fail("rotation failed", err)
	}
	return out.Render(map[string]string{"admin_code_file": cfg.Admin.CodeFile, "status": "rotated"}, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "Admin code changed.")
		return err
	})
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
