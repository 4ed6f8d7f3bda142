package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/kopikiosk/internal/app"
	"github.com/roach88/kopikiosk/internal/config"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the interactive kiosk",
		Long: `Start the interactive kiosk on this terminal.

The confirmation web server, the sync scheduler and (when KAFKA_BROKERS is
set) the sales feed and online order intake run in the background. Exiting
the kiosk or pressing Ctrl-C writes every pending change to the remote store
before the process ends.

Example:
  kopikiosk run
  kopikiosk run --db ./kiosk.db --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKiosk(rootOpts, cmd, true)
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background services without a terminal",
		Long: `Run the confirmation web server, the sync scheduler, the payment sweeper
and the optional Kafka feeds until interrupted.

Example:
  kopikiosk serve --store postgres`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKiosk(rootOpts, cmd, false)
		},
	}
}

func runKiosk(opts *RootOptions, cmd *cobra.Command, interactive bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	// The kiosk owns stdout; logs go to stderr.
	logger := opts.setupLogging(cmd.ErrOrStderr())

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()

	if interactive {
		err = a.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", cfg.Server.Address())
		err = a.Serve(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "kiosk stopped with an error", err)
	}

	slog.Info("kiosk stopped gracefully")
	return nil
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...app.Option) (*app.App, error) {
	opts = append(opts, app.WithLogger(logger))
	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start kiosk", err)
	}
	return a, nil
}
