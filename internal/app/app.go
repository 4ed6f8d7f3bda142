// Package app wires the kiosk's components together and runs their
// lifecycles.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/kopikiosk/internal/admin"
	"github.com/roach88/kopikiosk/internal/checkout"
	"github.com/roach88/kopikiosk/internal/clock"
	"github.com/roach88/kopikiosk/internal/config"
	"github.com/roach88/kopikiosk/internal/confirm"
	"github.com/roach88/kopikiosk/internal/intake"
	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kiosk"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/payment"
	"github.com/roach88/kopikiosk/internal/reconcile"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/remote/memstore"
	"github.com/roach88/kopikiosk/internal/remote/pgstore"
	"github.com/roach88/kopikiosk/internal/remote/sqlitestore"
	"github.com/roach88/kopikiosk/internal/sales"
	"github.com/roach88/kopikiosk/internal/salesfeed"
	"github.com/roach88/kopikiosk/internal/syncer"
)

// sweepInterval is how often expired payment sessions are swept.
const sweepInterval = time.Second

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      remote.Store
	Sync       *syncer.Scheduler
	Ledger     *inventory.Ledger
	Recorder   *sales.Recorder
	Payments   *payment.Registry
	Checkout   *checkout.Checkout
	Reconciler *reconcile.Reconciler
	Admin      *admin.Gate
	Confirm    *confirm.Server

	logger  *slog.Logger
	clock   clock.Clock
	feed    *salesfeed.Publisher
	intake  *intake.Consumer
	noFeeds bool
}

// Option configures New.
type Option func(*App)

// WithStore uses store instead of opening the configured backend.
func WithStore(store remote.Store) Option {
	return func(a *App) { a.Store = store }
}

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the clock used for payment deadlines and sales.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithoutFeeds disables the Kafka sales feed and order intake even when
// brokers are configured. One-shot CLI commands use it.
func WithoutFeeds() Option {
	return func(a *App) { a.noFeeds = true }
}

// OpenStore opens the configured remote-store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (remote.Store, error) {
	switch cfg.Backend {
	case config.StoreSQLite:
		return sqlitestore.Open(cfg.SQLitePath)
	case config.StorePostgres:
		return pgstore.Open(ctx, pgstore.Config{DSN: cfg.PostgresDSN, MaxConns: cfg.MaxConns})
	case config.StoreMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// New opens the store, loads the ledger and builds every component.
// The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		Config: cfg,
		logger: slog.Default(),
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.Store == nil {
		store, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
		}
		a.Store = store
	}

	a.Sync = syncer.New(a.Store,
		syncer.WithInterval(cfg.Sync.Interval),
		syncer.WithBurst(cfg.Sync.Burst),
		syncer.WithRetry(cfg.Sync.RetryAttempts, cfg.Sync.RetryBackoff),
		syncer.WithLogger(a.logger),
	)

	a.Ledger = inventory.New(a.Sync)
	skipped, err := a.Ledger.Load(ctx, a.Store)
	if err != nil {
		a.closeStore()
		return nil, fmt.Errorf("load stock: %w", err)
	}
	if skipped > 0 {
		a.logger.Warn("skipped malformed stock rows", "count", skipped)
	}

	recOpts := []sales.RecorderOption{sales.WithClock(a.clock), sales.WithLogger(a.logger)}
	if cfg.Kafka.Enabled() && !a.noFeeds {
		feed, err := salesfeed.NewPublisher(salesfeed.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.SalesTopic,
		}, a.logger)
		if err != nil {
			a.closeStore()
			return nil, err
		}
		a.feed = feed
		recOpts = append(recOpts, sales.WithPublisher(feed))
	}
	a.Recorder = sales.NewRecorder(a.Sync, recOpts...)

	a.Payments = payment.NewRegistry(
		payment.WithClock(a.clock),
		payment.WithTimeout(cfg.Payment.Timeout),
		payment.WithMarker(a.Sync),
		payment.WithLogger(a.logger),
	)
	a.Checkout = checkout.New(a.Ledger, a.Recorder, a.Payments, checkout.WithLogger(a.logger))
	a.Reconciler = reconcile.New(order.NewQueue(a.Store, order.WithLogger(a.logger)), a.Ledger, a.Sync, a.Recorder, reconcile.WithLogger(a.logger))

	a.Admin, err = admin.NewGate(
		admin.NewFileCodeStore(cfg.Admin.CodeFile, cfg.Admin.DefaultCode),
		a.Ledger, a.Sync, admin.WithLogger(a.logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load admin code: %w", err)
	}

	a.Confirm = confirm.New(a.Payments, confirm.WithLogger(a.logger))

	if cfg.Kafka.Enabled() && !a.noFeeds {
		a.intake = intake.NewConsumer(intake.Config{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.OrderTopic,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
		}, intake.NewHandler(a.Store, a.logger), a.logger)
	}

	a.logger.Info("kiosk ready",
		"store", cfg.Store.Backend,
		"items", len(a.Ledger.Snapshot()),
		"kafka", cfg.Kafka.Enabled() && !a.noFeeds,
	)
	return a, nil
}

// Serve runs the background actors until ctx is cancelled: the sync
// scheduler, the payment sweeper, the confirmation server and, when
// configured, the order intake. On return every pending change has been
// drained to the remote store (or dropped and logged after
// Config.Shutdown).
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			a.logger.Error("component stopped", "component", name, "error", err)
			errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
			cancel()
		}()
	}

	start("sync", a.Sync.Run)
	start("payments", func(ctx context.Context) error { return a.Payments.Run(ctx, sweepInterval) })
	start("confirm", func(ctx context.Context) error {
		return a.Confirm.ListenAndServe(ctx, a.Config.Server.Address(), a.Config.Shutdown)
	})
	if a.intake != nil {
		start("intake", a.intake.Run)
	}

	<-ctx.Done()
	wg.Wait()

	res, err := a.Sync.Drain(a.Config.Shutdown)
	a.logger.Info("drained pending changes", "written", res.Written, "appended", res.Appended, "dropped", res.Dropped)
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("drain: %w", err)
	}
	return firstErr
}

// Run serves the background actors and drives an interactive kiosk session
// on in/out. It returns once the session ends (input closes or an admin
// shuts down) or ctx is cancelled, after pending changes are drained.
func (a *App) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	served := make(chan error, 1)
	go func() { served <- a.Serve(ctx) }()

	session := kiosk.New(kiosk.Deps{
		Ledger:     a.Ledger,
		Checkout:   a.Checkout,
		Reconciler: a.Reconciler,
		Admin:      a.Admin,
		Store:      a.Store,
		BaseURL:    a.Config.Server.PublicBaseURL,
	}, in, out, kiosk.WithPromptTimeout(a.Config.Prompt), kiosk.WithLogger(a.logger))

	sessErr := session.Run(ctx)
	if errors.Is(sessErr, kiosk.ErrShutdown) {
		a.logger.Info("kiosk shut down by admin")
		sessErr = nil
	}
	cancel()
	serveErr := <-served

	if sessErr != nil && !errors.Is(sessErr, context.Canceled) {
		return sessErr
	}
	return serveErr
}

// Close releases the feed, the intake reader and the store.
func (a *App) Close() error {
	if a.intake != nil {
		if err := a.intake.Close(); err != nil {
			a.logger.Warn("close order intake", "error", err)
		}
	}
	if a.feed != nil {
		a.feed.Close()
	}
	return a.closeStore()
}

func (a *App) closeStore() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
