// Package kiosk is the interactive terminal session customers and staff use
// at the machine.
//
// Every prompt times out; a timed-out flow returns to the main menu without
// side effects (a cart's reservations are released).
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/kopikiosk/internal/admin"
	"github.com/roach88/kopikiosk/internal/checkout"
	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/payment"
	"github.com/roach88/kopikiosk/internal/reconcile"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/sales"
)

// DefaultPromptTimeout is how long a prompt waits for an answer.
const DefaultPromptTimeout = 60 * time.Second

// ErrShutdown is returned by Run when an authenticated admin shuts the
// kiosk down.
var ErrShutdown = errors.New("kiosk shut down by admin")

// Deps are the services a session drives.
type Deps struct {
	Ledger     *inventory.Ledger
	Checkout   *checkout.Checkout
	Reconciler *reconcile.Reconciler
	Admin      *admin.Gate
	Store      remote.Store // read for the sales report
	BaseURL    string       // confirmation server address for QR codes
}

// Option configures a Session.
type Option func(*Session)

// WithPromptTimeout sets the per-prompt timeout.
func WithPromptTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is one terminal.
type Session struct {
	deps    Deps
	out     io.Writer
	logger  *slog.Logger
	timeout time.Duration
	p       *Prompter
}

// New creates a session reading answers from in and writing to out.
func New(deps Deps, in io.Reader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		deps:    deps,
		out:     out,
		logger:  slog.Default(),
		timeout: DefaultPromptTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.p = NewPrompter(in, out, s.timeout)
	return s
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// Run shows the main menu until input ends, ctx is cancelled, or an admin
// shuts the kiosk down (ErrShutdown). Customers cannot leave the menu loop.
func (s *Session) Run(ctx context.Context) error {
	defer s.p.Close()
	for {
		s.printf("\n=== KOPI KIOSK ===\n")
		s.printf("1. Order coffee\n2. Scan online order\n3. Admin\n4. Menu & bestseller\n")
		choice, err := s.p.Ask(ctx, "Choose [1-4]: ")
		switch {
		case errors.Is(err, ErrTimeout):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		var flowErr error
		switch choice {
		case "1":
			flowErr = s.orderFlow(ctx)
		case "2":
			flowErr = s.scanFlow(ctx)
		case "3":
			flowErr = s.adminFlow(ctx)
		case "4":
			flowErr = s.reportFlow(ctx)
		default:
			s.printf("Unknown choice %q.\n", choice)
			continue
		}

		switch {
		case flowErr == nil:
		case errors.Is(flowErr, ErrTimeout):
			s.printf("No answer, returning to the main menu.\n")
		case errors.Is(flowErr, ErrCancelled):
			s.printf("Cancelled.\n")
		case errors.Is(flowErr, ErrShutdown):
			s.printf("Shutting down. Pending changes are being saved.\n")
			return ErrShutdown
		case errors.Is(flowErr, io.EOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			s.report(flowErr)
		}
	}
}

// report shows err to the customer and logs the detail.
func (s *Session) report(err error) {
	s.printf("%s\n", describe(err))
	s.logger.Warn("kiosk flow failed", "error", err)
}

// describe renders an error for customers without remote-store internals.
func describe(err error) string {
	switch {
	case kioskerr.IsInsufficientStock(err):
		var ke *kioskerr.Error
		if errors.As(err, &ke) {
			return fmt.Sprintf("Sorry, not enough %s: %s.", ke.ID, ke.Message)
		}
		return "Sorry, not enough stock."
	case kioskerr.IsNotFound(err):
		return "Not found."
	case kioskerr.IsRemoteUnavailable(err), kioskerr.IsInconsistent(err):
		return "The store is unreachable right now. Please try again later."
	case kioskerr.IsSessionExpired(err):
		return "Payment session expired; the order was cancelled."
	case kioskerr.IsDenied(err):
		return "Access denied."
	default:
		return "Something went wrong. Please ask staff for help."
	}
}

func (s *Session) coffees() []inventory.Item {
	var out []inventory.Item
	for _, it := range s.deps.Ledger.Snapshot() {
		if it.Category == inventory.CategoryCoffee {
			out = append(out, it)
		}
	}
	return out
}

func (s *Session) orderFlow(ctx context.Context) error {
	menu := s.coffees()
	if len(menu) == 0 {
		s.printf("The menu is empty.\n")
		return nil
	}

	var lines []order.Line
	for {
		s.printf("\nMENU\n")
		for i, it := range menu {
			s.printf("%d. %-20s %10s  (%d left)\n", i+1, it.Name, sales.FormatRupiah(it.Price), it.Quantity)
		}
		n, err := s.p.AskInt(ctx, "Coffee # (Enter to finish): ", 1, len(menu), 0)
		if errors.Is(err, ErrCancelled) {
			break
		}
		if err != nil {
			return err
		}
		line, err := s.askLine(ctx, menu[n-1])
		if err != nil {
			return err
		}
		lines = addLine(lines, line)
	}
	if len(lines) == 0 {
		return ErrCancelled
	}

	pending, err := s.deps.Checkout.Reserve(lines)
	if err != nil {
		return err
	}
	defer pending.Cancel()

	s.printf("\nTotal: %s\n", sales.FormatRupiah(pending.Total))
	method, err := s.p.AskInt(ctx, "Pay with (1) cash (2) QRIS, Enter to cancel: ", 1, 2, 0)
	if err != nil {
		return err
	}

	var receipt checkout.Receipt
	if method == 1 {
		receipt, err = s.payCash(ctx, pending)
	} else {
		receipt, err = s.payQRIS(ctx, pending)
	}
	if err != nil {
		return err
	}
	s.printReceipt(receipt)
	return nil
}

// addLine merges line into a cart entry with the same coffee and
// customization, or appends it.
func addLine(lines []order.Line, line order.Line) []order.Line {
	for i := range lines {
		if lines[i].ItemID == line.ItemID && lines[i].Customization == line.Customization {
			lines[i].Requested += line.Requested
			return lines
		}
	}
	return append(lines, line)
}

func (s *Session) askLine(ctx context.Context, it inventory.Item) (order.Line, error) {
	qty, err := s.p.AskInt(ctx, "Quantity [1]: ", 1, 20, 1)
	if err != nil {
		return order.Line{}, err
	}
	temp := order.Hot
	for {
		ans, err := s.p.Ask(ctx, "Temperature (h)ot/(c)old [h]: ")
		if err != nil {
			return order.Line{}, err
		}
		switch strings.ToLower(ans) {
		case "", "h", "hot":
			temp = order.Hot
		case "c", "cold":
			temp = order.Cold
		default:
			s.printf("Please answer h or c.\n")
			continue
		}
		break
	}

	c := order.Customization{Temperature: temp}
	for _, lvl := range []struct {
		label string
		dst   *int
	}{
		{"Sugar", &c.Sugar}, {"Creamer", &c.Creamer}, {"Milk", &c.Milk}, {"Chocolate", &c.Chocolate},
	} {
		n, err := s.p.AskInt(ctx, fmt.Sprintf("%s 0-%d [0]: ", lvl.label, order.MaxLevel), 0, order.MaxLevel, 0)
		if err != nil {
			return order.Line{}, err
		}
		*lvl.dst = n
	}
	return order.Line{ItemID: it.ID, ItemName: it.Name, Requested: qty, Customization: c}, nil
}

func (s *Session) payCash(ctx context.Context, p *checkout.Pending) (checkout.Receipt, error) {
	for {
		paid, err := s.p.AskAmount(ctx, "Cash received: ")
		if err != nil {
			return checkout.Receipt{}, err
		}
		r, err := p.PayCash(ctx, paid)
		if errors.Is(err, checkout.ErrInsufficientCash) {
			s.printf("Not enough: total is %s.\n", sales.FormatRupiah(p.Total))
			continue
		}
		return r, err
	}
}

func (s *Session) payQRIS(ctx context.Context, p *checkout.Pending) (checkout.Receipt, error) {
	sess := p.StartQRIS()
	snap := sess.Snapshot()
	s.printf("\nScan to pay %s:\n  %s\n", sales.FormatRupiah(p.Total), payment.URL(s.deps.BaseURL, sess.Token()))
	s.printf("Reference ID: %s (valid until %s)\n", sess.Token(), snap.Deadline.Format("15:04:05"))
	s.printf("Waiting for payment, press Enter to cancel...\n")

	waitCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	defer func() {
		cancel()
		<-stopped
	}()
	go func() {
		defer close(stopped)
		if _, err := s.p.Wait(waitCtx); err == nil {
			cancel()
		}
	}()
	return p.AwaitQRIS(waitCtx, sess)
}

func (s *Session) printReceipt(r checkout.Receipt) {
	s.printf("\nRECEIPT %s (%s)\n", r.Order.ID, r.Order.PaymentMethod)
	for _, rec := range r.Sales {
		s.printf("  %dx %-18s %s  %10s\n", rec.Quantity, rec.ItemName, rec.Temperature, sales.FormatRupiah(rec.Total))
	}
	s.printf("Total: %s\n", sales.FormatRupiah(r.Total))
	if r.Order.PaymentMethod == order.MethodCash {
		s.printf("Paid: %s  Change: %s\n", sales.FormatRupiah(r.Paid), sales.FormatRupiah(r.Change))
	}
	s.printf("Enjoy your coffee!\n")
}

func (s *Session) scanFlow(ctx context.Context) error {
	token, err := s.p.Ask(ctx, "Scan QR code (or type token): ")
	if err != nil {
		return err
	}
	if token == "" {
		return ErrCancelled
	}
	out, err := s.deps.Reconciler.Scan(ctx, token)
	if kioskerr.IsNotFound(err) {
		s.printf("No open online order for %q.\n", token)
		return nil
	}
	if err != nil {
		return err
	}

	for _, l := range out.Lines {
		switch {
		case l.Dispensed > 0 && l.Shortfall == 0:
			s.printf("  %-18s dispensing %d\n", l.ItemName, l.Dispensed)
		case l.Dispensed > 0:
			s.printf("  %-18s dispensing %d, %d still owed\n", l.ItemName, l.Dispensed, l.Shortfall)
		case l.Shortfall > 0:
			s.printf("  %-18s unavailable (%d owed)\n", l.ItemName, l.Shortfall)
		default:
			s.printf("  %-18s already served\n", l.ItemName)
		}
	}
	switch out.Status {
	case order.StatusFilled:
		s.printf("Order complete. Enjoy!\n")
	case order.StatusPartiallyFilled:
		s.printf("Order partly served. Scan again once stock is refilled.\n")
	case order.StatusRejected:
		s.printf("Sorry, none of this order is available right now.\n")
	}
	return nil
}

func (s *Session) adminFlow(ctx context.Context) error {
	code, err := s.p.Ask(ctx, "Admin code: ")
	if err != nil {
		return err
	}
	sess, err := s.deps.Admin.Authenticate(code)
	if err != nil {
		return err
	}

	for {
		s.printf("\nADMIN\n1. Restock\n2. Change admin code\n3. Shut down kiosk\n4. Back\n")
		choice, err := s.p.AskInt(ctx, "Choose [1-4]: ", 1, 4, 4)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.restock(ctx, sess)
		case 2:
			err = s.rotate(ctx, sess)
		case 3:
			err = s.shutdown(ctx, sess)
		case 4:
			return nil
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			if errors.Is(err, ErrShutdown) || errors.Is(err, ErrTimeout) || errors.Is(err, io.EOF) || kioskerr.IsDenied(err) {
				return err
			}
			s.report(err)
		}
	}
}

func (s *Session) shutdown(ctx context.Context, sess *admin.Session) error {
	if err := s.deps.Admin.Check(sess); err != nil {
		return err
	}
	ans, err := s.p.Ask(ctx, "Shut down the kiosk? (y/N): ")
	if err != nil {
		return err
	}
	if strings.ToLower(ans) != "y" {
		return ErrCancelled
	}
	s.logger.Info("kiosk shutdown requested", "session", sess.ID)
	return ErrShutdown
}

func (s *Session) restock(ctx context.Context, sess *admin.Session) error {
	items := s.deps.Ledger.Snapshot()
	if len(items) == 0 {
		s.printf("No items to restock.\n")
		return nil
	}
	for i, it := range items {
		s.printf("%d. %-20s %d\n", i+1, it.Name, it.Quantity)
	}
	n, err := s.p.AskInt(ctx, "Item # (Enter to go back): ", 1, len(items), 0)
	if err != nil {
		return err
	}
	qty, err := s.p.AskInt(ctx, "Units to add: ", 1, 100000, 0)
	if err != nil {
		return err
	}
	it, err := s.deps.Admin.Restock(ctx, sess, items[n-1].ID, qty)
	if kioskerr.IsRemoteUnavailable(err) {
		s.printf("%s now at %d. The store will be updated when it is reachable.\n", it.Name, it.Quantity)
		return nil
	}
	if err != nil {
		return err
	}
	s.printf("%s now at %d.\n", it.Name, it.Quantity)
	return nil
}

func (s *Session) rotate(ctx context.Context, sess *admin.Session) error {
	code, err := s.p.Ask(ctx, "New admin code: ")
	if err != nil {
		return err
	}
	if code == "" {
		return ErrCancelled
	}
	again, err := s.p.Ask(ctx, "Repeat new admin code: ")
	if err != nil {
		return err
	}
	if again != code {
		s.printf("Codes do not match.\n")
		return nil
	}
	if err := admin.ValidateCode(code); err != nil {
		s.printf("%s.\n", err)
		return nil
	}
	if err := s.deps.Admin.RotateCode(ctx, sess, code); err != nil {
		return err
	}
	s.printf("Admin code changed.\n")
	return nil
}

func (s *Session) reportFlow(ctx context.Context) error {
	recs, err := sales.LoadRecords(ctx, s.deps.Store)
	if err != nil {
		return err
	}
	rep := sales.Summarize(recs)
	rep.Stock = s.deps.Ledger.Snapshot()
	s.printf("\n")
	return sales.RenderText(s.out, rep)
}
