// Package reconcile matches scanned online orders against current stock.
//
// A customer who ordered on the website scans a QR token at the kiosk. The
// Reconciler looks up the queued order, dispenses whatever current stock
// allows (fully, partially, or not at all, line by line), writes the
// outcome back to the queue sheet, and records sales for exactly what was
// dispensed.
//
// Partial fulfillment is a normal outcome, not a failure: reservations made
// for earlier lines are never rolled back because a later line is short.
// A PartiallyFilled order can be scanned again once stock is replenished;
// only the remaining shortfall is reconciled.
//
// Scans of the same token are serialized. Scans of different tokens compete
// for stock through the Ledger's lock, so scarce stock goes to whichever
// order is scanned first.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/sales"
)

// OrderSource resolves a token to a queued order. order.Queue implements it.
type OrderSource interface {
	Lookup(ctx context.Context, token string) (*order.Order, error)
}

// LineOutcome reports one line of a scan.
type LineOutcome struct {
	ItemName  string `json:"item"`
	Requested int    `json:"requested"`
	Dispensed int    `json:"dispensed"` // this scan
	Fulfilled int    `json:"fulfilled"` // cumulative
	Shortfall int    `json:"shortfall"`
	Reason    string `json:"reason,omitempty"`
}

// Outcome is the result of a scan.
type Outcome struct {
	Token  string         `json:"token"`
	Status order.Status   `json:"status"`
	Lines  []LineOutcome  `json:"lines"`
	Sales  []sales.Record `json:"sales,omitempty"`
}

// Dispensed returns the number of cups dispensed by this scan.
func (o Outcome) Dispensed() int {
	n := 0
	for _, l := range o.Lines {
		n += l.Dispensed
	}
	return n
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reconciler performs order-queue scans.
type Reconciler struct {
	orders   OrderSource
	ledger   *inventory.Ledger
	marker   inventory.Marker
	recorder *sales.Recorder
	logger   *slog.Logger

	locks *keyedMutex

	// progress remembers what this process already dispensed per token.
	// Queue write-backs are batched, so the remote sheet can lag behind.
	mu       sync.Mutex
	progress map[string]*order.Order
}

// New creates a reconciler.
func New(orders OrderSource, ledger *inventory.Ledger, marker inventory.Marker, recorder *sales.Recorder, opts ...Option) *Reconciler {
	r := &Reconciler{
		orders:   orders,
		ledger:   ledger,
		marker:   marker,
		recorder: recorder,
		logger:   slog.Default(),
		locks:    newKeyedMutex(),
		progress: make(map[string]*order.Order),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scan reconciles the order behind token.
//
// Returns NOT_FOUND for unknown tokens and for orders already Filled or
// Rejected, REMOTE_UNAVAILABLE when the queue cannot be read. Stock
// shortfalls are reported in the Outcome, never as errors.
func (r *Reconciler) Scan(ctx context.Context, token string) (Outcome, error) {
	unlock := r.locks.Lock(token)
	defer unlock()

	if known := r.known(token); known != nil && known.Status.Terminal() {
		return Outcome{}, kioskerr.NotFound("order", token)
	}

	o, err := r.orders.Lookup(ctx, token)
	if err != nil {
		return Outcome{}, err
	}
	if !r.merge(o) {
		return Outcome{}, kioskerr.NotFound("order", token)
	}

	out := Outcome{Token: o.ID}
	for i := range o.Lines {
		lo, rec := r.fill(o, &o.Lines[i])
		out.Lines = append(out.Lines, lo)
		if rec != nil {
			out.Sales = append(out.Sales, *rec)
		}
	}

	next := decide(o)
	if err := o.Transition(next); err != nil {
		// decide never produces a regression; reaching this is a bug.
		panic(err)
	}
	out.Status = o.Status

	r.remember(o)
	for _, l := range o.Lines {
		r.marker.MarkDirty(remote.SheetOnlineQueue, l.RowKey, order.LineRecord(o, l))
	}
	r.recorder.Record(ctx, out.Sales...)

	r.logger.Info("online order reconciled",
		"token", token,
		"status", out.Status,
		"dispensed", out.Dispensed(),
	)
	return out, nil
}

// fill reconciles one line against the ledger.
func (r *Reconciler) fill(o *order.Order, l *order.Line) (LineOutcome, *sales.Record) {
	lo := LineOutcome{ItemName: l.ItemName, Requested: l.Requested}
	remaining := l.Remaining()
	if remaining == 0 {
		lo.Fulfilled = l.Fulfilled
		return lo, nil
	}

	item, err := r.ledger.Get(l.ItemID)
	if err != nil {
		lo.Fulfilled = l.Fulfilled
		lo.Shortfall = remaining
		lo.Reason = "not sold at this kiosk"
		return lo, nil
	}
	l.ItemID = item.ID

	k, err := r.ledger.ReserveUpTo(item.ID, remaining)
	if err != nil {
		lo.Fulfilled = l.Fulfilled
		lo.Shortfall = remaining
		lo.Reason = err.Error()
		return lo, nil
	}
	if k > 0 {
		k = r.reserveAdditives(item.ID, l, k)
	}

	l.Fulfilled += k
	lo.Dispensed = k
	lo.Fulfilled = l.Fulfilled
	lo.Shortfall = l.Remaining()
	if lo.Shortfall > 0 {
		lo.Reason = "insufficient stock"
	}
	if k == 0 {
		return lo, nil
	}
	rec := r.recorder.Line(o, *l, k, item.Price)
	return lo, &rec
}

// reserveAdditives takes the additives for cups of coffeeID already
// reserved, shrinking cups to what every additive can cover. Surplus coffee
// and additives are released. Additives the kiosk does not stock are not
// limiting.
func (r *Reconciler) reserveAdditives(coffeeID string, l *order.Line, cups int) int {
	adds := l.Customization.Additives()
	taken := make(map[string]int, len(adds))
	got := cups
	for _, a := range adds {
		n, err := r.ledger.ReserveUpTo(a.ItemID, a.Level*got)
		if err != nil {
			r.logger.Warn("additive not stocked", "additive", a.ItemID, "error", err)
			continue
		}
		taken[a.ItemID] = n
		if c := n / a.Level; c < got {
			got = c
		}
	}

	for _, a := range adds {
		if n, ok := taken[a.ItemID]; ok {
			_ = r.ledger.Release(a.ItemID, n-a.Level*got)
		}
	}
	if got < cups {
		_ = r.ledger.Release(coffeeID, cups-got)
	}
	return got
}

// decide picks the order status after a scan.
func decide(o *order.Order) order.Status {
	done := true
	for _, l := range o.Lines {
		if l.Remaining() > 0 {
			done = false
			break
		}
	}
	switch {
	case done:
		return order.StatusFilled
	case o.Dispensed():
		return order.StatusPartiallyFilled
	default:
		return order.StatusRejected
	}
}

func (r *Reconciler) known(token string) *order.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress[token]
}

// merge folds locally known progress into a freshly read order. Returns
// false when the order is already terminal.
func (r *Reconciler) merge(o *order.Order) bool {
	known := r.known(o.Token)
	if known == nil {
		return true
	}
	if known.Status.Terminal() {
		return false
	}
	if known.Status == order.StatusPartiallyFilled && o.Status == order.StatusPending {
		o.Status = order.StatusPartiallyFilled
	}
	done := make(map[string]int, len(known.Lines))
	for _, l := range known.Lines {
		done[l.RowKey] = l.Fulfilled
	}
	for i := range o.Lines {
		if f := done[o.Lines[i].RowKey]; f > o.Lines[i].Fulfilled {
			o.Lines[i].Fulfilled = f
		}
	}
	return true
}

func (r *Reconciler) remember(o *order.Order) {
	cp := *o
	cp.Lines = append([]order.Line(nil), o.Lines...)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress[o.Token] = &cp
}
