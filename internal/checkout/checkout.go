// Package checkout runs the walk-in purchase flow at the kiosk terminal.
//
// Stock for the whole cart is reserved up front. Payment then either
// commits the order (sales are recorded once) or, for an abandoned or
// expired QRIS payment, releases every reservation.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/payment"
	"github.com/roach88/kopikiosk/internal/sales"
)

// ErrInsufficientCash is returned when the cash handed over does not cover
// the total.
var ErrInsufficientCash = errors.New("insufficient cash")

// ErrEmptyCart is returned when a checkout has no lines.
var ErrEmptyCart = errors.New("cart is empty")

// Receipt is the result of a committed order.
type Receipt struct {
	Order  *order.Order   `json:"order"`
	Sales  []sales.Record `json:"sales"`
	Total  int64          `json:"total"`
	Paid   int64          `json:"paid"`
	Change int64          `json:"change"`
}

// Option configures a Checkout.
type Option func(*Checkout)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checkout) {
		if l != nil {
			c.logger = l
		}
	}
}

// Checkout creates walk-in orders.
type Checkout struct {
	ledger   *inventory.Ledger
	recorder *sales.Recorder
	payments *payment.Registry
	logger   *slog.Logger
}

// New creates a checkout.
func New(ledger *inventory.Ledger, recorder *sales.Recorder, payments *payment.Registry, opts ...Option) *Checkout {
	c := &Checkout{
		ledger:   ledger,
		recorder: recorder,
		payments: payments,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type hold struct {
	itemID string
	qty    int
}

// Pending is an order whose stock is reserved but not yet paid for.
type Pending struct {
	c     *Checkout
	Order *order.Order
	Total int64

	mu      sync.Mutex
	held    []hold
	settled bool
	receipt *Receipt
}

// Reserve validates lines and reserves coffee and additives for all of
// them. Either everything is reserved or nothing is.
func (c *Checkout) Reserve(lines []order.Line) (*Pending, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	p := &Pending{
		c: c,
		Order: &order.Order{
			ID:     order.NewID(),
			Status: order.StatusPending,
			Source: order.SourceWalkIn,
		},
	}

	for _, l := range lines {
		if l.Requested <= 0 {
			p.rollback()
			return nil, fmt.Errorf("%s: quantity must be positive", l.ItemName)
		}
		if err := l.Customization.Validate(); err != nil {
			p.rollback()
			return nil, err
		}
		item, err := c.ledger.Get(firstNonEmpty(l.ItemID, l.ItemName))
		if err != nil {
			p.rollback()
			return nil, err
		}
		if item.Category != inventory.CategoryCoffee {
			p.rollback()
			return nil, kioskerr.NotFound("coffee", item.Name)
		}
		if err := p.take(item.ID, l.Requested); err != nil {
			p.rollback()
			return nil, err
		}
		for _, a := range l.Customization.Additives() {
			if err := p.take(a.ItemID, a.Level*l.Requested); err != nil {
				p.rollback()
				return nil, err
			}
		}

		l.ItemID = item.ID
		l.ItemName = item.Name
		l.Fulfilled = 0
		p.Order.Lines = append(p.Order.Lines, l)
		p.Total += item.Price * int64(l.Requested)
	}
	c.logger.Debug("walk-in order reserved", "order", p.Order.ID, "lines", len(p.Order.Lines), "total", p.Total)
	return p, nil
}

func (p *Pending) take(id string, qty int) error {
	if err := p.c.ledger.Reserve(id, qty); err != nil {
		return err
	}
	p.held = append(p.held, hold{itemID: id, qty: qty})
	return nil
}

func (p *Pending) rollback() {
	for i := len(p.held) - 1; i >= 0; i-- {
		h := p.held[i]
		if err := p.c.ledger.Release(h.itemID, h.qty); err != nil {
			p.c.logger.Error("release failed", "item", h.itemID, "qty", h.qty, "error", err)
		}
	}
	p.held = nil
}

// Settled reports whether the order was committed or released.
func (p *Pending) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settled
}

// commit marks every line fulfilled and records the sales. Only the first
// call has an effect.
func (p *Pending) commit(ctx context.Context, method string, paid int64) (Receipt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		if p.receipt != nil {
			return *p.receipt, false
		}
		return Receipt{Order: p.Order}, false
	}
	p.settled = true

	o := p.Order
	o.PaymentMethod = method
	var recs []sales.Record
	for i := range o.Lines {
		l := &o.Lines[i]
		l.Fulfilled = l.Requested
		item, err := p.c.ledger.Get(l.ItemID)
		price := int64(0)
		if err == nil {
			price = item.Price
		}
		recs = append(recs, p.c.recorder.Line(o, *l, l.Requested, price))
	}
	if err := o.Transition(order.StatusFilled); err != nil {
		panic(err)
	}
	p.c.recorder.Record(ctx, recs...)

	r := Receipt{Order: o, Sales: recs, Total: p.Total, Paid: paid, Change: paid - p.Total}
	p.receipt = &r
	p.c.logger.Info("walk-in order committed", "order", o.ID, "method", method, "total", p.Total)
	return r, true
}

// Cancel releases every reservation. It has no effect once the order is
// settled.
func (p *Pending) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.settled = true
	p.rollback()
	p.Order.Status = order.StatusExpired
	p.c.logger.Info("walk-in order released", "order", p.Order.ID)
}

// PayCash commits the order against paid. The reservation is kept when the
// cash is short so the customer can try again or cancel.
func (p *Pending) PayCash(ctx context.Context, paid int64) (Receipt, error) {
	if paid < p.Total {
		return Receipt{}, fmt.Errorf("%w: paid %s, total %s",
			ErrInsufficientCash, sales.FormatRupiah(paid), sales.FormatRupiah(p.Total))
	}
	r, ok := p.commit(ctx, order.MethodCash, paid)
	if !ok {
		return r, fmt.Errorf("order %s already settled", p.Order.ID)
	}
	return r, nil
}

// StartQRIS opens a payment session for the order. Confirmation commits
// the order; expiry or cancellation releases it.
func (p *Pending) StartQRIS() *payment.Session {
	return p.c.payments.Create(p.Order.ID, p.Total, order.MethodQRIS, payment.Hooks{
		OnCommit: func(ctx context.Context, _ payment.Snapshot) {
			p.commit(ctx, order.MethodQRIS, p.Total)
		},
		OnExpire: func(context.Context, payment.Snapshot) {
			p.Cancel()
		},
	})
}

// AwaitQRIS blocks until the session is confirmed or expires. Cancelling
// ctx cancels the session; if the customer confirmed first the order is
// still committed.
func (p *Pending) AwaitQRIS(ctx context.Context, s *payment.Session) (Receipt, error) {
	select {
	case <-s.Done():
	case <-ctx.Done():
		if _, err := p.c.payments.Cancel(context.WithoutCancel(ctx), s.Token()); err != nil {
			p.Cancel()
			return Receipt{}, err
		}
		<-s.Done()
	}

	if s.Snapshot().State != payment.StateConfirmed {
		return Receipt{}, kioskerr.SessionExpired(s.Token())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.receipt == nil {
		return Receipt{}, fmt.Errorf("order %s confirmed but not committed", p.Order.ID)
	}
	return *p.receipt, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
