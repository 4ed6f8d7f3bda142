package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/payment"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/sales"
	"github.com/roach88/kopikiosk/internal/testutil"
)

type appendLog struct{ rows []remote.Record }

func (a *appendLog) Append(sheet remote.Sheet, rec remote.Record) {
	if sheet == remote.SheetSales {
		a.rows = append(a.rows, rec)
	}
}

type fixture struct {
	ledger   *inventory.Ledger
	sales    *appendLog
	clock    *testutil.FakeClock
	payments *payment.Registry
	co       *Checkout
}

func newFixture() *fixture {
	ledger := inventory.New(nil)
	ledger.Put(inventory.Item{Name: "Kopi Susu", Price: 15000, Quantity: 5})
	ledger.Put(inventory.Item{Name: "Espresso", Price: 12000, Quantity: 2})
	ledger.Put(inventory.Item{Name: "gula", Quantity: 4, Category: inventory.CategoryAdditive})
	ledger.Put(inventory.Item{Name: "susu", Quantity: 10, Category: inventory.CategoryAdditive})

	log := &appendLog{}
	clk := testutil.NewFakeClock()
	payments := payment.NewRegistry(
		payment.WithClock(clk),
		payment.WithTokens(testutil.NewSequenceGenerator("pay")),
	)
	recorder := sales.NewRecorder(log, sales.WithClock(clk))
	return &fixture{
		ledger:   ledger,
		sales:    log,
		clock:    clk,
		payments: payments,
		co:       New(ledger, recorder, payments),
	}
}

func (f *fixture) qty(t *testing.T, id string) int {
	t.Helper()
	it, err := f.ledger.Get(id)
	require.NoError(t, err)
	return it.Quantity
}

func cart() []order.Line {
	return []order.Line{
		{ItemName: "Kopi Susu", Requested: 2, Customization: order.Customization{Temperature: order.Cold, Sugar: 1, Milk: 2}},
		{ItemName: "Espresso", Requested: 1, Customization: order.Customization{Temperature: order.Hot}},
	}
}

func TestReserve_TakesCoffeeAndAdditives(t *testing.T) {
	f := newFixture()
	p, err := f.co.Reserve(cart())
	require.NoError(t, err)

	assert.Equal(t, int64(42000), p.Total)
	assert.Equal(t, 3, f.qty(t, "kopi susu"))
	assert.Equal(t, 1, f.qty(t, "espresso"))
	assert.Equal(t, 2, f.qty(t, "gula"))
	assert.Equal(t, 6, f.qty(t, "susu"))
	assert.Equal(t, order.SourceWalkIn, p.Order.Source)
	assert.Regexp(t, `^ord_`, p.Order.ID)
}

func TestReserve_RollsBackOnShortage(t *testing.T) {
	f := newFixture()
	lines := cart()
	lines[1].Requested = 3

	_, err := f.co.Reserve(lines)
	assert.True(t, kioskerr.IsInsufficientStock(err))
	assert.Equal(t, 5, f.qty(t, "kopi susu"))
	assert.Equal(t, 4, f.qty(t, "gula"))
	assert.Equal(t, 10, f.qty(t, "susu"))
}

func TestReserve_RejectsBadLines(t *testing.T) {
	f := newFixture()

	_, err := f.co.Reserve(nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.co.Reserve([]order.Line{{ItemName: "Matcha", Requested: 1}})
	assert.True(t, kioskerr.IsNotFound(err))

	_, err = f.co.Reserve([]order.Line{{ItemName: "gula", Requested: 1}})
	assert.True(t, kioskerr.IsNotFound(err), "additives are not sold on their own")

	_, err = f.co.Reserve([]order.Line{{ItemName: "Espresso", Requested: 1, Customization: order.Customization{Sugar: 6}}})
	assert.Error(t, err)
	assert.Equal(t, 2, f.qty(t, "espresso"))
}

func TestPayCash(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p, err := f.co.Reserve(cart())
	require.NoError(t, err)

	_, err = p.PayCash(ctx, 40000)
	assert.ErrorIs(t, err, ErrInsufficientCash)
	assert.False(t, p.Settled())

	r, err := p.PayCash(ctx, 50000)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), r.Change)
	assert.Equal(t, order.StatusFilled, r.Order.Status)
	require.Len(t, f.sales.rows, 2)
	assert.Equal(t, order.MethodCash, f.sales.rows[0][remote.ColMethod])
	assert.Equal(t, "x2", f.sales.rows[0][remote.ColQuantity])

	_, err = p.PayCash(ctx, 50000)
	assert.Error(t, err)
	assert.Len(t, f.sales.rows, 2, "sales recorded once")
}

func TestQRIS_ConfirmCommitsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p, err := f.co.Reserve(cart())
	require.NoError(t, err)

	s := p.StartQRIS()
	_, err = f.payments.View(ctx, s.Token())
	require.NoError(t, err)
	_, err = f.payments.Confirm(ctx, s.Token())
	require.NoError(t, err)
	_, err = f.payments.Confirm(ctx, s.Token())
	require.NoError(t, err)

	r, err := p.AwaitQRIS(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, order.MethodQRIS, r.Order.PaymentMethod)
	assert.Len(t, f.sales.rows, 2)
	assert.Equal(t, 3, f.qty(t, "kopi susu"), "stock stays consumed")
}

func TestQRIS_ExpiryReleasesStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p, err := f.co.Reserve(cart())
	require.NoError(t, err)

	s := p.StartQRIS()
	f.clock.Advance(payment.DefaultTimeout + time.Second)
	assert.Equal(t, 1, f.payments.ExpireDue(ctx))

	_, err = p.AwaitQRIS(ctx, s)
	assert.True(t, kioskerr.IsSessionExpired(err))
	assert.Equal(t, 5, f.qty(t, "kopi susu"))
	assert.Equal(t, 4, f.qty(t, "gula"))
	assert.Empty(t, f.sales.rows)

	_, err = f.payments.Confirm(ctx, s.Token())
	assert.True(t, kioskerr.IsSessionExpired(err))
	assert.Empty(t, f.sales.rows)
}

func TestQRIS_AbandonCancelsSession(t *testing.T) {
	f := newFixture()
	p, err := f.co.Reserve(cart())
	require.NoError(t, err)
	s := p.StartQRIS()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.AwaitQRIS(ctx, s)
	assert.True(t, kioskerr.IsSessionExpired(err))
	assert.Equal(t, payment.StateExpired, s.Snapshot().State)
	assert.Equal(t, 2, f.qty(t, "espresso"))
}
