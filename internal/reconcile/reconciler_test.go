package reconcile

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/remote/memstore"
	"github.com/roach88/kopikiosk/internal/sales"
	"github.com/roach88/kopikiosk/internal/syncer"
	"github.com/roach88/kopikiosk/internal/testutil"
)

type fixture struct {
	store  *memstore.Store
	sched  *syncer.Scheduler
	ledger *inventory.Ledger
	rec    *Reconciler
}

func newFixture(t *testing.T, stock map[string]int) *fixture {
	t.Helper()
	store := memstore.New()
	sched := syncer.New(store)
	ledger := inventory.New(sched)
	for name, qty := range stock {
		cat := inventory.CategoryCoffee
		switch name {
		case order.AdditiveSugar, order.AdditiveCreamer, order.AdditiveMilk, order.AdditiveChocolate:
			cat = inventory.CategoryAdditive
		}
		ledger.Put(inventory.Item{Name: name, Price: 10000, Quantity: qty, Category: cat})
	}
	recorder := sales.NewRecorder(sched, sales.WithClock(testutil.NewFakeClock()))
	return &fixture{
		store:  store,
		sched:  sched,
		ledger: ledger,
		rec:    New(order.NewQueue(store), ledger, sched, recorder),
	}
}

type queued struct {
	item  string
	qty   int
	sugar int
}

func (f *fixture) enqueue(t *testing.T, token string, lines ...queued) {
	t.Helper()
	for _, l := range lines {
		_, err := f.store.AppendRow(context.Background(), remote.SheetOnlineQueue, remote.Record{
			remote.ColQR:       token,
			remote.ColItem:     l.item,
			remote.ColQuantity: strconv.Itoa(l.qty),
			remote.ColSugar:    strconv.Itoa(l.sugar),
			remote.ColStatus:   string(order.StatusPending),
		})
		require.NoError(t, err)
	}
}

func (f *fixture) qty(t *testing.T, id string) int {
	t.Helper()
	it, err := f.ledger.Get(id)
	require.NoError(t, err)
	return it.Quantity
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	_, err := f.sched.FlushAsync(context.Background())
	require.NoError(t, err)
}

func (f *fixture) salesRows(t *testing.T) []sales.Record {
	t.Helper()
	recs, err := sales.LoadRecords(context.Background(), f.store)
	require.NoError(t, err)
	return recs
}

func TestScan_PartialThenFilledAfterRestock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 2, "B": 3})
	f.enqueue(t, "QR-1", queued{item: "A", qty: 5}, queued{item: "B", qty: 3})

	out, err := f.rec.Scan(ctx, "QR-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, out.Status)
	require.Len(t, out.Lines, 2)
	assert.Equal(t, 2, out.Lines[0].Dispensed)
	assert.Equal(t, 3, out.Lines[0].Shortfall)
	assert.Equal(t, 3, out.Lines[1].Dispensed)
	assert.Equal(t, 0, out.Lines[1].Shortfall)
	assert.Equal(t, 0, f.qty(t, "A"))
	assert.Equal(t, 0, f.qty(t, "B"))
	f.flush(t)

	recs := f.salesRows(t)
	require.Len(t, recs, 2)
	byItem := map[string]int{}
	for _, r := range recs {
		byItem[r.ItemName] += r.Quantity
		assert.Equal(t, order.MethodOnline, r.PaymentMethod)
	}
	assert.Equal(t, map[string]int{"A": 2, "B": 3}, byItem)

	rows, err := f.store.ReadAll(ctx, remote.SheetOnlineQueue)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, string(order.StatusPartiallyFilled), row.Record[remote.ColStatus])
	}

	require.NoError(t, f.ledger.Restock("A", 3))
	out, err = f.rec.Scan(ctx, "QR-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, out.Status)
	assert.Equal(t, 3, out.Lines[0].Dispensed)
	assert.Equal(t, 5, out.Lines[0].Fulfilled)
	assert.Equal(t, 0, out.Lines[1].Dispensed, "a filled line is never dispensed again")
	assert.Equal(t, 0, f.qty(t, "A"))
	f.flush(t)

	recs = f.salesRows(t)
	require.Len(t, recs, 3)
	assert.Equal(t, "A", recs[2].ItemName)
	assert.Equal(t, 3, recs[2].Quantity)

	_, err = f.rec.Scan(ctx, "QR-1")
	assert.True(t, kioskerr.IsNotFound(err), "filled orders cannot be rescanned")
}

func TestScan_RescanBeforeWriteBackDoesNotDoubleDispense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 1})
	f.enqueue(t, "QR-2", queued{item: "A", qty: 3})

	_, err := f.rec.Scan(ctx, "QR-2")
	require.NoError(t, err)

	// Remote still shows Pending with nothing fulfilled.
	require.NoError(t, f.ledger.Restock("A", 5))
	out, err := f.rec.Scan(ctx, "QR-2")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFilled, out.Status)
	assert.Equal(t, 2, out.Lines[0].Dispensed)
	assert.Equal(t, 3, f.qty(t, "A"))
}

func TestScan_RejectedLeavesStockAndSalesUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"C": 0})
	f.enqueue(t, "QR-3", queued{item: "C", qty: 1})

	out, err := f.rec.Scan(ctx, "QR-3")
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, out.Status)
	assert.Equal(t, 0, out.Dispensed())
	assert.Empty(t, out.Sales)
	assert.Equal(t, 0, f.qty(t, "C"))

	f.flush(t)
	assert.Empty(t, f.salesRows(t))

	_, err = f.rec.Scan(ctx, "QR-3")
	assert.True(t, kioskerr.IsNotFound(err))
}

func TestScan_UnknownAndMissingItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 5})
	f.enqueue(t, "QR-4", queued{item: "A", qty: 1}, queued{item: "Matcha", qty: 1})

	_, err := f.rec.Scan(ctx, "nope")
	assert.True(t, kioskerr.IsNotFound(err))

	out, err := f.rec.Scan(ctx, "QR-4")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, out.Status)
	assert.Equal(t, 1, out.Lines[0].Dispensed)
	assert.Equal(t, 1, out.Lines[1].Shortfall)
	assert.NotEmpty(t, out.Lines[1].Reason)
}

func TestScan_AdditivesLimitCups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 5, order.AdditiveSugar: 5})
	f.enqueue(t, "QR-5", queued{item: "A", qty: 3, sugar: 2})

	out, err := f.rec.Scan(ctx, "QR-5")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartiallyFilled, out.Status)
	assert.Equal(t, 2, out.Lines[0].Dispensed)
	assert.Equal(t, 3, f.qty(t, "A"), "coffee for the uncovered cup is released")
	assert.Equal(t, 1, f.qty(t, order.AdditiveSugar))
}

func TestScan_RemoteDown(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 5})
	f.enqueue(t, "QR-6", queued{item: "A", qty: 1})
	f.store.SetUnavailable(true)

	_, err := f.rec.Scan(context.Background(), "QR-6")
	assert.True(t, kioskerr.IsRemoteUnavailable(err))
	assert.Equal(t, 5, f.qty(t, "A"))
}

func TestScan_FirstScannedFirstServed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]int{"A": 4})
	f.enqueue(t, "QR-7", queued{item: "A", qty: 3})
	f.enqueue(t, "QR-8", queued{item: "A", qty: 3})

	first, err := f.rec.Scan(ctx, "QR-7")
	require.NoError(t, err)
	second, err := f.rec.Scan(ctx, "QR-8")
	require.NoError(t, err)

	assert.Equal(t, order.StatusFilled, first.Status)
	assert.Equal(t, order.StatusPartiallyFilled, second.Status)
	assert.Equal(t, 1, second.Dispensed())
}

func TestScan_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 10})
	f.enqueue(t, "QR-9", queued{item: "A", qty: 5})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		dispensed int
		filled    int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.rec.Scan(context.Background(), "QR-9")
			if err != nil {
				assert.True(t, kioskerr.IsNotFound(err))
				return
			}
			mu.Lock()
			defer mu.Unlock()
			dispensed += out.Dispensed()
			if out.Status == order.StatusFilled {
				filled++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, dispensed)
	assert.Equal(t, 1, filled)
	assert.Equal(t, 5, f.qty(t, "A"))
	assert.Equal(t, 0, f.rec.locks.size())
}

func TestScan_StockNeverNegative(t *testing.T) {
	f := newFixture(t, map[string]int{"A": 7, order.AdditiveSugar: 9})
	for i := 0; i < 6; i++ {
		f.enqueue(t, "QR-R"+strconv.Itoa(i), queued{item: "A", qty: i + 1, sugar: i % 3})
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.rec.Scan(context.Background(), "QR-R"+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	assert.GreaterOrEqual(t, f.qty(t, "A"), 0)
	assert.GreaterOrEqual(t, f.qty(t, order.AdditiveSugar), 0)
}
