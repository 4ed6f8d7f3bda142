package order

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/remote/memstore"
)

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusFilled, true},
		{StatusPending, StatusPartiallyFilled, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusPending, false},
		{StatusPartiallyFilled, StatusFilled, true},
		{StatusPartiallyFilled, StatusPartiallyFilled, true},
		{StatusPartiallyFilled, StatusRejected, false},
		{StatusFilled, StatusPartiallyFilled, false},
		{StatusFilled, StatusFilled, false},
		{StatusRejected, StatusFilled, false},
		{StatusExpired, StatusFilled, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}
}

func TestOrder_TransitionRejectsRegression(t *testing.T) {
	o := &Order{ID: "ord_1", Status: StatusPending}
	require.NoError(t, o.Transition(StatusFilled))
	assert.Error(t, o.Transition(StatusPartiallyFilled))
	assert.Equal(t, StatusFilled, o.Status)
}

func TestParseStatus_Legacy(t *testing.T) {
	st, ok := ParseStatus("Selesai")
	require.True(t, ok)
	assert.Equal(t, StatusFilled, st)

	st, ok = ParseStatus(" PartiallyFilled ")
	require.True(t, ok)
	assert.Equal(t, StatusPartiallyFilled, st)

	_, ok = ParseStatus("Dibatalkan")
	assert.False(t, ok)
}

func TestCustomization(t *testing.T) {
	c := Customization{Temperature: Cold, Sugar: 2, Milk: 1}

	assert.Equal(t, []AdditiveLevel{{AdditiveSugar, 2}, {AdditiveMilk, 1}}, c.Additives())
	assert.Equal(t, "Gula: 2, Susu: 1", c.Composition())
	assert.NoError(t, c.Validate())

	assert.Equal(t, "-", Customization{}.Composition())
	assert.Error(t, Customization{Chocolate: 6}.Validate())
	assert.Error(t, Customization{Sugar: -1}.Validate())
}

func TestNewID_Prefix(t *testing.T) {
	a, b := NewID(), NewID()
	assert.True(t, strings.HasPrefix(a, "ord_"), a)
	assert.NotEqual(t, a, b)
}

func queueRow(token, item string, qty int, extra remote.Record) remote.Record {
	rec := remote.Record{
		remote.ColQR:          token,
		remote.ColItem:        item,
		remote.ColQuantity:    strconv.Itoa(qty),
		remote.ColTemperature: "dingin",
		remote.ColSugar:       "1",
		remote.ColStatus:      "Pending",
	}
	for k, v := range extra {
		rec[k] = v
	}
	return rec
}

func TestQueue_Lookup(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-1", "Kopi Susu", 5, nil))
	require.NoError(t, err)
	_, err = store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-2", "Espresso", 1, nil))
	require.NoError(t, err)
	_, err = store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-1", "Espresso", 3, nil))
	require.NoError(t, err)

	o, err := NewQueue(store).Lookup(ctx, "QR-1")
	require.NoError(t, err)
	assert.Equal(t, "QR-1", o.ID)
	assert.Equal(t, SourceOnline, o.Source)
	assert.Equal(t, MethodOnline, o.PaymentMethod)
	assert.Equal(t, StatusPending, o.Status)
	require.Len(t, o.Lines, 2)
	assert.Equal(t, "Kopi Susu", o.Lines[0].ItemName)
	assert.Equal(t, 5, o.Lines[0].Requested)
	assert.Equal(t, Cold, o.Lines[0].Customization.Temperature)
	assert.Equal(t, 1, o.Lines[0].Customization.Sugar)
	assert.NotEmpty(t, o.Lines[0].RowKey)
	assert.Equal(t, 3, o.Lines[1].Requested)
}

func TestQueue_LookupUnknownAndTerminal(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-9", "Espresso", 1, remote.Record{remote.ColStatus: "Selesai"}))
	require.NoError(t, err)

	q := NewQueue(store)
	_, err = q.Lookup(ctx, "QR-404")
	assert.True(t, kioskerr.IsNotFound(err))

	_, err = q.Lookup(ctx, "QR-9")
	assert.True(t, kioskerr.IsNotFound(err), "filled orders cannot be scanned again")

	_, err = q.Lookup(ctx, "  ")
	assert.True(t, kioskerr.IsNotFound(err))
}

func TestQueue_LookupRemoteDown(t *testing.T) {
	store := memstore.New()
	store.SetUnavailable(true)

	_, err := NewQueue(store).Lookup(context.Background(), "QR-1")
	assert.True(t, kioskerr.IsRemoteUnavailable(err))
}

func TestQueue_PartiallyWrittenOrderStaysScannable(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-1", "Kopi Susu", 5, remote.Record{
		remote.ColStatus: "PartiallyFilled", remote.ColFulfilled: "2",
	}))
	require.NoError(t, err)
	_, err = store.AppendRow(ctx, remote.SheetOnlineQueue, queueRow("QR-1", "Espresso", 3, remote.Record{
		remote.ColStatus: "Filled", remote.ColFulfilled: "3",
	}))
	require.NoError(t, err)

	o, err := NewQueue(store).Lookup(ctx, "QR-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, o.Status)
	assert.Equal(t, 3, o.Lines[0].Remaining())
	assert.Equal(t, 0, o.Lines[1].Remaining())
}

func TestQueue_LookupSkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	for _, rec := range []remote.Record{
		queueRow("QR-1", "Kopi Susu", 2, nil),
		queueRow("QR-1", "Espresso", 0, nil),
		queueRow("QR-1", "Espresso", 1, remote.Record{remote.ColQuantity: "dua"}),
		queueRow("QR-1", "  ", 1, nil),
		queueRow("QR-2", "Espresso", -1, nil),
	} {
		_, err := store.AppendRow(ctx, remote.SheetOnlineQueue, rec)
		require.NoError(t, err)
	}

	q := NewQueue(store)
	o, err := q.Lookup(ctx, "QR-1")
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, "Kopi Susu", o.Lines[0].ItemName)
	assert.Equal(t, 2, o.Lines[0].Remaining())

	_, err = q.Lookup(ctx, "QR-2")
	assert.True(t, kioskerr.IsNotFound(err), "an order with no usable rows has nothing to dispense")
}

func TestLineRecord(t *testing.T) {
	o := &Order{Token: "QR-1", Status: StatusPartiallyFilled}
	l := Line{ItemName: "Kopi Susu", Requested: 5, Fulfilled: 2, Customization: Customization{Temperature: Cold, Milk: 2}}

	rec := LineRecord(o, l)
	assert.Equal(t, "QR-1", rec[remote.ColQR])
	assert.Equal(t, "5", rec[remote.ColQuantity])
	assert.Equal(t, "2", rec[remote.ColFulfilled])
	assert.Equal(t, "3", rec[remote.ColShortfall])
	assert.Equal(t, "dingin", rec[remote.ColTemperature])
	assert.Equal(t, "2", rec[remote.ColMilk])
	assert.Equal(t, "PartiallyFilled", rec[remote.ColStatus])
}
