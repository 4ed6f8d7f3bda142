package inventory

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/remote/memstore"
	"github.com/roach88/kopikiosk/internal/syncer"
)

type recordingMarker struct {
	mu    sync.Mutex
	marks []string
}

func (m *recordingMarker) MarkDirty(sheet remote.Sheet, id string, rec remote.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks = append(m.marks, string(sheet)+"/"+id+"="+rec[remote.ColStock])
}

func seeded(marker Marker) *Ledger {
	l := New(marker)
	l.Put(Item{Name: "Kopi Susu", Price: 15000, Quantity: 5, Category: CategoryCoffee})
	l.Put(Item{Name: "Espresso", Price: 12000, Quantity: 0, Category: CategoryCoffee})
	l.Put(Item{Name: "Gula", Quantity: 20, Category: CategoryAdditive})
	return l
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Kopi Susu", "kopi-susu"},
		{"  kopi   SUSU ", "kopi-susu"},
		{"kopi-susu", "kopi-susu"},
		{"Café Latte", "café-latte"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeID(tt.in))
		})
	}
}

func TestGet(t *testing.T) {
	l := seeded(nil)

	it, err := l.Get("KOPI susu")
	require.NoError(t, err)
	assert.Equal(t, "kopi-susu", it.ID)
	assert.Equal(t, "Kopi Susu", it.Name)
	assert.Equal(t, 5, it.Quantity)

	_, err = l.Get("matcha")
	assert.True(t, kioskerr.IsNotFound(err))
}

func TestReserve(t *testing.T) {
	m := &recordingMarker{}
	l := seeded(m)

	require.NoError(t, l.Reserve("kopi-susu", 2))
	it, _ := l.Get("kopi-susu")
	assert.Equal(t, 3, it.Quantity)
	assert.Equal(t, []string{"PersediaanKopi/kopi-susu=3"}, m.marks)

	err := l.Reserve("kopi-susu", 4)
	assert.True(t, kioskerr.IsInsufficientStock(err))
	it, _ = l.Get("kopi-susu")
	assert.Equal(t, 3, it.Quantity, "failed reservation must not change stock")
	assert.Len(t, m.marks, 1)

	assert.Error(t, l.Reserve("kopi-susu", 0))
	assert.True(t, kioskerr.IsNotFound(l.Reserve("matcha", 1)))
}

func TestReserveUpTo(t *testing.T) {
	l := seeded(nil)

	n, err := l.ReserveUpTo("kopi-susu", 8)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = l.ReserveUpTo("kopi-susu", 3)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = l.ReserveUpTo("gula", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = l.ReserveUpTo("matcha", 1)
	assert.True(t, kioskerr.IsNotFound(err))
}

func TestRelease(t *testing.T) {
	l := seeded(nil)
	require.NoError(t, l.Reserve("kopi-susu", 5))
	require.NoError(t, l.Release("kopi-susu", 5))

	it, _ := l.Get("kopi-susu")
	assert.Equal(t, 5, it.Quantity)
	assert.NoError(t, l.Release("kopi-susu", 0))
}

func TestRestock(t *testing.T) {
	m := &recordingMarker{}
	l := seeded(m)

	require.NoError(t, l.Restock("espresso", 10))
	it, _ := l.Get("espresso")
	assert.Equal(t, 10, it.Quantity)
	assert.Equal(t, []string{"PersediaanKopi/espresso=10"}, m.marks)

	assert.Error(t, l.Restock("espresso", 0))
	assert.Error(t, l.Restock("espresso", -3))
	assert.True(t, kioskerr.IsNotFound(l.Restock("matcha", 1)))
}

func TestSnapshot_OrderAndIsolation(t *testing.T) {
	l := seeded(nil)

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "Espresso", snap[0].Name)
	assert.Equal(t, "Kopi Susu", snap[1].Name)
	assert.Equal(t, "Gula", snap[2].Name)

	snap[1].Quantity = 100
	it, _ := l.Get("kopi-susu")
	assert.Equal(t, 5, it.Quantity)
}

func TestQuantityNeverNegative_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	l := seeded(nil)
	ids := []string{"kopi-susu", "espresso", "gula"}

	for i := 0; i < 5000; i++ {
		id := ids[rng.Intn(len(ids))]
		qty := rng.Intn(7) - 1
		switch rng.Intn(3) {
		case 0:
			_ = l.Reserve(id, qty)
		case 1:
			_, _ = l.ReserveUpTo(id, qty)
		case 2:
			_ = l.Restock(id, qty)
		}
		for _, it := range l.Snapshot() {
			require.GreaterOrEqual(t, it.Quantity, 0, "item %s after step %d", it.ID, i)
		}
	}
}

func TestQuantityNeverNegative_Concurrent(t *testing.T) {
	l := New(nil)
	l.Put(Item{Name: "Espresso", Quantity: 100})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		reserved int
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := l.Reserve("espresso", 1); err == nil {
					mu.Lock()
					reserved++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	it, _ := l.Get("espresso")
	assert.Equal(t, 100, reserved)
	assert.Equal(t, 0, it.Quantity)
}

func TestLoad_ReplacesContents(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	require.NoError(t, store.WriteRow(ctx, remote.SheetCoffee, "kopi-susu", remote.Record{
		remote.ColCoffeeName: "Kopi Susu", remote.ColPrice: "15000", remote.ColStock: "9",
	}))
	require.NoError(t, store.WriteRow(ctx, remote.SheetCoffee, "broken", remote.Record{
		remote.ColCoffeeName: "Broken", remote.ColStock: "many",
	}))
	require.NoError(t, store.WriteRow(ctx, remote.SheetAdditive, "susu", remote.Record{
		remote.ColAdditiveName: "Susu", remote.ColStock: "30",
	}))

	l := seeded(nil)
	skipped, err := l.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Item{ID: "kopi-susu", Name: "Kopi Susu", Price: 15000, Quantity: 9, Category: CategoryCoffee}, snap[0])
	assert.Equal(t, Item{ID: "susu", Name: "Susu", Quantity: 30, Category: CategoryAdditive}, snap[1])
}

func TestLoad_RemoteDown(t *testing.T) {
	store := memstore.New()
	store.SetUnavailable(true)

	l := seeded(nil)
	_, err := l.Load(context.Background(), store)
	assert.True(t, kioskerr.IsRemoteUnavailable(err))
	assert.Len(t, l.Snapshot(), 3, "failed load keeps the previous cache")
}

func TestDrainThenReload_MatchesMemory(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	sched := syncer.New(store)

	l := New(sched)
	for _, it := range []Item{
		{Name: "Kopi Susu", Price: 15000, Quantity: 5},
		{Name: "Espresso", Price: 12000, Quantity: 3},
		{Name: "Krimer", Quantity: 10, Category: CategoryAdditive},
	} {
		l.Put(it)
		require.NoError(t, store.WriteRow(ctx, it.Category.Sheet(), NormalizeID(it.Name), ItemRecord(it)))
	}

	require.NoError(t, l.Reserve("kopi-susu", 2))
	require.NoError(t, l.Restock("espresso", 4))
	_, err := l.ReserveUpTo("krimer", 3)
	require.NoError(t, err)

	_, err = sched.Drain(time.Second)
	require.NoError(t, err)

	reloaded := New(nil)
	_, err = reloaded.Load(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, l.Snapshot(), reloaded.Snapshot())
}
