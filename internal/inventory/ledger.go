// Package inventory holds the kiosk's authoritative in-memory stock ledger.
//
// The Ledger is the only shared mutable state in the process. The terminal
// session, the confirmation web server, and the order reconciler all
// mutate stock through its atomic operations; every mutation is reported to
// a Marker (the sync scheduler) so the remote store catches up later.
//
// Quantities never go below zero. Operations that would do so are rejected
// with INSUFFICIENT_STOCK rather than clamped.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// Category separates coffee bases from additives.
type Category string

const (
	CategoryCoffee   Category = "coffee"
	CategoryAdditive Category = "additive"
)

// Sheet returns the remote sheet that stores items of this category.
func (c Category) Sheet() remote.Sheet {
	if c == CategoryAdditive {
		return remote.SheetAdditive
	}
	return remote.SheetCoffee
}

// Item is a stock entry.
type Item struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    int64    `json:"price"`
	Quantity int      `json:"quantity"`
	Category Category `json:"category"`
}

// Marker receives dirty rows. syncer.Scheduler implements it.
type Marker interface {
	MarkDirty(sheet remote.Sheet, id string, rec remote.Record)
}

type nopMarker struct{}

func (nopMarker) MarkDirty(remote.Sheet, string, remote.Record) {}

// NormalizeID maps a display name or id to the canonical item id:
// NFC-normalized, case-folded, trimmed, inner whitespace collapsed to "-".
func NormalizeID(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	s = cases.Fold().String(s) // a Caser is stateful; never share one
	return strings.Join(strings.Fields(s), "-")
}

// Ledger is the in-memory stock table.
//
// Thread-safety: all methods are safe for concurrent use. A single mutex
// serializes mutations; contention is low (a handful of actors).
type Ledger struct {
	mu     sync.Mutex
	items  map[string]*Item
	marker Marker
}

// New creates an empty ledger reporting mutations to marker (may be nil).
func New(marker Marker) *Ledger {
	if marker == nil {
		marker = nopMarker{}
	}
	return &Ledger{
		items:  make(map[string]*Item),
		marker: marker,
	}
}

// Put inserts or replaces an item without marking it dirty. Used when
// loading from the remote store and by seeding.
func (l *Ledger) Put(it Item) {
	it.ID = NormalizeID(firstNonEmpty(it.ID, it.Name))
	if it.Category == "" {
		it.Category = CategoryCoffee
	}
	if it.Quantity < 0 {
		it.Quantity = 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cp := it
	l.items[it.ID] = &cp
}

// Get returns a copy of the item.
func (l *Ledger) Get(id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[NormalizeID(id)]
	if !ok {
		return Item{}, kioskerr.NotFound("item", id)
	}
	return *it, nil
}

// Reserve atomically removes qty units. Fails without side effects when
// fewer than qty are available.
func (l *Ledger) Reserve(id string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("reserve %s: quantity must be positive, got %d", id, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[NormalizeID(id)]
	if !ok {
		return kioskerr.NotFound("item", id)
	}
	if it.Quantity < qty {
		return kioskerr.InsufficientStock(it.ID, qty, it.Quantity)
	}
	l.adjust(it, -qty)
	return nil
}

// ReserveUpTo atomically removes min(max, available) units and returns how
// many were taken. Taking zero is not an error.
func (l *Ledger) ReserveUpTo(id string, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[NormalizeID(id)]
	if !ok {
		return 0, kioskerr.NotFound("item", id)
	}
	n := max
	if it.Quantity < n {
		n = it.Quantity
	}
	if n > 0 {
		l.adjust(it, -n)
	}
	return n, nil
}

// Release returns previously reserved units.
func (l *Ledger) Release(id string, qty int) error {
	if qty <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[NormalizeID(id)]
	if !ok {
		return kioskerr.NotFound("item", id)
	}
	l.adjust(it, qty)
	return nil
}

// Restock adds qty units to an existing item.
func (l *Ledger) Restock(id string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("restock %s: quantity must be positive, got %d", id, qty)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	it, ok := l.items[NormalizeID(id)]
	if !ok {
		return kioskerr.NotFound("item", id)
	}
	l.adjust(it, qty)
	return nil
}

// adjust applies delta and marks the row dirty. Caller holds mu.
func (l *Ledger) adjust(it *Item, delta int) {
	it.Quantity += delta
	if it.Quantity < 0 {
		panic(fmt.Sprintf("inventory: %s quantity went negative (%d)", it.ID, it.Quantity))
	}
	l.marker.MarkDirty(it.Category.Sheet(), it.ID, ItemRecord(*it))
}

// Snapshot returns copies of all items, coffee first, then by name.
func (l *Ledger) Snapshot() []Item {
	l.mu.Lock()
	out := make([]Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, *it)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category == CategoryCoffee
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Load replaces the ledger contents with the coffee and additive sheets.
// Malformed rows are skipped and reported in the returned count.
func (l *Ledger) Load(ctx context.Context, store remote.Store) (skipped int, err error) {
	fresh := make(map[string]*Item)
	for _, cat := range []Category{CategoryCoffee, CategoryAdditive} {
		rows, err := store.ReadAll(ctx, cat.Sheet())
		if err != nil {
			return 0, kioskerr.RemoteUnavailable("load "+string(cat.Sheet()), err)
		}
		for _, row := range rows {
			it, ok := ParseItem(cat, row)
			if !ok {
				skipped++
				continue
			}
			fresh[it.ID] = &it
		}
	}

	l.mu.Lock()
	l.items = fresh
	l.mu.Unlock()
	return skipped, nil
}

// ItemRecord encodes an item as a remote row.
func ItemRecord(it Item) remote.Record {
	rec := remote.Record{remote.ColStock: strconv.Itoa(it.Quantity)}
	if it.Category == CategoryAdditive {
		rec[remote.ColAdditiveName] = it.Name
	} else {
		rec[remote.ColCoffeeName] = it.Name
		rec[remote.ColPrice] = strconv.FormatInt(it.Price, 10)
	}
	return rec
}

// ParseItem decodes a remote row. The row key is the item id; rows written
// by hand without a key fall back to the name column.
func ParseItem(cat Category, row remote.Row) (Item, bool) {
	nameCol := remote.ColCoffeeName
	if cat == CategoryAdditive {
		nameCol = remote.ColAdditiveName
	}
	name := strings.TrimSpace(row.Record[nameCol])
	id := NormalizeID(firstNonEmpty(row.Key, name))
	if id == "" {
		return Item{}, false
	}
	qty, ok := row.Record.Int(remote.ColStock)
	if !ok || qty < 0 {
		return Item{}, false
	}
	price, _ := row.Record.Int64(remote.ColPrice)
	if name == "" {
		name = row.Key
	}
	return Item{ID: id, Name: name, Price: price, Quantity: qty, Category: cat}, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
