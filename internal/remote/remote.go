// Package remote defines the boundary to the shared tabular store that backs
// the kiosk.
//
// The store is row oriented and non-transactional: a sheet is an ordered
// list of rows, each row a key plus a record of named string columns. The
// core only ever reads a whole sheet, appends a row, or overwrites a row by
// key. Every read is a snapshot that may already be stale when the next
// write is issued.
//
// Backends live in sub-packages:
//   - memstore: in-memory, with fault and latency injection for tests
//   - sqlitestore: a local SQLite file (default)
//   - pgstore: a shared Postgres database
package remote

import (
	"context"
	"strconv"
	"strings"
)

// Sheet names a worksheet in the remote workbook.
type Sheet string

// Worksheets used by the kiosk. Names match the workbook the kiosk was
// originally deployed against so existing data stays readable.
const (
	SheetCoffee      Sheet = "PersediaanKopi"
	SheetAdditive    Sheet = "PersediaanTambahan"
	SheetPayments    Sheet = "ReferenceID"
	SheetSales       Sheet = "DataPenjualan"
	SheetOnlineQueue Sheet = "AntrianPesananQR"
)

// Sheets lists every worksheet in workbook order.
var Sheets = []Sheet{SheetCoffee, SheetAdditive, SheetPayments, SheetSales, SheetOnlineQueue}

// Column headers.
const (
	ColCoffeeName   = "Jenis Kopi"
	ColAdditiveName = "Jenis Bahan Tambahan"
	ColPrice        = "Harga"
	ColStock        = "Sisa Persediaan"

	ColReference = "Reference ID"
	ColOrderID   = "Order ID"
	ColTotal     = "Total Harga"
	ColMethod    = "Metode"
	ColTimestamp = "Timestamp"
	ColStatus    = "Status"

	ColSaleID      = "ID"
	ColTime        = "Waktu"
	ColItem        = "Jenis Kopi"
	ColTemperature = "Suhu"
	ColComposition = "Komposisi"
	ColQuantity    = "Jumlah"
	ColUnitPrice   = "Harga Satuan"

	ColQR        = "QR"
	ColSugar     = "Gula"
	ColCreamer   = "Krimer"
	ColMilk      = "Susu"
	ColChocolate = "Cokelat"
	ColFulfilled = "Terpenuhi"
	ColShortfall = "Kekurangan"
)

// Record is one row's columns.
type Record map[string]string

// Int parses a numeric column. Blank or malformed values read as 0 and
// report ok=false.
func (r Record) Int(col string) (int, bool) {
	v := strings.TrimSpace(r[col])
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Int64 is Int for 64-bit columns such as prices.
func (r Record) Int64(col string) (int64, bool) {
	v := strings.TrimSpace(r[col])
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a copy safe to hand to another goroutine.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Row is a keyed record as read from a sheet.
type Row struct {
	Key    string
	Record Record
}

// Store is the remote tabular store.
//
// Implementations must be safe for concurrent use. They make no promise of
// atomicity across calls.
type Store interface {
	// ReadAll returns every row of a sheet in insertion order.
	ReadAll(ctx context.Context, sheet Sheet) ([]Row, error)

	// AppendRow adds a row and returns its generated key.
	AppendRow(ctx context.Context, sheet Sheet, rec Record) (string, error)

	// WriteRow overwrites the row with the given key, creating it if absent.
	WriteRow(ctx context.Context, sheet Sheet, key string, rec Record) error

	// Close releases the store's resources.
	Close() error
}
