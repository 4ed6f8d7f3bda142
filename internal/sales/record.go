// Package sales records what the kiosk dispensed and reports on it.
//
// The sales sheet is append-only: a record is written once per dispensed
// line and never for an unfulfilled remainder. Records reach the remote
// store through the sync scheduler's append queue and, when configured, a
// streaming feed.
package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/kopikiosk/internal/clock"
	"github.com/roach88/kopikiosk/internal/order"
	"github.com/roach88/kopikiosk/internal/remote"
)

// TimeLayout is the timestamp format used in the sales and payments sheets.
const TimeLayout = "2006-01-02 15:04:05"

// Record is one dispensed line.
type Record struct {
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	OrderID       string    `json:"order_id"`
	ItemID        string    `json:"item_id"`
	ItemName      string    `json:"item_name"`
	Temperature   string    `json:"temperature"`
	Composition   string    `json:"composition"`
	Quantity      int       `json:"quantity"`
	UnitPrice     int64     `json:"unit_price"`
	Total         int64     `json:"total"`
	PaymentMethod string    `json:"payment_method"`
}

// ToRecord encodes r as a sales sheet row. Quantity is written "xN" as the
// sheet has always shown it.
func (r Record) ToRecord() remote.Record {
	return remote.Record{
		remote.ColSaleID:      r.ID,
		remote.ColTime:        r.Time.Format(TimeLayout),
		remote.ColOrderID:     r.OrderID,
		remote.ColItem:        r.ItemName,
		remote.ColTemperature: r.Temperature,
		remote.ColComposition: r.Composition,
		remote.ColQuantity:    fmt.Sprintf("x%d", r.Quantity),
		remote.ColUnitPrice:   strconv.FormatInt(r.UnitPrice, 10),
		remote.ColTotal:       strconv.FormatInt(r.Total, 10),
		remote.ColMethod:      r.PaymentMethod,
	}
}

// ParseRecord decodes a sales row. Rows without a quantity are rejected.
func ParseRecord(row remote.Row) (Record, bool) {
	rec := row.Record
	qtyText := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(rec[remote.ColQuantity])), "x")
	qty, err := strconv.Atoi(qtyText)
	if err != nil || qty <= 0 {
		return Record{}, false
	}
	unit, _ := rec.Int64(remote.ColUnitPrice)
	total, _ := rec.Int64(remote.ColTotal)
	ts, _ := time.ParseInLocation(TimeLayout, rec[remote.ColTime], time.Local)

	id := rec[remote.ColSaleID]
	if id == "" {
		id = row.Key
	}
	name := strings.TrimSpace(rec[remote.ColItem])
	return Record{
		ID:            id,
		Time:          ts,
		OrderID:       rec[remote.ColOrderID],
		ItemName:      name,
		Temperature:   rec[remote.ColTemperature],
		Composition:   rec[remote.ColComposition],
		Quantity:      qty,
		UnitPrice:     unit,
		Total:         total,
		PaymentMethod: rec[remote.ColMethod],
	}, true
}

// Appender queues append-only rows. syncer.Scheduler implements it.
type Appender interface {
	Append(sheet remote.Sheet, rec remote.Record)
}

// Publisher streams records to an external feed.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
}

// Recorder writes sales records.
type Recorder struct {
	appender  Appender
	publisher Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithPublisher streams every record to p as well.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.publisher = p }
}

// WithClock overrides the clock used to timestamp records.
func WithClock(c clock.Clock) RecorderOption {
	return func(r *Recorder) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRecorder creates a recorder appending through a.
func NewRecorder(a Appender, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		appender: a,
		clock:    clock.System{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Line builds a record for qty cups of one order line.
func (r *Recorder) Line(o *order.Order, l order.Line, qty int, unitPrice int64) Record {
	return Record{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Time:          r.clock.Now(),
		OrderID:       o.ID,
		ItemID:        l.ItemID,
		ItemName:      l.ItemName,
		Temperature:   string(l.Customization.Temperature),
		Composition:   l.Customization.Composition(),
		Quantity:      qty,
		UnitPrice:     unitPrice,
		Total:         unitPrice * int64(qty),
		PaymentMethod: o.PaymentMethod,
	}
}

// Record queues records for the sales sheet and publishes them. Records
// with a non-positive quantity are ignored. Feed failures are logged and
// never block the sale.
func (r *Recorder) Record(ctx context.Context, recs ...Record) int {
	n := 0
	for _, rec := range recs {
		if rec.Quantity <= 0 {
			continue
		}
		r.appender.Append(remote.SheetSales, rec.ToRecord())
		n++
		if r.publisher == nil {
			continue
		}
		if err := r.publisher.Publish(ctx, rec); err != nil {
			r.logger.Warn("sales feed publish failed", "sale", rec.ID, "error", err)
		}
	}
	return n
}
