package order

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// Queue reads online orders from the remote queue sheet.
//
// The sheet is populated by the website, so it is never cached: every
// lookup reads a fresh snapshot.
type Queue struct {
	store  remote.Store
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the logger used to report malformed queue rows.
func WithLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue creates a queue reader.
func NewQueue(store remote.Store, opts ...QueueOption) *Queue {
	q := &Queue{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Lookup returns the order whose rows carry token. Terminal orders are
// reported as NOT_FOUND, just like unknown tokens: there is nothing left to
// dispense for them.
func (q *Queue) Lookup(ctx context.Context, token string) (*Order, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, kioskerr.NotFound("order", token)
	}

	rows, err := q.store.ReadAll(ctx, remote.SheetOnlineQueue)
	if err != nil {
		return nil, kioskerr.RemoteUnavailable("read online queue", err)
	}

	o := &Order{
		ID:            token,
		Token:         token,
		PaymentMethod: MethodOnline,
		Source:        SourceOnline,
		Status:        StatusPending,
	}
	var statuses []Status
	for _, row := range rows {
		if strings.TrimSpace(row.Record[remote.ColQR]) != token {
			continue
		}
		line, st, ok := parseLine(row)
		if !ok {
			q.logger.Warn("skipping malformed queue row", "token", token, "row", row.Key,
				"item", row.Record[remote.ColItem], "quantity", row.Record[remote.ColQuantity])
			continue
		}
		o.Lines = append(o.Lines, line)
		statuses = append(statuses, st)
	}
	if len(o.Lines) == 0 {
		return nil, kioskerr.NotFound("order", token)
	}

	o.Status = aggregate(statuses)
	if o.Status.Terminal() {
		return nil, kioskerr.NotFound("order", token)
	}
	return o, nil
}

// aggregate folds per-row statuses into the order status. Rows of one
// order are written together, so they normally agree; if a previous
// write-back only reached some rows, the least advanced status wins so the
// order stays scannable.
func aggregate(statuses []Status) Status {
	rank := map[Status]int{
		StatusPending:         0,
		StatusPartiallyFilled: 1,
		StatusFilled:          2,
		StatusRejected:        2,
		StatusExpired:         2,
	}
	out := statuses[0]
	for _, s := range statuses[1:] {
		if rank[s] < rank[out] {
			out = s
		}
	}
	return out
}

// parseLine decodes one queue row. Rows without an item name or a positive
// quantity are rejected.
func parseLine(row remote.Row) (Line, Status, bool) {
	rec := row.Record
	name := strings.TrimSpace(rec[remote.ColItem])
	qty, ok := rec.Int(remote.ColQuantity)
	if !ok || qty <= 0 || name == "" {
		return Line{}, "", false
	}
	done, _ := rec.Int(remote.ColFulfilled)
	sugar, _ := rec.Int(remote.ColSugar)
	creamer, _ := rec.Int(remote.ColCreamer)
	milk, _ := rec.Int(remote.ColMilk)
	choc, _ := rec.Int(remote.ColChocolate)
	temp, ok := ParseTemperature(rec[remote.ColTemperature])
	if !ok {
		temp = Hot
	}
	st, ok := ParseStatus(rec[remote.ColStatus])
	if !ok {
		st = StatusPending
	}
	if st == StatusFilled && done == 0 {
		// Legacy rows marked "Selesai" without a fulfilled column.
		done = qty
	}

	return Line{
		RowKey:    row.Key,
		ItemID:    name,
		ItemName:  name,
		Requested: qty,
		Fulfilled: done,
		Customization: Customization{
			Temperature: temp,
			Sugar:       sugar,
			Creamer:     creamer,
			Milk:        milk,
			Chocolate:   choc,
		},
	}, st, true
}

// LineRecord encodes one line of an online order as a queue row, carrying
// the order status and the fulfilled/shortfall split.
func LineRecord(o *Order, l Line) remote.Record {
	c := l.Customization
	temp := c.Temperature
	if temp == "" {
		temp = Hot
	}
	return remote.Record{
		remote.ColQR:          o.Token,
		remote.ColItem:        l.ItemName,
		remote.ColQuantity:    strconv.Itoa(l.Requested),
		remote.ColTemperature: string(temp),
		remote.ColSugar:       strconv.Itoa(c.Sugar),
		remote.ColCreamer:     strconv.Itoa(c.Creamer),
		remote.ColMilk:        strconv.Itoa(c.Milk),
		remote.ColChocolate:   strconv.Itoa(c.Chocolate),
		remote.ColFulfilled:   strconv.Itoa(l.Fulfilled),
		remote.ColShortfall:   strconv.Itoa(l.Remaining()),
		remote.ColStatus:      string(o.Status),
	}
}
