// Package order models kiosk orders and the online order queue.
//
// Walk-in orders are built at the terminal and live only in memory until
// committed. Online orders are placed on the website, land as rows in the
// AntrianPesananQR sheet keyed by the QR token, and are reconciled against
// stock when the customer scans the code at the kiosk.
package order

import (
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending         Status = "Pending"
	StatusPartiallyFilled Status = "PartiallyFilled"
	StatusFilled          Status = "Filled"
	StatusRejected        Status = "Rejected"
	StatusExpired         Status = "Expired"
)

// legacyStatuses maps values written by older kiosk builds.
var legacyStatuses = map[string]Status{
	"selesai": StatusFilled,
	"pending": StatusPending,
	"expired": StatusExpired,
}

// ParseStatus reads a status column. Unknown values report ok=false.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	switch Status(s) {
	case StatusPending, StatusPartiallyFilled, StatusFilled, StatusRejected, StatusExpired:
		return Status(s), true
	}
	if st, ok := legacyStatuses[strings.ToLower(s)]; ok {
		return st, true
	}
	return "", false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusExpired
}

// CanTransition reports whether s may move to next. Status is monotonic:
// terminal states never change, and PartiallyFilled may only move on to
// Filled (or stay PartiallyFilled after another partial rescan).
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next != StatusPending
	case StatusPartiallyFilled:
		return next == StatusFilled || next == StatusPartiallyFilled
	default:
		return false
	}
}

// Source tells where an order came from.
type Source string

const (
	SourceWalkIn Source = "walk-in"
	SourceOnline Source = "online"
)

// Payment methods as recorded in the sales sheet.
const (
	MethodCash   = "Tunai"
	MethodQRIS   = "QRIS"
	MethodOnline = "Pembelian Daring Melalui Website"
)

// Temperature of a served cup.
type Temperature string

const (
	Hot  Temperature = "hangat"
	Cold Temperature = "dingin"
)

// ParseTemperature accepts the sheet values and their English names.
func ParseTemperature(s string) (Temperature, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hangat", "hot", "panas":
		return Hot, true
	case "dingin", "cold", "es":
		return Cold, true
	}
	return "", false
}

// MaxLevel is the highest additive level a cup can request.
const MaxLevel = 5

// Additive item ids in the ledger.
const (
	AdditiveSugar     = "gula"
	AdditiveCreamer   = "krimer"
	AdditiveMilk      = "susu"
	AdditiveChocolate = "cokelat"
)

// Customization describes how one cup is prepared. Each level is the number
// of additive units one cup consumes.
type Customization struct {
	Temperature Temperature `json:"temperature"`
	Sugar       int         `json:"sugar"`
	Creamer     int         `json:"creamer"`
	Milk        int         `json:"milk"`
	Chocolate   int         `json:"chocolate"`
}

// AdditiveLevel pairs an additive item id with units per cup.
type AdditiveLevel struct {
	ItemID string
	Level  int
}

// Additives lists the non-zero additive levels in a fixed order.
func (c Customization) Additives() []AdditiveLevel {
	all := []AdditiveLevel{
		{AdditiveSugar, c.Sugar},
		{AdditiveCreamer, c.Creamer},
		{AdditiveMilk, c.Milk},
		{AdditiveChocolate, c.Chocolate},
	}
	out := all[:0]
	for _, a := range all {
		if a.Level > 0 {
			out = append(out, a)
		}
	}
	return out
}

// Validate checks levels are within 0..MaxLevel.
func (c Customization) Validate() error {
	for name, lvl := range map[string]int{
		"sugar": c.Sugar, "creamer": c.Creamer, "milk": c.Milk, "chocolate": c.Chocolate,
	} {
		if lvl < 0 || lvl > MaxLevel {
			return fmt.Errorf("%s level %d out of range 0-%d", name, lvl, MaxLevel)
		}
	}
	return nil
}

// Composition renders the levels for the sales sheet, e.g. "Gula: 2, Susu: 1".
func (c Customization) Composition() string {
	labels := map[string]string{
		AdditiveSugar: "Gula", AdditiveCreamer: "Krimer", AdditiveMilk: "Susu", AdditiveChocolate: "Cokelat",
	}
	var parts []string
	for _, a := range c.Additives() {
		parts = append(parts, fmt.Sprintf("%s: %d", labels[a.ItemID], a.Level))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

// Line is one item of an order.
type Line struct {
	RowKey        string        `json:"row_key,omitempty"`
	ItemID        string        `json:"item_id"`
	ItemName      string        `json:"item_name"`
	Requested     int           `json:"requested"`
	Fulfilled     int           `json:"fulfilled"`
	Customization Customization `json:"customization"`
}

// Remaining is the quantity still owed.
func (l Line) Remaining() int {
	if r := l.Requested - l.Fulfilled; r > 0 {
		return r
	}
	return 0
}

// Order is a customer order.
type Order struct {
	ID            string `json:"id"`
	Token         string `json:"token,omitempty"`
	Lines         []Line `json:"lines"`
	PaymentMethod string `json:"payment_method"`
	Status        Status `json:"status"`
	Source        Source `json:"source"`
}

// Transition moves the order to next if the lifecycle allows it.
func (o *Order) Transition(next Status) error {
	if !o.Status.CanTransition(next) {
		return fmt.Errorf("order %s: cannot transition %s -> %s", o.ID, o.Status, next)
	}
	o.Status = next
	return nil
}

// Dispensed reports whether any line has a fulfilled quantity.
func (o *Order) Dispensed() bool {
	for _, l := range o.Lines {
		if l.Fulfilled > 0 {
			return true
		}
	}
	return false
}

// NewID returns a fresh walk-in order id ("ord_...").
func NewID() string {
	tid, err := typeid.Generate("ord")
	if err != nil {
		panic(fmt.Sprintf("order: generate id: %v", err))
	}
	return tid.String()
}
