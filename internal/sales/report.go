package sales

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// FormatRupiah renders an amount with Indonesian digit grouping: Rp15.000.
func FormatRupiah(amount int64) string {
	p := message.NewPrinter(language.Indonesian)
	if amount < 0 {
		return p.Sprintf("-Rp%d", -amount)
	}
	return p.Sprintf("Rp%d", amount)
}

// ItemTotal aggregates sales of one item.
type ItemTotal struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Revenue  int64  `json:"revenue"`
}

// Report summarizes the sales sheet.
type Report struct {
	Items      []ItemTotal      `json:"items"`
	Bestseller *ItemTotal       `json:"bestseller,omitempty"`
	TotalCups  int              `json:"total_cups"`
	Revenue    int64            `json:"revenue"`
	Stock      []inventory.Item `json:"stock,omitempty"`
}

// LoadRecords reads every parseable record from the sales sheet.
func LoadRecords(ctx context.Context, store remote.Store) ([]Record, error) {
	rows, err := store.ReadAll(ctx, remote.SheetSales)
	if err != nil {
		return nil, kioskerr.RemoteUnavailable("read sales", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		if r, ok := ParseRecord(row); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Summarize totals records by item name. Items are ordered by quantity
// sold, then name; the first is the bestseller.
func Summarize(records []Record) Report {
	byName := make(map[string]*ItemTotal)
	var rep Report
	for _, r := range records {
		t, ok := byName[r.ItemName]
		if !ok {
			t = &ItemTotal{Name: r.ItemName}
			byName[r.ItemName] = t
		}
		t.Quantity += r.Quantity
		t.Revenue += r.Total
		rep.TotalCups += r.Quantity
		rep.Revenue += r.Total
	}

	rep.Items = make([]ItemTotal, 0, len(byName))
	for _, t := range byName {
		rep.Items = append(rep.Items, *t)
	}
	sort.Slice(rep.Items, func(i, j int) bool {
		if rep.Items[i].Quantity != rep.Items[j].Quantity {
			return rep.Items[i].Quantity > rep.Items[j].Quantity
		}
		return rep.Items[i].Name < rep.Items[j].Name
	})
	if len(rep.Items) > 0 {
		best := rep.Items[0]
		rep.Bestseller = &best
	}
	return rep
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// RenderText writes the menu (stock) and the sales summary.
func RenderText(w io.Writer, rep Report) error {
	if len(rep.Stock) > 0 {
		fmt.Fprintln(w, "MENU")
		tw := newTable(w)
		fmt.Fprintln(tw, "Item\tPrice\tStock")
		for _, it := range rep.Stock {
			price := "-"
			if it.Category == inventory.CategoryCoffee {
				price = FormatRupiah(it.Price)
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\n", it.Name, price, it.Quantity)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "SALES")
	tw := newTable(w)
	fmt.Fprintln(tw, "Item\tCups\tRevenue")
	for _, t := range rep.Items {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", t.Name, t.Quantity, FormatRupiah(t.Revenue))
	}
	fmt.Fprintf(tw, "Total\t%d\t%s\n", rep.TotalCups, FormatRupiah(rep.Revenue))
	if err := tw.Flush(); err != nil {
		return err
	}

	if rep.Bestseller != nil {
		_, err := fmt.Fprintf(w, "\nBestseller: %s (%d cups)\n", rep.Bestseller.Name, rep.Bestseller.Quantity)
		return err
	}
	_, err := fmt.Fprintln(w, "\nNo sales recorded yet.")
	return err
}
