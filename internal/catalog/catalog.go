// Package catalog loads seed menus and writes them to the remote store.
//
// A catalog file is YAML (.yaml, .yml) or CUE (.cue). Either way it is
// unified with an embedded CUE schema before use, so a bad price or a
// misspelled field is reported with its position instead of being seeded.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/remote"
)

//go:embed schema.cue
var schemaSrc string

// Coffee is a sellable coffee.
type Coffee struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
	Stock int    `json:"stock"`
}

// Additive is a per-cup ingredient.
type Additive struct {
	Name  string `json:"name"`
	Stock int    `json:"stock"`
}

// Catalog is a full seed menu.
type Catalog struct {
	Coffees   []Coffee   `json:"coffees"`
	Additives []Additive `json:"additives"`
}

// Items converts the catalog to ledger items.
func (c *Catalog) Items() []inventory.Item {
	out := make([]inventory.Item, 0, len(c.Coffees)+len(c.Additives))
	for _, cf := range c.Coffees {
		out = append(out, inventory.Item{
			ID:       inventory.NormalizeID(cf.Name),
			Name:     strings.TrimSpace(cf.Name),
			Price:    cf.Price,
			Quantity: cf.Stock,
			Category: inventory.CategoryCoffee,
		})
	}
	for _, a := range c.Additives {
		out = append(out, inventory.Item{
			ID:       inventory.NormalizeID(a.Name),
			Name:     strings.TrimSpace(a.Name),
			Quantity: a.Stock,
			Category: inventory.CategoryAdditive,
		})
	}
	return out
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	ctx := cuecontext.New()
	var v cue.Value
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		v = ctx.Encode(raw)
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(path))
	default:
		return nil, fmt.Errorf("unsupported catalog format %q (want .yaml, .yml or .cue)", filepath.Ext(path))
	}
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("parse %s: %s", path, formatCUEError(err))
	}
	return validate(ctx, v)
}

func validate(ctx *cue.Context, v cue.Value) (*Catalog, error) {
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog schema: %w", err)
	}

	merged := schema.LookupPath(cue.ParsePath("#Catalog")).Unify(v)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("invalid catalog: %s", formatCUEError(err))
	}

	var cat Catalog
	if err := merged.Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	seen := make(map[string]string)
	for _, it := range cat.Items() {
		if prev, ok := seen[it.ID]; ok {
			return nil, fmt.Errorf("invalid catalog: %q and %q name the same item", prev, it.Name)
		}
		seen[it.ID] = it.Name
	}
	return &cat, nil
}

// formatCUEError flattens a CUE error list into one line per error.
func formatCUEError(err error) string {
	var msgs []string
	for _, e := range errors.Errors(err) {
		msg := e.Error()
		if pos := e.Position(); pos.IsValid() {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}

// Seed writes every catalog item to its stock sheet, keyed by item id.
// Existing rows for the same items are overwritten.
func Seed(ctx context.Context, store remote.Store, cat *Catalog) (int, error) {
	n := 0
	for _, it := range cat.Items() {
		if err := store.WriteRow(ctx, it.Category.Sheet(), it.ID, inventory.ItemRecord(it)); err != nil {
			return n, fmt.Errorf("seed %s: %w", it.Name, err)
		}
		n++
	}
	return n, nil
}
