// Package admin guards privileged kiosk operations behind the admin code.
//
// Restock and code rotation run through the Gate; other admin actions,
// such as shutting the kiosk down, confirm the session with Check. A restock
// is applied to the ledger and then pushed to the remote store immediately
// rather than waiting for the next batch; if that push fails the local
// change stands and the row stays queued for the scheduler.
package admin

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"

	"github.com/roach88/kopikiosk/internal/inventory"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// MinCodeLength is the shortest accepted admin code.
const MinCodeLength = 4

// Flusher pushes one row synchronously. syncer.Scheduler implements it.
type Flusher interface {
	FlushCurrent(ctx context.Context, sheet remote.Sheet, id string, current func() (remote.Record, error)) error
}

// Session is an authenticated admin session. It stays valid until the code
// is rotated by someone else.
type Session struct {
	ID  string
	gen uint64
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate authenticates admins and performs privileged operations.
type Gate struct {
	store   CodeStore
	ledger  *inventory.Ledger
	flusher Flusher
	logger  *slog.Logger

	mu       sync.Mutex
	code     string
	gen      uint64
	failures int
}

// NewGate loads the current code from store.
func NewGate(store CodeStore, ledger *inventory.Ledger, flusher Flusher, opts ...Option) (*Gate, error) {
	code, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load admin code: %w", err)
	}
	g := &Gate{
		store:   store,
		ledger:  ledger,
		flusher: flusher,
		logger:  slog.Default(),
		code:    code,
		gen:     1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate checks code and opens a session. Failures are counted and
// logged; there is no lockout.
func (g *Gate) Authenticate(code string) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(code)), []byte(g.code)) != 1 {
		g.failures++
		g.logger.Warn("admin authentication failed", "failures", g.failures)
		return nil, kioskerr.Denied("invalid admin code")
	}
	g.failures = 0
	return &Session{ID: uuid.NewString(), gen: g.gen}, nil
}

// Check reports whether s is still a valid admin session.
func (g *Gate) Check(s *Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s == nil || s.gen != g.gen {
		return kioskerr.Denied("admin session is no longer valid")
	}
	return nil
}

// Restock adds qty units of item id and writes the row through to the
// remote store. A REMOTE_UNAVAILABLE result means the stock was updated
// locally but not yet remotely.
func (g *Gate) Restock(ctx context.Context, s *Session, id string, qty int) (inventory.Item, error) {
	if err := g.Check(s); err != nil {
		return inventory.Item{}, err
	}
	if err := g.ledger.Restock(id, qty); err != nil {
		return inventory.Item{}, err
	}
	it, err := g.ledger.Get(id)
	if err != nil {
		return inventory.Item{}, err
	}
	g.logger.Info("item restocked", "item", it.ID, "added", qty, "quantity", it.Quantity, "session", s.ID)

	// The row is read again once the flusher holds the write slot, so a
	// reservation racing with this restock is not overwritten remotely.
	current := func() (remote.Record, error) {
		latest, err := g.ledger.Get(it.ID)
		if err != nil {
			return nil, err
		}
		return inventory.ItemRecord(latest), nil
	}
	if err := g.flusher.FlushCurrent(ctx, it.Category.Sheet(), it.ID, current); err != nil {
		g.logger.Warn("restock not yet synced", "item", it.ID, "error", err)
		return it, err
	}
	return it, nil
}

// RotateCode replaces the admin code. The new code is persisted before it
// takes effect; the old code stops working at once and every other open
// session is invalidated.
func (g *Gate) RotateCode(ctx context.Context, s *Session, newCode string) error {
	if err := g.Check(s); err != nil {
		return err
	}
	newCode = strings.TrimSpace(newCode)
	if err := ValidateCode(newCode); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.store.Save(newCode); err != nil {
		return fmt.Errorf("save admin code: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.code = newCode
	g.gen++
	g.failures = 0
	s.gen = g.gen
	g.logger.Info("admin code rotated", "session", s.ID)
	return nil
}

// ValidateCode checks that code is usable as an admin code.
func ValidateCode(code string) error {
	if len(code) < MinCodeLength {
		return fmt.Errorf("admin code must be at least %d characters", MinCodeLength)
	}
	for _, r := range code {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("admin code must not contain whitespace or control characters")
		}
	}
	return nil
}
