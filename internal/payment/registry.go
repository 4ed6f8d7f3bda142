package payment

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/roach88/kopikiosk/internal/clock"
	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// DefaultTimeout is how long a customer has to confirm a QRIS payment.
const DefaultTimeout = 300 * time.Second

// TokenGenerator produces session tokens.
type TokenGenerator interface {
	Generate() string
}

type typeIDTokens struct{}

func (typeIDTokens) Generate() string {
	tid, err := typeid.Generate("pay")
	if err != nil {
		panic(fmt.Sprintf("payment: generate token: %v", err))
	}
	return tid.String()
}

// Marker receives dirty payment rows. syncer.Scheduler implements it.
type Marker interface {
	MarkDirty(sheet remote.Sheet, id string, rec remote.Record)
}

type nopMarker struct{}

func (nopMarker) MarkDirty(remote.Sheet, string, remote.Record) {}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for deadlines.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithTokens overrides the token generator.
func WithTokens(g TokenGenerator) Option {
	return func(r *Registry) { r.tokens = g }
}

// WithTimeout sets the confirmation window.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMarker mirrors every state change to the payments sheet.
func WithMarker(m Marker) Option {
	return func(r *Registry) {
		if m != nil {
			r.marker = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// Registry holds live payment sessions keyed by token.
//
// Thread-safety: all methods are safe for concurrent use. The kiosk
// session, the confirmation server and the sweeper all call in.
type Registry struct {
	clock   clock.Clock
	tokens  TokenGenerator
	timeout time.Duration
	marker  Marker
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:    clock.System{},
		tokens:   typeIDTokens{},
		timeout:  DefaultTimeout,
		marker:   nopMarker{},
		logger:   slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a session for orderID.
func (r *Registry) Create(orderID string, amount int64, method string, hooks Hooks) *Session {
	now := r.clock.Now()
	s := &Session{
		snap: Snapshot{
			Token:     r.tokens.Generate(),
			OrderID:   orderID,
			Amount:    amount,
			Method:    method,
			State:     StateCreated,
			CreatedAt: now,
			Deadline:  now.Add(r.timeout),
		},
		hooks: hooks,
		done:  make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[s.snap.Token] = s
	r.mu.Unlock()

	r.mirror(s.snap)
	r.logger.Info("payment session created", "token", s.snap.Token, "order", orderID, "amount", amount)
	return s
}

func (r *Registry) get(token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.TrimSpace(token)]
	if !ok {
		return nil, kioskerr.NotFound("payment session", token)
	}
	return s, nil
}

func (r *Registry) mirror(snap Snapshot) {
	r.marker.MarkDirty(remote.SheetPayments, snap.Token, SessionRecord(snap))
}

// expireIfDue expires s when its deadline has passed. Returns true when the
// session is (now) expired.
func (r *Registry) expireIfDue(ctx context.Context, s *Session) bool {
	snap := s.Snapshot()
	if snap.State == StateExpired {
		return true
	}
	if snap.State.Terminal() || r.clock.Now().Before(snap.Deadline) {
		return false
	}
	snap, won := s.advance(StateExpired, StateCreated, StateAwaitingConfirmation)
	if won {
		r.mirror(snap)
		r.logger.Info("payment session expired", "token", snap.Token)
		s.finish(ctx, snap)
	}
	return snap.State == StateExpired
}

// View marks the session as seen by the customer. Viewing again, or viewing
// a confirmed session, changes nothing.
func (r *Registry) View(ctx context.Context, token string) (Snapshot, error) {
	s, err := r.get(token)
	if err != nil {
		return Snapshot{}, err
	}
	if r.expireIfDue(ctx, s) {
		return s.Snapshot(), kioskerr.SessionExpired(token)
	}
	snap, won := s.advance(StateAwaitingConfirmation, StateCreated)
	if won {
		r.mirror(snap)
	}
	return snap, nil
}

// Confirm completes the payment. Only the caller whose confirm performs the
// transition runs the commit hook; repeated confirms return the confirmed
// snapshot. A session that was never viewed is treated as viewed.
func (r *Registry) Confirm(ctx context.Context, token string) (Snapshot, error) {
	s, err := r.get(token)
	if err != nil {
		return Snapshot{}, err
	}
	if r.expireIfDue(ctx, s) {
		return s.Snapshot(), kioskerr.SessionExpired(token)
	}
	snap, won := s.advance(StateConfirmed, StateCreated, StateAwaitingConfirmation)
	if !won {
		if snap.State == StateExpired {
			return snap, kioskerr.SessionExpired(token)
		}
		// Already confirmed; wait for the winner's commit to finish.
		select {
		case <-s.done:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
		return snap, nil
	}

	r.mirror(snap)
	r.logger.Info("payment confirmed", "token", token, "order", snap.OrderID)
	s.finish(ctx, snap)
	return snap, nil
}

// Cancel aborts a pending session. If the customer already confirmed, the
// confirmed snapshot is returned and nothing changes.
func (r *Registry) Cancel(ctx context.Context, token string) (Snapshot, error) {
	s, err := r.get(token)
	if err != nil {
		return Snapshot{}, err
	}
	snap, won := s.advance(StateExpired, StateCreated, StateAwaitingConfirmation)
	if won {
		r.mirror(snap)
		r.logger.Info("payment session cancelled", "token", token)
		s.finish(ctx, snap)
	}
	return snap, nil
}

// ExpireDue expires every session past its deadline and forgets terminal
// sessions older than two timeouts. Returns the number expired.
func (r *Registry) ExpireDue(ctx context.Context) int {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	now := r.clock.Now()
	n := 0
	for _, s := range all {
		before := s.Snapshot()
		if !before.State.Terminal() && r.expireIfDue(ctx, s) {
			n++
			continue
		}
		if before.State.Terminal() && now.Sub(before.Deadline) > r.timeout {
			r.mu.Lock()
			delete(r.sessions, before.Token)
			r.mu.Unlock()
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := r.ExpireDue(ctx); n > 0 {
				r.logger.Debug("expired payment sessions", "count", n)
			}
		}
	}
}

// URL returns the confirmation page address encoded in the QR code.
func URL(base, token string) string {
	return strings.TrimRight(base, "/") + "/search?ref_id=" + url.QueryEscape(token)
}
