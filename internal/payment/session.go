// Package payment tracks QRIS payment sessions.
//
// A session is created when a walk-in customer chooses QRIS. The kiosk shows
// a QR code linking to the confirmation page; the customer's phone views the
// page and confirms. Confirmation and expiry race, and exactly one of them
// wins:
//
//	Created ──view──▶ AwaitingConfirmation ──confirm──▶ Confirmed
//	   │                      │
//	   └──────deadline────────┴──────────────▶ Expired
//
// The commit hook runs once, for the caller whose confirm won. The expire
// hook runs once, for whichever caller observed the deadline first (or for
// an explicit cancel).
package payment

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/kopikiosk/internal/remote"
	"github.com/roach88/kopikiosk/internal/sales"
)

// State of a payment session.
type State string

const (
	StateCreated              State = "Created"
	StateAwaitingConfirmation State = "AwaitingConfirmation"
	StateConfirmed            State = "Confirmed"
	StateExpired              State = "Expired"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateExpired
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	Token     string    `json:"token"`
	OrderID   string    `json:"order_id"`
	Amount    int64     `json:"amount"`
	Method    string    `json:"method"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// Hooks are run on the terminal transition. Either may be nil.
type Hooks struct {
	OnCommit func(ctx context.Context, s Snapshot)
	OnExpire func(ctx context.Context, s Snapshot)
}

// Session is one payment attempt.
type Session struct {
	mu    sync.Mutex
	snap  Snapshot
	hooks Hooks
	done  chan struct{}
}

// Token returns the session token.
func (s *Session) Token() string {
	return s.snap.Token
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Done is closed after the session reaches a terminal state and its hook
// has run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// advance moves the session to next when the current state is one of from.
// It reports whether this call performed the transition.
func (s *Session) advance(next State, from ...State) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.snap.State == f {
			s.snap.State = next
			return s.snap, true
		}
	}
	return s.snap, false
}

// finish runs the hook for a terminal transition this caller won, then
// releases waiters.
func (s *Session) finish(ctx context.Context, snap Snapshot) {
	var hook func(context.Context, Snapshot)
	switch snap.State {
	case StateConfirmed:
		hook = s.hooks.OnCommit
	case StateExpired:
		hook = s.hooks.OnExpire
	}
	if hook != nil {
		hook(ctx, snap)
	}
	close(s.done)
}

// SessionRecord encodes a session as a payments sheet row.
func SessionRecord(s Snapshot) remote.Record {
	return remote.Record{
		remote.ColReference: s.Token,
		remote.ColOrderID:   s.OrderID,
		remote.ColTotal:     strconv.FormatInt(s.Amount, 10),
		remote.ColMethod:    s.Method,
		remote.ColTimestamp: s.CreatedAt.Format(sales.TimeLayout),
		remote.ColStatus:    string(s.State),
	}
}
