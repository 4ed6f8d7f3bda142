package syncer

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/roach88/kopikiosk/internal/kioskerr"
	"github.com/roach88/kopikiosk/internal/remote"
)

// Key identifies one dirty row.
type Key struct {
	Sheet remote.Sheet
	ID    string
}

type entry struct {
	rec remote.Record
	gen uint64
}

type pendingAppend struct {
	sheet remote.Sheet
	rec   remote.Record
}

// Result summarizes one flush.
type Result struct {
	Written  int // rows overwritten
	Appended int // rows appended
	Requeued int // entries left dirty for the next cycle
	Dropped  int // entries discarded by Drain
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the periodic flush interval used by Run.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetry sets the FlushSync retry budget. Attempt n waits n*backoff
// before attempt n+1.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(s *Scheduler) {
		if attempts > 0 {
			s.attempts = attempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithBurst makes Run flush early once this many entries are pending.
// Zero disables burst flushing.
func WithBurst(n int) Option {
	return func(s *Scheduler) {
		s.burst = n
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler batches cache mutations and writes them to the remote store.
//
// Thread-safety: MarkDirty and Append may be called from any goroutine and
// never block on the network. Flushes are serialized with each other.
type Scheduler struct {
	store  remote.Store
	logger *slog.Logger

	interval time.Duration
	attempts int
	backoff  time.Duration
	burst    int

	mu      sync.Mutex
	dirty   map[Key]entry
	order   []Key
	appends []pendingAppend
	gen     uint64
	signal  chan struct{} // burst wake-up (buffered, size 1)

	flushMu sync.Mutex
}

// New creates a scheduler writing to store.
func New(store remote.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		logger:   slog.Default(),
		interval: 300 * time.Second,
		attempts: 3,
		backoff:  500 * time.Millisecond,
		dirty:    make(map[Key]entry),
		signal:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MarkDirty records the latest value of a row. A later call for the same
// (sheet, id) replaces the earlier value.
func (s *Scheduler) MarkDirty(sheet remote.Sheet, id string, rec remote.Record) {
	k := Key{Sheet: sheet, ID: id}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if _, ok := s.dirty[k]; !ok {
		s.order = append(s.order, k)
	}
	s.dirty[k] = entry{rec: rec.Clone(), gen: s.gen}
	s.nudge()
}

// Append queues an append-only row. Appends are written in FIFO order.
func (s *Scheduler) Append(sheet remote.Sheet, rec remote.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appends = append(s.appends, pendingAppend{sheet: sheet, rec: rec.Clone()})
	s.nudge()
}

// nudge wakes Run when the burst threshold is reached. Caller holds mu.
func (s *Scheduler) nudge() {
	if s.burst <= 0 || len(s.dirty)+len(s.appends) < s.burst {
		return
	}
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Pending returns the number of entries waiting to be flushed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirty) + len(s.appends)
}

type taken struct {
	key Key
	entry
}

// take removes the current batch.
func (s *Scheduler) take() ([]taken, []pendingAppend) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]taken, 0, len(s.dirty))
	seen := make(map[Key]bool, len(s.dirty))
	for _, k := range s.order {
		if seen[k] {
			continue
		}
		e, ok := s.dirty[k]
		if !ok {
			continue
		}
		seen[k] = true
		batch = append(batch, taken{key: k, entry: e})
	}
	appends := s.appends

	s.dirty = make(map[Key]entry)
	s.order = nil
	s.appends = nil
	return batch, appends
}

// requeue returns failed entries to the batch unless a newer value was
// marked while the flush was in flight.
func (s *Scheduler) requeue(failed []taken, failedAppends []pendingAppend) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range failed {
		if cur, ok := s.dirty[t.key]; ok && cur.gen > t.gen {
			continue
		}
		if _, ok := s.dirty[t.key]; !ok {
			s.order = append(s.order, t.key)
		}
		s.dirty[t.key] = t.entry
	}
	if len(failedAppends) > 0 {
		s.appends = append(failedAppends, s.appends...)
	}
}

// FlushAsync writes the current batch. Entries that fail stay dirty.
//
// A partially applied batch returns an INCONSISTENT error; a batch where
// nothing could be written returns REMOTE_UNAVAILABLE. Both are reported
// for logging only: the failed entries are already back in the batch.
func (s *Scheduler) FlushAsync(ctx context.Context) (Result, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	batch, appends := s.take()
	var (
		res           Result
		failed        []taken
		failedAppends []pendingAppend
		firstErr      error
	)

	for _, t := range batch {
		if err := s.store.WriteRow(ctx, t.key.Sheet, t.key.ID, t.rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			failed = append(failed, t)
			continue
		}
		res.Written++
	}

	for i, a := range appends {
		if _, err := s.store.AppendRow(ctx, a.sheet, a.rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Keep FIFO order: stop at the first failed append.
			failedAppends = appends[i:]
			break
		}
		res.Appended++
	}

	s.requeue(failed, failedAppends)
	res.Requeued = len(failed) + len(failedAppends)

	if res.Requeued == 0 {
		if res.Written+res.Appended > 0 {
			s.logger.Debug("sync flush complete", "written", res.Written, "appended", res.Appended)
		}
		return res, nil
	}

	if res.Written+res.Appended > 0 {
		err := kioskerr.Inconsistent(res.Written+res.Appended, res.Requeued, firstErr)
		s.logger.Warn("sync flush partially applied", "written", res.Written, "appended", res.Appended, "requeued", res.Requeued, "error", firstErr)
		return res, err
	}
	s.logger.Warn("sync flush failed", "requeued", res.Requeued, "error", firstErr)
	return res, kioskerr.RemoteUnavailable("flush", firstErr)
}

// FlushSync writes one row immediately, bypassing the batch, and blocks
// until the store acknowledges or the retry budget is spent. See
// FlushCurrent.
func (s *Scheduler) FlushSync(ctx context.Context, sheet remote.Sheet, id string, rec remote.Record) error {
	return s.FlushCurrent(ctx, sheet, id, func() (remote.Record, error) { return rec, nil })
}

// FlushCurrent writes one row immediately. current is called once no other
// flush can run, so the record it returns is at least as new as anything
// already written for the row.
//
// A queued value for the same row is dropped only if it equals the written
// record. A different queued value was marked later and stays queued. On
// failure the row is marked dirty again so a later flush can still deliver
// it.
func (s *Scheduler) FlushCurrent(ctx context.Context, sheet remote.Sheet, id string, current func() (remote.Record, error)) error {
	k := Key{Sheet: sheet, ID: id}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	rec, err := current()
	if err != nil {
		return err
	}

	s.mu.Lock()
	cur, queued := s.dirty[k]
	if queued && maps.Equal(cur.rec, rec) {
		delete(s.dirty, k)
		queued = false
	}
	s.gen++
	t := taken{key: k, entry: entry{rec: rec.Clone(), gen: s.gen}}
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		lastErr = s.store.WriteRow(ctx, sheet, id, t.rec)
		if lastErr == nil {
			return nil
		}
		s.logger.Warn("sync write failed", "sheet", sheet, "id", id, "attempt", attempt, "error", lastErr)
		if attempt == s.attempts {
			break
		}
		if err := sleepCtx(ctx, time.Duration(attempt)*s.backoff); err != nil {
			lastErr = err
			break
		}
	}

	if !queued {
		s.requeue([]taken{t}, nil)
	}
	return kioskerr.RemoteUnavailable("write "+string(sheet)+"/"+id, lastErr)
}

// Drain performs a final flush bounded by timeout. Entries that still could
// not be written are logged and discarded.
func (s *Scheduler) Drain(timeout time.Duration) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := s.FlushAsync(ctx)
	if err == nil {
		return res, nil
	}

	batch, appends := s.take()
	for _, t := range batch {
		s.logger.Error("dropping unflushed row", "sheet", t.key.Sheet, "id", t.key.ID)
	}
	for _, a := range appends {
		s.logger.Error("dropping unflushed append", "sheet", a.sheet)
	}
	res.Dropped = len(batch) + len(appends)
	res.Requeued = 0
	return res, err
}

// Run flushes on every interval tick and whenever the burst threshold is
// reached. It returns ctx.Err() once ctx is done; callers follow with Drain.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler starting", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopping", "pending", s.Pending())
			return ctx.Err()
		case <-ticker.C:
		case <-s.signal:
		}

		if _, err := s.FlushAsync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("periodic flush incomplete", "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
