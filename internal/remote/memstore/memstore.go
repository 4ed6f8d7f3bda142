// Package memstore is an in-memory remote.Store with fault injection.
//
// It backs the test suite and the "memory" store mode of the CLI. Faults
// simulate the flaky, latency-heavy hosted spreadsheet the kiosk talks to
// in production: a write can be made to fail for specific keys, for the
// next N calls, or always, and every call can be delayed.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/kopikiosk/internal/remote"
)

// ErrInjected is returned by calls failed through fault injection.
var ErrInjected = errors.New("memstore: injected failure")

type sheetData struct {
	order []string
	rows  map[string]remote.Record
}

// Store is the in-memory store.
type Store struct {
	mu      sync.Mutex
	sheets  map[remote.Sheet]*sheetData
	latency time.Duration

	failAll  bool
	failNext int
	failKeys map[string]bool

	writes  int
	appends int
	reads   int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sheets:   make(map[remote.Sheet]*sheetData),
		failKeys: make(map[string]bool),
	}
}

func (s *Store) sheet(name remote.Sheet) *sheetData {
	d, ok := s.sheets[name]
	if !ok {
		d = &sheetData{rows: make(map[string]remote.Record)}
		s.sheets[name] = d
	}
	return d
}

// SetLatency delays every subsequent call by d (honoring context cancellation).
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetUnavailable makes every call fail until cleared.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = down
}

// FailNext makes the next n mutating calls fail.
func (s *Store) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// FailKey makes writes to the given row key fail until ClearFaults.
func (s *Store) FailKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failKeys[key] = true
}

// ClearFaults removes all injected faults and latency.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = false
	s.failNext = 0
	s.failKeys = make(map[string]bool)
	s.latency = 0
}

// Writes returns the number of successful WriteRow calls.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Appends returns the number of successful AppendRow calls.
func (s *Store) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// Reads returns the number of successful ReadAll calls.
func (s *Store) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *Store) delay(ctx context.Context) error {
	s.mu.Lock()
	d := s.latency
	s.mu.Unlock()
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

// fault reports whether the current mutating call should fail. Caller holds mu.
func (s *Store) fault(key string) bool {
	if s.failAll || (key != "" && s.failKeys[key]) {
		return true
	}
	if s.failNext > 0 {
		s.failNext--
		return true
	}
	return false
}

// ReadAll returns a copy of every row in insertion order.
func (s *Store) ReadAll(ctx context.Context, sheet remote.Sheet) ([]remote.Row, error) {
	if err := s.delay(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return nil, ErrInjected
	}
	s.reads++
	d := s.sheet(sheet)
	rows := make([]remote.Row, 0, len(d.order))
	for _, key := range d.order {
		rows = append(rows, remote.Row{Key: key, Record: d.rows[key].Clone()})
	}
	return rows, nil
}

// AppendRow stores rec under a new UUIDv7 key.
func (s *Store) AppendRow(ctx context.Context, sheet remote.Sheet, rec remote.Record) (string, error) {
	if err := s.delay(ctx); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault("") {
		return "", ErrInjected
	}
	key := uuid.Must(uuid.NewV7()).String()
	d := s.sheet(sheet)
	d.order = append(d.order, key)
	d.rows[key] = rec.Clone()
	s.appends++
	return key, nil
}

// WriteRow upserts rec under key.
func (s *Store) WriteRow(ctx context.Context, sheet remote.Sheet, key string, rec remote.Record) error {
	if err := s.delay(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fault(key) {
		return ErrInjected
	}
	d := s.sheet(sheet)
	if _, ok := d.rows[key]; !ok {
		d.order = append(d.order, key)
	}
	d.rows[key] = rec.Clone()
	s.writes++
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ remote.Store = (*Store)(nil)
