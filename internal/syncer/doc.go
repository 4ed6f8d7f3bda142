// Package syncer reconciles the kiosk's local cache with the remote store.
//
// The remote store is slow and non-transactional, so routine mutations
// (stock decrements, order status, sales rows) are not written inline.
// Callers mark rows dirty; the Scheduler keeps only the latest value per
// (sheet, id) and writes the batch on a fixed interval, when the batch
// grows past a burst threshold, and once more on shutdown.
//
// FLUSH SEMANTICS:
//
// A flush drains the batch and writes every entry. Entries that fail are
// put back unless a newer value for the same row arrived while the flush
// was in flight. From the caller's perspective a flush is all-or-nothing:
// nothing is lost, it is only delayed to the next cycle.
//
// Admin operations whose durability is user visible use FlushCurrent (or
// FlushSync for a fixed record), which writes one row immediately with a bounded retry budget and linear
// backoff. The batch stays authoritative: a queued value for the same row
// is only dropped when it equals the row that was written.
//
// Drain is the shutdown path: one final flush bounded by a timeout. Rows
// that still cannot be written are logged and dropped.
package syncer
