package audit

import (
	"context"
)

// Store persists audit events.
// Interface owned by the domain per hexagonal architecture; the SQLite
// adapter implements it with a single writer fed by a bounded queue.
type Store interface {
	// Append submits an event for storage. It never fails to the
	// caller: if the write queue is full the event is dropped and the
	// dropped-events counter incremented.
	Append(event Event)

	// Dropped returns the number of events dropped so far.
	Dropped() int64

	// Flush blocks until all events submitted before the call are
	// durable, or ctx is done. Called during shutdown.
	Flush(ctx context.Context) error

	// Close drains the queue and releases resources.
	Close() error
}

// QueryStore provides read access for the audit query plane. Readers run
// concurrently with the writer.
type QueryStore interface {
	// Query returns events matching the filter, newest first
	// (descending row id).
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// QueryStats aggregates events whose timestamp falls inside the
	// filter's time range.
	QueryStats(ctx context.Context, filter Filter) (*Stats, error)
}
