package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaygate/relaygate/internal/domain/audit"
)

// Writer batching knobs: a batch commits when it reaches batchSize or when
// the flush timer fires, whichever comes first, amortising fsync cost.
const (
	defaultQueueSize = 1000
	batchSize        = 100
	flushInterval    = 100 * time.Millisecond
)

// AuditStore implements audit.Store and audit.QueryStore over SQLite.
//
// Exactly one writer goroutine owns the insert path; request handlers
// submit through a bounded channel and never block: when the channel is
// full the event is dropped and counted. Readers query concurrently
// against WAL snapshots.
type AuditStore struct {
	db      *sql.DB
	queue   chan audit.Event
	flushCh chan chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
	logger  *slog.Logger
}

// AuditOption configures an AuditStore.
type AuditOption func(*AuditStore)

// WithQueueSize sets the submission queue capacity.
func WithQueueSize(n int) AuditOption {
	return func(s *AuditStore) {
		s.queue = make(chan audit.Event, n)
	}
}

// NewAuditStore creates the store over an opened database and starts the
// writer goroutine.
func NewAuditStore(db *sql.DB, logger *slog.Logger, opts ...AuditOption) *AuditStore {
	s := &AuditStore{
		db:      db,
		queue:   make(chan audit.Event, defaultQueueSize),
		flushCh: make(chan chan struct{}),
		done:    make(chan struct{}),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.writer()
	return s
}

// Append submits an event. Never fails to the caller: on a full queue the
// event is dropped and the dropped counter incremented.
func (s *AuditStore) Append(event audit.Event) {
	if s.closed.Load() {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of events dropped so far.
func (s *AuditStore) Dropped() int64 {
	return s.dropped.Load()
}

// Flush blocks until every event submitted before the call is durable,
// or ctx is done.
func (s *AuditStore) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushCh <- ack:
	case <-s.done:
		return nil // writer already drained on close
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, stops the writer, and closes the database.
// The queue channel is never closed so a racing Append cannot panic; the
// closed flag makes late submissions count as drops instead.
func (s *AuditStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

// writer is the single insert path. It accumulates events into batches
// and commits on size or timer.
func (s *AuditStore) writer() {
	defer s.wg.Done()

	batch := make([]audit.Event, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	commit := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.insertBatch(batch); err != nil {
			// Write errors drop the batch and continue; the proxy
			// must survive audit I/O failure.
			s.dropped.Add(int64(len(batch)))
			s.logger.Error("audit batch write failed", "error", err, "dropped", len(batch))
		}
		batch = batch[:0]
	}

	drain := func() {
		for {
			select {
			case ev := <-s.queue:
				batch = append(batch, ev)
				if len(batch) >= batchSize {
					commit()
				}
			default:
				commit()
				return
			}
		}
	}

	for {
		select {
		case ev := <-s.queue:
			batch = append(batch, ev)
			if len(batch) >= batchSize {
				commit()
			}
		case <-ticker.C:
			commit()
		case ack := <-s.flushCh:
			drain()
			close(ack)
		case <-s.done:
			drain()
			return
		}
	}
}

func (s *AuditStore) insertBatch(batch []audit.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO audit_events
		(ts, kind, client_ip, user_agent, method, path, status, duration_ms, action, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range batch {
		_, err := stmt.Exec(
			ev.Timestamp.UnixMilli(), ev.Kind, ev.ClientIP, nullStr(ev.UserAgent),
			nullStr(ev.Method), nullStr(ev.Path), nullInt(ev.Status), nullFloat(ev.DurationMs),
			nullStr(ev.Action), nullStr(ev.Details),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert: %w", err)
		}
	}
	return tx.Commit()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}

// Query returns events matching the filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	var where []string
	var args []any

	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.ClientIP != "" {
		where = append(where, "client_ip = ?")
		args = append(args, filter.ClientIP)
	}
	if !filter.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, filter.Until.UnixMilli())
	}

	q := "SELECT id, ts, kind, client_ip, user_agent, method, path, status, duration_ms, action, details FROM audit_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var ev audit.Event
		var ts int64
		var userAgent, method, path, action, details sql.NullString
		var status sql.NullInt64
		var durationMs sql.NullFloat64

		if err := rows.Scan(&ev.ID, &ts, &ev.Kind, &ev.ClientIP, &userAgent,
			&method, &path, &status, &durationMs, &action, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.UserAgent = userAgent.String
		ev.Method = method.String
		ev.Path = path.String
		ev.Status = int(status.Int64)
		ev.DurationMs = durationMs.Float64
		ev.Action = action.String
		ev.Details = details.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// topIPLimit bounds the stats leaderboard.
const topIPLimit = 10

// QueryStats aggregates events inside the filter's time range.
func (s *AuditStore) QueryStats(ctx context.Context, filter audit.Filter) (*audit.Stats, error) {
	since := filter.Since
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}
	until := filter.Until
	if until.IsZero() {
		until = time.Now()
	}
	lo, hi := since.UnixMilli(), until.UnixMilli()

	stats := &audit.Stats{
		ByKind:   make(map[string]int64),
		ByStatus: make(map[int]int64),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT kind, COUNT(*) FROM audit_events WHERE ts BETWEEN ? AND ? GROUP BY kind", lo, hi)
	if err != nil {
		return nil, fmt.Errorf("stats by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByKind[kind] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM audit_events WHERE ts BETWEEN ? AND ? AND status IS NOT NULL GROUP BY status", lo, hi)
	if err != nil {
		return nil, fmt.Errorf("stats by status: %w", err)
	}
	for rows.Next() {
		var status int
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, err
		}
		stats.ByStatus[status] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		"SELECT client_ip, COUNT(*) AS n FROM audit_events WHERE ts BETWEEN ? AND ? GROUP BY client_ip ORDER BY n DESC LIMIT ?",
		lo, hi, topIPLimit)
	if err != nil {
		return nil, fmt.Errorf("stats top ips: %w", err)
	}
	for rows.Next() {
		var entry audit.TopIP
		if err := rows.Scan(&entry.ClientIP, &entry.Count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.TopIPs = append(stats.TopIPs, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// Compile-time interface verification.
var (
	_ audit.Store      = (*AuditStore)(nil)
	_ audit.QueryStore = (*AuditStore)(nil)
)
