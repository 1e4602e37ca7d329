// Package ratelimit provides the sliding-window admission limiters: one for
// the data plane (per client IP against a global budget) and one for the
// admin plane (per IP and operation, with temporary blocking on saturation).
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// stripeCount shards the IP map so unrelated traffic does not
	// serialise on one lock. Must be a power of two.
	stripeCount = 64

	// maxTrackedIPs is the tracked-IP count at which Admit, before adding
	// a new IP, evicts idle windows from the other stripes. It is a soft
	// cap: when nothing is idle the new IP is added anyway. Evicting an
	// idle IP is semantically equivalent to it having been idle.
	maxTrackedIPs = 100_000
)

// Stats describes one IP's current window for the admin plane.
type Stats struct {
	// Count is the number of admissions still inside the window.
	Count int
	// Oldest is the timestamp of the oldest admission in the window.
	// Zero when the window is empty.
	Oldest time.Time
}

// window is the per-IP ordered sequence of admission timestamps.
// Entries older than the window duration are purged on every access.
type window struct {
	times []time.Time
}

// prune drops entries at or before cutoff. Timestamps are appended in
// non-decreasing order, so a single scan from the front suffices.
func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

type stripe struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is the data-plane sliding-window limiter. State is in-memory
// only and lossy under crash; rate limits are soft guarantees, not
// durable promises.
type Limiter struct {
	stripes [stripeCount]*stripe
	window  time.Duration
	tracked atomic.Int64
}

// NewLimiter creates a Limiter with the given window duration
// (the data plane uses 60 seconds).
func NewLimiter(windowDur time.Duration) *Limiter {
	l := &Limiter{window: windowDur}
	for i := range l.stripes {
		l.stripes[i] = &stripe{windows: make(map[string]*window)}
	}
	return l
}

func (l *Limiter) stripeFor(ip string) *stripe {
	return l.stripes[xxhash.Sum64String(ip)&(stripeCount-1)]
}

// Admit decides whether a request from ip at time now fits the budget.
// It purges entries older than the window, rejects when the remaining
// count has reached budget, and otherwise records now and admits.
// Decisions for one IP are linearised at its stripe lock.
func (l *Limiter) Admit(ip string, now time.Time, budget int) bool {
	s := l.stripeFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[ip]
	if w == nil {
		if l.tracked.Load() >= maxTrackedIPs {
			l.evictIdle(s, now)
		}
		w = &window{}
		s.windows[ip] = w
		l.tracked.Add(1)
	}

	w.prune(now.Add(-l.window))
	if len(w.times) >= budget {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Clear removes ip's window entirely.
func (l *Limiter) Clear(ip string) {
	s := l.stripeFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[ip]; ok {
		delete(s.windows, ip)
		l.tracked.Add(-1)
	}
}

// Stats returns the current window count and oldest entry for ip,
// pruned as of now.
func (l *Limiter) Stats(ip string, now time.Time) Stats {
	s := l.stripeFor(ip)
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[ip]
	if w == nil {
		return Stats{}
	}
	w.prune(now.Add(-l.window))
	st := Stats{Count: len(w.times)}
	if len(w.times) > 0 {
		st.Oldest = w.times[0]
	}
	return st
}

// Size returns the number of tracked IPs. Used by the status endpoint
// and the rate_limit_keys gauge.
func (l *Limiter) Size() int {
	return int(l.tracked.Load())
}

// evictIdle removes windows with no entries inside the current window.
// Called opportunistically when the IP cap is reached; the caller's own
// stripe is skipped because its lock is already held (TryLock fails).
func (l *Limiter) evictIdle(holding *stripe, now time.Time) {
	cutoff := now.Add(-l.window)
	for _, s := range l.stripes {
		if s == holding || !s.mu.TryLock() {
			continue
		}
		for ip, w := range s.windows {
			w.prune(cutoff)
			if len(w.times) == 0 {
				delete(s.windows, ip)
				l.tracked.Add(-1)
			}
		}
		s.mu.Unlock()
	}
}
