package ratelimit

import (
	"sync"
	"time"
)

// Decision is the admin limiter's verdict for one attempt.
type Decision struct {
	// OK is true when the attempt is admitted.
	OK bool
	// RetryAfter is how long the caller must wait. Meaningful only
	// when OK is false.
	RetryAfter time.Duration
}

// adminEntry tracks one (ip, operation) key.
type adminEntry struct {
	window       window
	blockedUntil time.Time
}

// AdminLimiter throttles sensitive admin operations per (IP, operation)
// key. It uses the same sliding-window accounting as the data-plane
// limiter, plus a blocked state: when the count reaches the budget inside
// the window, the key is blocked until now + blockDuration, and every
// check during the block is refused without extending the window.
type AdminLimiter struct {
	mu      sync.Mutex
	entries map[adminKey]*adminEntry

	budget        int
	window        time.Duration
	blockDuration time.Duration
}

type adminKey struct {
	ip string
	op string
}

// NewAdminLimiter creates an AdminLimiter. Defaults match the admin
// policy defaults: 5 attempts per 5 minutes, 10 minute block.
func NewAdminLimiter(budget int, windowDur, blockDuration time.Duration) *AdminLimiter {
	if budget <= 0 {
		budget = 5
	}
	if windowDur <= 0 {
		windowDur = 5 * time.Minute
	}
	if blockDuration <= 0 {
		blockDuration = 2 * windowDur
	}
	return &AdminLimiter{
		entries:       make(map[adminKey]*adminEntry),
		budget:        budget,
		window:        windowDur,
		blockDuration: blockDuration,
	}
}

// Check records an attempt from ip against op at time now.
// The attempt is counted whether or not it later succeeds; callers feed
// both requests and auth failures through here before doing work.
func (l *AdminLimiter) Check(ip, op string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	key := adminKey{ip: ip, op: op}
	e := l.entries[key]
	if e == nil {
		e = &adminEntry{}
		l.entries[key] = e
	}

	if e.blockedUntil.After(now) {
		return Decision{RetryAfter: e.blockedUntil.Sub(now)}
	}

	e.window.prune(now.Add(-l.window))
	if len(e.window.times) >= l.budget {
		e.blockedUntil = now.Add(l.blockDuration)
		return Decision{RetryAfter: l.blockDuration}
	}
	e.window.times = append(e.window.times, now)
	return Decision{OK: true}
}

// Clear removes all state for ip across every operation.
func (l *AdminLimiter) Clear(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.entries {
		if key.ip == ip {
			delete(l.entries, key)
		}
	}
}

// Size returns the number of tracked (ip, operation) keys.
func (l *AdminLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// sweep garbage-collects keys that are idle and not blocked. Runs under
// the limiter lock; the key space is small (admin traffic only).
func (l *AdminLimiter) sweep(now time.Time) {
	cutoff := now.Add(-l.window)
	for key, e := range l.entries {
		if e.blockedUntil.After(now) {
			continue
		}
		e.window.prune(cutoff)
		if len(e.window.times) == 0 {
			delete(l.entries, key)
		}
	}
}
