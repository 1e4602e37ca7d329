// Package clock provides the time sources used by the proxy.
//
// Components that make admission decisions take a Clock instead of calling
// time.Now directly so tests can drive the window deterministically.
package clock

import "time"

// Clock supplies monotonic "now" readings and wall-clock timestamps.
type Clock interface {
	// Now returns the current time. The returned value carries Go's
	// monotonic reading, so Sub is safe for measuring durations.
	Now() time.Time
}

// System is the real clock backed by time.Now.
type System struct{}

// Now implements Clock.
func (System) Now() time.Time { return time.Now() }

// Fake is a manually advanced clock for tests.
type Fake struct {
	current time.Time
}

// NewFake returns a Fake clock starting at t.
func NewFake(t time.Time) *Fake { return &Fake{current: t} }

// Now implements Clock.
func (f *Fake) Now() time.Time { return f.current }

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) { f.current = f.current.Add(d) }

// Compile-time interface verification.
var (
	_ Clock = System{}
	_ Clock = (*Fake)(nil)
)
