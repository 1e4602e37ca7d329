// Package audit contains domain types for the request and admin-action
// audit trail.
package audit

import (
	"time"
)

// Kind constants tag the two event variants.
const (
	// KindRequest records one data-plane request.
	KindRequest = "request"
	// KindAdmin records one administrative action.
	KindAdmin = "admin-action"
)

// StatusClientCancelled is recorded when the client disconnected before
// the response completed. Stored in place of an HTTP status code.
const StatusClientCancelled = 499

// Event is a single audit record. The two variants share timestamp,
// client IP, kind, and user agent; variant-specific fields are zero for
// the other kind. Events are never updated or deleted by the proxy.
type Event struct {
	// ID is the monotonically assigned row id. Zero until stored.
	ID int64 `json:"id"`
	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time `json:"timestamp"`
	// Kind is KindRequest or KindAdmin.
	Kind string `json:"kind"`
	// ClientIP is the attributed client address.
	ClientIP string `json:"client_ip"`
	// UserAgent is the inbound User-Agent header, if any.
	UserAgent string `json:"user_agent,omitempty"`

	// Request variant fields.
	Method     string  `json:"method,omitempty"`
	Path       string  `json:"path,omitempty"`
	Status     int     `json:"status,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`

	// Admin variant fields.
	Action string `json:"action,omitempty"`
	// Details is a free-form JSON blob describing the action outcome.
	Details string `json:"details,omitempty"`
}

// RequestEvent builds a request-kind event.
func RequestEvent(ts time.Time, clientIP, method, path string, status int, duration time.Duration, userAgent string) Event {
	return Event{
		Timestamp:  ts.UTC(),
		Kind:       KindRequest,
		ClientIP:   clientIP,
		UserAgent:  userAgent,
		Method:     method,
		Path:       path,
		Status:     status,
		DurationMs: float64(duration.Microseconds()) / 1000.0,
	}
}

// AdminEvent builds an admin-action-kind event.
func AdminEvent(ts time.Time, clientIP, action, details, userAgent string) Event {
	return Event{
		Timestamp: ts.UTC(),
		Kind:      KindAdmin,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Action:    action,
		Details:   details,
	}
}

// Filter specifies query parameters for audit log reads.
type Filter struct {
	// Kind restricts to one event kind (optional).
	Kind string
	// ClientIP restricts to one client address (optional).
	ClientIP string
	// Since and Until bound the time range (optional, zero = open).
	Since time.Time
	Until time.Time
	// Limit is clamped to [1, 1000] by the query plane.
	Limit int
	// Offset skips rows for pagination.
	Offset int
}

// TopIP is one entry of the stats leaderboard.
type TopIP struct {
	ClientIP string `json:"client_ip"`
	Count    int64  `json:"count"`
}

// Stats aggregates events over a window.
type Stats struct {
	// Total is the event count inside the window.
	Total int64 `json:"total"`
	// ByKind maps event kind to count.
	ByKind map[string]int64 `json:"by_kind"`
	// ByStatus maps HTTP status (request events only) to count.
	ByStatus map[int]int64 `json:"by_status"`
	// TopIPs lists the most active client addresses, descending.
	TopIPs []TopIP `json:"top_ips"`
}
