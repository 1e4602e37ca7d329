// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the enriched logger.
// Used by HTTP middleware to store and retrieve the logger with the request_id field.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request ID.
type RequestIDKey struct{}

// ClientIPKey is the context key type for the attributed client IP.
// Set once by the transport from the connection's remote address; handlers
// must not derive the client IP from forwarded headers.
type ClientIPKey struct{}

// SubjectKey is the context key type for the authenticated subject name.
type SubjectKey struct{}

// AuditStatusKey is the context key type for a *int audit-status override.
// The recorder installs the pointer; a handler that knows the wire status
// does not tell the whole story (e.g. the client vanished mid-stream)
// writes the status the audit trail should carry instead.
type AuditStatusKey struct{}
