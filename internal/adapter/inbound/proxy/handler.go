package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaygate/relaygate/internal/clock"
	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/audit"
	"github.com/relaygate/relaygate/internal/domain/ratelimit"
	"github.com/relaygate/relaygate/internal/domain/route"
)

// Snapshots hands out the live configuration snapshot. Implemented by the
// reload service.
type Snapshots interface {
	Snapshot() *route.Snapshot
}

// Handler is the data-plane pipeline: admission rate limit, body-size
// guard, route match, forward. The audit recorder wraps it at the
// transport layer.
type Handler struct {
	snapshots   Snapshots
	limiter     *ratelimit.Limiter
	forwarder   *Forwarder
	clock       clock.Clock
	rateLimited prometheus.Counter
}

// NewHandler wires the data plane.
func NewHandler(snapshots Snapshots, limiter *ratelimit.Limiter, forwarder *Forwarder, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.System{}
	}
	return &Handler{
		snapshots: snapshots,
		limiter:   limiter,
		forwarder: forwarder,
		clock:     clk,
	}
}

// SetRateLimitedCounter attaches the metric incremented on every 429
// admission rejection.
func (h *Handler) SetRateLimitedCounter(c prometheus.Counter) {
	h.rateLimited = c
}

// ServeHTTP runs one data-plane request through the pipeline. The snapshot
// is captured exactly once here; a reload mid-request does not affect it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.snapshots.Snapshot()
	clientIP := clientIPFrom(r)

	if !h.limiter.Admit(clientIP, h.clock.Now(), snap.Policy.RequestsPerMinute) {
		if h.rateLimited != nil {
			h.rateLimited.Inc()
		}
		w.Header().Set("Retry-After", RetryAfterHeader(time.Minute))
		writeStatusError(w, http.StatusTooManyRequests)
		return
	}

	// Declared oversize is rejected before any upstream work.
	if r.ContentLength > snap.Policy.MaxBodyBytes {
		writeStatusError(w, http.StatusRequestEntityTooLarge)
		return
	}
	// Length-unknown bodies stream through the guard and fail mid-flight
	// when they cross the cap.
	if r.Body != nil && r.ContentLength < 0 {
		r.Body = newGuardedBody(r.Body, snap.Policy.MaxBodyBytes)
	}

	rt := snap.Match(r.URL.Path)
	if rt == nil {
		writeStatusError(w, http.StatusNotFound)
		return
	}

	result := h.forwarder.Forward(w, r, rt, snap.Policy, clientIP)
	if result.Outcome == OutcomeClientCancelled {
		if override, ok := r.Context().Value(ctxkey.AuditStatusKey{}).(*int); ok {
			*override = audit.StatusClientCancelled
		}
	}
}

// clientIPFrom reads the attributed client IP set by the transport
// middleware. Forwarded headers are never consulted here.
func clientIPFrom(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxkey.ClientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// statusMessages are the generic client-visible reasons. Internal detail
// never leaves the process through these.
var statusMessages = map[int]string{
	http.StatusBadRequest:            "invalid request",
	http.StatusUnauthorized:          "authentication required",
	http.StatusNotFound:              "no route for path",
	http.StatusRequestEntityTooLarge: "request body too large",
	http.StatusTooManyRequests:       "rate limit exceeded",
	http.StatusBadGateway:            "upstream unreachable",
	http.StatusGatewayTimeout:        "upstream timeout",
	http.StatusInternalServerError:   "internal error",
}

// writeStatusError writes the generic JSON error body for a status code.
func writeStatusError(w http.ResponseWriter, status int) {
	msg, ok := statusMessages[status]
	if !ok {
		msg = http.StatusText(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RetryAfterHeader formats a retry hint for 429 responses in whole
// seconds (fractions truncated), with a minimum of one second.
func RetryAfterHeader(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
