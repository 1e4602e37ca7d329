package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/audit"
)

// statusRecorder wraps http.ResponseWriter to capture the status code and
// inject the processing-time header just before headers go out.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	start       time.Time
	stampTiming bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	if r.stampTiming {
		elapsed := float64(time.Since(r.start).Microseconds()) / 1000.0
		r.Header().Set("X-Process-Time-Ms", strconv.FormatFloat(elapsed, 'f', 3, 64))
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

// Flush delegates to the underlying ResponseWriter so streamed upstream
// responses pass through unbuffered.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusToLabel buckets status codes for metric labels.
func statusToLabel(code int) string {
	switch {
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// prometheusTimer returns a completion callback recording duration and
// total for one request.
func prometheusTimer(metrics *Metrics, plane string) func(status int) {
	start := time.Now()
	return func(status int) {
		metrics.RequestDuration.WithLabelValues(plane).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(plane, statusToLabel(status)).Inc()
	}
}

// RecorderMiddleware is the audit recorder: it measures per-request timing
// from a monotonic start, stamps X-Process-Time-Ms on the response, and
// submits one request event on completion. Submission is non-blocking;
// overflow drops are counted by the store.
func RecorderMiddleware(store audit.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Probes would flood the trail with no audit value.
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := &statusRecorder{
				ResponseWriter: w,
				status:         http.StatusOK,
				start:          start,
				stampTiming:    true,
			}

			override := new(int)
			ctx := context.WithValue(r.Context(), ctxkey.AuditStatusKey{}, override)

			next.ServeHTTP(wrapped, r.WithContext(ctx))

			status := wrapped.status
			if *override != 0 {
				status = *override
			} else if r.Context().Err() != nil && !wrapped.wroteHeader {
				status = audit.StatusClientCancelled
			}
			store.Append(audit.RequestEvent(
				start,
				ClientIP(r.Context()),
				r.Method,
				r.URL.Path,
				status,
				time.Since(start),
				r.UserAgent(),
			))
		})
	}
}

// AdminRecorder is the admin handlers' entry point for admin-action
// events. It wraps the store so handlers do not build events by hand.
type AdminRecorder struct {
	store audit.Store
}

// NewAdminRecorder wraps an audit store.
func NewAdminRecorder(store audit.Store) *AdminRecorder {
	return &AdminRecorder{store: store}
}

// Record submits an admin-action event. details is a small JSON blob
// describing the outcome.
func (a *AdminRecorder) Record(r *http.Request, action, details string) {
	a.store.Append(audit.AdminEvent(
		time.Now(),
		ClientIP(r.Context()),
		action,
		details,
		r.UserAgent(),
	))
}
