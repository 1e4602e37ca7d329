package admin

import (
	"net/http"
	"strconv"

	httpadapter "github.com/relaygate/relaygate/internal/adapter/inbound/http"
)

// limited wraps a handler with the admin rate limiter for one operation
// name. The check runs pre-auth, so brute force against credentialed
// endpoints is throttled whether or not credentials are valid: every
// attempt counts, and saturation blocks the (IP, operation) key.
func (h *Handler) limited(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := httpadapter.ClientIP(r.Context())

		d := h.adminLimiter.Check(ip, op, h.clock.Now())
		if !d.OK {
			secs := int(d.RetryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			h.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
