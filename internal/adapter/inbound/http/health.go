package http

import (
	"encoding/json"
	"net/http"
)

// HealthResponse is the JSON response from the /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports liveness plus a few component checks.
type HealthChecker struct {
	auditDropped func() int64
	limiterSize  func() int
	version      string
}

// NewHealthChecker creates a HealthChecker. Pass nil samplers for
// components that aren't wired.
func NewHealthChecker(auditDropped func() int64, limiterSize func() int, version string) *HealthChecker {
	return &HealthChecker{
		auditDropped: auditDropped,
		limiterSize:  limiterSize,
		version:      version,
	}
}

// Handler returns an HTTP handler for the health endpoint.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string)
		if h.auditDropped != nil {
			if n := h.auditDropped(); n > 0 {
				checks["audit_drops"] = "nonzero"
			} else {
				checks["audit"] = "ok"
			}
		}
		if h.limiterSize != nil {
			_ = h.limiterSize() // lock-free counter read; a wired limiter reports ok
			checks["rate_limiter"] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(HealthResponse{
			Status:  "healthy",
			Checks:  checks,
			Version: h.version,
		})
	})
}
