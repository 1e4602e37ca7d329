package admin

import (
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ipLiteral gates path parameters before net.ParseIP sees them.
var ipLiteral = regexp.MustCompile(`^[0-9a-fA-F:.]{2,45}$`)

// parseIPParam validates the {ip} path parameter.
func parseIPParam(raw string) (string, bool) {
	if !ipLiteral.MatchString(raw) {
		return "", false
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", false
	}
	return ip.String(), true
}

// handleReload re-reads the config document and swaps the snapshot
// atomically. On failure the old snapshot is retained and the rejection
// recorded.
// POST /admin/reload
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reload.Reload(r.Context())
	if err != nil {
		h.recorder.Record(r, "reload", `{"outcome":"rejected"}`)
		h.respondError(w, http.StatusInternalServerError, "config reload rejected")
		return
	}
	if h.reloadCounter != nil {
		h.reloadCounter.Inc()
	}
	h.recorder.Record(r, "reload", fmt.Sprintf(`{"outcome":"ok","routes":%d}`, snap.Len()))
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"routes": snap.Len(),
	})
}

// routeResponse is one route table entry for display.
type routeResponse struct {
	Path      string `json:"path"`
	Target    string `json:"target"`
	StripPath bool   `json:"strip_path"`
}

// handleListRoutes returns the live snapshot's routes.
// GET /admin/routes
func (h *Handler) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	snap := h.reload.Snapshot()
	routes := snap.Routes()
	out := make([]routeResponse, 0, len(routes))
	for _, rt := range routes {
		out = append(out, routeResponse{
			Path:      rt.PathPrefix,
			Target:    rt.Upstream.String(),
			StripPath: rt.StripPrefix,
		})
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"routes":    out,
		"loaded_at": snap.LoadedAt,
	})
}

// handleGetConfig dumps the live policy. The document's yaml tags carry
// the external field names, so the config is round-tripped through yaml
// into a map before the JSON encode.
// GET /admin/config
func (h *Handler) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	data, err := yaml.Marshal(h.reload.Config())
	if err != nil {
		h.logger.Error("failed to marshal config", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		h.logger.Error("failed to decode config dump", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respondJSON(w, http.StatusOK, doc)
}

// handleStatus returns uptime and counters.
// GET /admin/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.reload.Snapshot()
	h.respondJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":      int64(h.reload.Uptime() / time.Second),
		"routes":              snap.Len(),
		"reloads":             h.reload.Reloads(),
		"rate_limit_keys":     h.dataLimiter.Size(),
		"admin_limit_keys":    h.adminLimiter.Size(),
		"audit_dropped_total": h.auditDropped(),
	})
}

// handleClearRateLimit removes one IP's window from the data-plane
// limiter.
// POST /admin/ratelimit/clear/{ip}
func (h *Handler) handleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	ip, ok := parseIPParam(r.PathValue("ip"))
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid ip")
		return
	}
	h.dataLimiter.Clear(ip)
	h.recorder.Record(r, "ratelimit_clear", fmt.Sprintf(`{"ip":%q}`, ip))
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared", "ip": ip})
}

// handleRateLimitStats returns one IP's current window.
// GET /admin/ratelimit/stats/{ip}
func (h *Handler) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	ip, ok := parseIPParam(r.PathValue("ip"))
	if !ok {
		h.respondError(w, http.StatusBadRequest, "invalid ip")
		return
	}
	stats := h.dataLimiter.Stats(ip, h.clock.Now())
	resp := map[string]any{
		"ip":    ip,
		"count": stats.Count,
	}
	if !stats.Oldest.IsZero() {
		resp["oldest"] = stats.Oldest
	}
	h.respondJSON(w, http.StatusOK, resp)
}
