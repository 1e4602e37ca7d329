package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/relaygate/relaygate/internal/domain/audit"
)

// Query plane limits.
const (
	maxLogLimit     = 1000
	defaultLogLimit = 100
)

// handleAuditLogs returns paginated events, newest first.
// GET /audit/logs?limit=&offset=&kind=&client_ip=&since=&until=
func (h *Handler) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.Filter{Limit: defaultLogLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		// Clamp rather than reject: limit is a hint, not an invariant.
		if n < 1 {
			n = 1
		}
		if n > maxLogLimit {
			n = maxLogLimit
		}
		filter.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	if kind := q.Get("kind"); kind != "" {
		if kind != audit.KindRequest && kind != audit.KindAdmin {
			h.respondError(w, http.StatusBadRequest, "invalid kind")
			return
		}
		filter.Kind = kind
	}
	if raw := q.Get("client_ip"); raw != "" {
		ip, ok := parseIPParam(raw)
		if !ok {
			h.respondError(w, http.StatusBadRequest, "invalid client_ip")
			return
		}
		filter.ClientIP = ip
	}
	var ok bool
	if filter.Since, ok = parseTimeParam(q.Get("since")); !ok {
		h.respondError(w, http.StatusBadRequest, "invalid since")
		return
	}
	if filter.Until, ok = parseTimeParam(q.Get("until")); !ok {
		h.respondError(w, http.StatusBadRequest, "invalid until")
		return
	}

	events, err := h.auditQuery.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// handleAuditStats returns aggregates over a window (default last 24h).
// GET /audit/stats?since=&until=
func (h *Handler) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter audit.Filter
	var ok bool
	if filter.Since, ok = parseTimeParam(q.Get("since")); !ok {
		h.respondError(w, http.StatusBadRequest, "invalid since")
		return
	}
	if filter.Until, ok = parseTimeParam(q.Get("until")); !ok {
		h.respondError(w, http.StatusBadRequest, "invalid until")
		return
	}

	stats, err := h.auditQuery.QueryStats(r.Context(), filter)
	if err != nil {
		h.logger.Error("audit stats failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// parseTimeParam parses an optional RFC 3339 timestamp.
func parseTimeParam(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
