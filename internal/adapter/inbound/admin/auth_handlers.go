package admin

import (
	"net/http"
	"strings"

	"github.com/relaygate/relaygate/internal/domain/auth"
)

// handleLogin exchanges the basic credential for a token pair.
// POST /auth/login
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok || h.secret.Verify(username, password) != nil {
		h.recorder.Record(r, "login", `{"outcome":"denied"}`)
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	pair, err := h.tokens.IssuePair(username, h.clock.Now())
	if err != nil {
		h.logger.Error("failed to issue token pair", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.recorder.Record(r, "login", `{"outcome":"ok"}`)
	h.respondJSON(w, http.StatusOK, pair)
}

// handleRefresh exchanges a refresh token for a new token pair. Refresh
// tokens are accepted only here; they never authenticate other requests.
// POST /auth/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	token := strings.TrimPrefix(header, "Bearer ")

	claims, err := h.tokens.Verify(token, auth.TokenKindRefresh, h.clock.Now())
	if err != nil {
		h.recorder.Record(r, "refresh", `{"outcome":"denied"}`)
		h.respondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	pair, err := h.tokens.IssuePair(claims.Subject, h.clock.Now())
	if err != nil {
		h.logger.Error("failed to issue token pair", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.recorder.Record(r, "refresh", `{"outcome":"ok"}`)
	h.respondJSON(w, http.StatusOK, pair)
}
