package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/auth"
)

// apiKeyHeader carries long-lived opaque keys.
const apiKeyHeader = "X-API-Key"

// requireAuth is the auth gate. Three credential kinds are each
// independently sufficient: the shared-secret basic credential, a bearer
// access token, or an active API key. Any failure yields a generic 401;
// the attempt was already counted by the admin rate limiter.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := h.authenticate(r)
		if !ok {
			h.respondError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), ctxkey.SubjectKey{}, subject)
		next(w, r.WithContext(ctx))
	}
}

// authenticate tries each credential kind in turn and returns the
// authenticated subject name.
func (h *Handler) authenticate(r *http.Request) (string, bool) {
	if key := r.Header.Get(apiKeyHeader); key != "" {
		apiKey, err := h.keyValidator.Validate(r.Context(), key)
		if err != nil {
			return "", false
		}
		return "key:" + apiKey.Name, true
	}

	header := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(header, "Basic "):
		username, password, ok := r.BasicAuth()
		if !ok || h.secret.Verify(username, password) != nil {
			return "", false
		}
		return username, true

	case strings.HasPrefix(header, "Bearer "):
		token := strings.TrimPrefix(header, "Bearer ")
		claims, err := h.tokens.Verify(token, auth.TokenKindAccess, h.clock.Now())
		if err != nil {
			return "", false
		}
		return claims.Subject, true
	}

	return "", false
}
