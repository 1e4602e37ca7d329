// Package admin implements the control plane: the auth endpoints, the key
// management surface, the admin operations, and the audit query plane.
// Every operation is gated by the admin rate limiter (pre-auth) and the
// auth gate.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaygate/relaygate/internal/clock"
	"github.com/relaygate/relaygate/internal/domain/audit"
	"github.com/relaygate/relaygate/internal/domain/auth"
	"github.com/relaygate/relaygate/internal/domain/ratelimit"
	"github.com/relaygate/relaygate/internal/service"

	httpadapter "github.com/relaygate/relaygate/internal/adapter/inbound/http"
)

// maxRequestBody caps control-plane request bodies.
const maxRequestBody = 64 * 1024

// Handler owns the control-plane routes and their dependencies.
type Handler struct {
	reload        *service.ReloadService
	dataLimiter   *ratelimit.Limiter
	adminLimiter  *ratelimit.AdminLimiter
	secret        *auth.SharedSecret
	tokens        *auth.TokenIssuer
	keys          auth.KeyStore
	keyValidator  *auth.KeyValidator
	auditQuery    audit.QueryStore
	auditDropped  func() int64
	recorder      *httpadapter.AdminRecorder
	reloadCounter prometheus.Counter
	clock         clock.Clock
	logger        *slog.Logger
}

// Config wires the handler's collaborators.
type Config struct {
	Reload       *service.ReloadService
	DataLimiter  *ratelimit.Limiter
	AdminLimiter *ratelimit.AdminLimiter
	Secret       *auth.SharedSecret
	Tokens       *auth.TokenIssuer
	Keys         auth.KeyStore
	AuditQuery   audit.QueryStore
	AuditDropped func() int64
	Recorder     *httpadapter.AdminRecorder
	// ReloadCounter is incremented on every successful reload.
	// Optional: nil disables the metric.
	ReloadCounter prometheus.Counter
	Clock         clock.Clock
	Logger        *slog.Logger
}

// NewHandler creates the control-plane handler.
func NewHandler(cfg Config) *Handler {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}
	return &Handler{
		reload:        cfg.Reload,
		dataLimiter:   cfg.DataLimiter,
		adminLimiter:  cfg.AdminLimiter,
		secret:        cfg.Secret,
		tokens:        cfg.Tokens,
		keys:          cfg.Keys,
		keyValidator:  auth.NewKeyValidator(cfg.Keys),
		auditQuery:    cfg.AuditQuery,
		auditDropped:  cfg.AuditDropped,
		recorder:      cfg.Recorder,
		reloadCounter: cfg.ReloadCounter,
		clock:         clk,
		logger:        cfg.Logger,
	}
}

// Routes returns the control-plane mux. Each route is wrapped by the admin
// rate limiter for its operation name, then (except login/refresh, which
// carry their own credential handling) the auth gate.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", h.limited("login", h.handleLogin))
	mux.HandleFunc("POST /auth/refresh", h.limited("refresh", h.handleRefresh))

	mux.HandleFunc("GET /auth/keys", h.guarded("keys", h.handleListKeys))
	mux.HandleFunc("POST /auth/keys", h.guarded("keys", h.handleCreateKey))
	mux.HandleFunc("POST /auth/keys/{id}/revoke", h.guarded("keys", h.handleRevokeKey))
	mux.HandleFunc("DELETE /auth/keys/{id}", h.guarded("keys", h.handleDeleteKey))

	mux.HandleFunc("POST /admin/reload", h.guarded("reload", h.handleReload))
	mux.HandleFunc("GET /admin/routes", h.guarded("inspect", h.handleListRoutes))
	mux.HandleFunc("GET /admin/config", h.guarded("inspect", h.handleGetConfig))
	mux.HandleFunc("GET /admin/status", h.guarded("inspect", h.handleStatus))
	mux.HandleFunc("POST /admin/ratelimit/clear/{ip}", h.guarded("ratelimit", h.handleClearRateLimit))
	mux.HandleFunc("GET /admin/ratelimit/stats/{ip}", h.guarded("ratelimit", h.handleRateLimitStats))

	mux.HandleFunc("GET /audit/logs", h.guarded("audit", h.handleAuditLogs))
	mux.HandleFunc("GET /audit/stats", h.guarded("audit", h.handleAuditStats))

	return mux
}

// guarded composes the rate limiter and the auth gate.
func (h *Handler) guarded(op string, next http.HandlerFunc) http.HandlerFunc {
	return h.limited(op, h.requireAuth(next))
}

// respondJSON writes v as the JSON response body.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("failed to encode response", "error", err)
	}
}

// respondError writes a minimal JSON error. Internal detail never reaches
// the client; it goes to logs and the audit trail instead.
func (h *Handler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}

// readJSON decodes the request body into v with a size cap.
func (h *Handler) readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}
