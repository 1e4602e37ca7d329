package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/route"
)

// RequestIDMiddleware extracts or generates a request ID and enriches the
// logger. The ID is echoed back in the X-Request-ID response header for
// correlation.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ClientIPMiddleware attributes the client IP from the connection's remote
// address and stores it in context. Forwarded headers set by the client
// are deliberately ignored: the attributed IP drives rate limiting and
// audit, and must not be spoofable.
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, host)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP reads the attributed client IP from context.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ctxkey.ClientIPKey{}).(string)
	return ip
}

// RecoverMiddleware converts handler panics into 500s. No error condition
// in the request path may terminate the process.
func RecoverMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("handler panic", "panic", rec, "path", r.URL.Path)
					http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware applies the snapshot's CORS policy to the proxy's own
// surface. The policy is read per request from the live snapshot so a
// reload takes effect immediately.
func CORSMiddleware(snapshots interface{ Snapshot() *route.Snapshot }) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy := snapshots.Snapshot().Policy.CORS
			origin := r.Header.Get("Origin")

			if origin != "" && originAllowed(policy, origin) {
				if policy.Credentials {
					// Credentials require echoing the literal
					// origin; the loader rejects wildcard+credentials.
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				} else if contains(policy.AllowedOrigins, "*") {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Add("Vary", "Origin")

				if r.Method == http.MethodOptions {
					if len(policy.Methods) > 0 {
						w.Header().Set("Access-Control-Allow-Methods", strings.Join(policy.Methods, ", "))
					}
					if len(policy.Headers) > 0 {
						w.Header().Set("Access-Control-Allow-Headers", strings.Join(policy.Headers, ", "))
					}
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(policy route.CORSPolicy, origin string) bool {
	for _, allowed := range policy.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// MetricsMiddleware records request totals and durations, labelled by
// plane ("data" or "control"). Skips the metrics and health endpoints.
func MetricsMiddleware(metrics *Metrics, plane string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			timer := prometheusTimer(metrics, plane)
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			timer(wrapped.status)
		})
	}
}
