package http

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func planeHandler(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, name)
	})
}

func TestTransportPlaneRouting(t *testing.T) {
	tr := NewTransport(planeHandler("data"), planeHandler("control"),
		WithLogger(testLogger()),
		WithHealthHandler(NewHealthChecker(nil, nil, "test").Handler()),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	h := tr.Handler()

	tests := []struct {
		path string
		want string
	}{
		{"/admin/status", "control"},
		{"/auth/login", "control"},
		{"/audit/logs", "control"},
		{"/api/v1/x", "data"},
		{"/", "data"},
		{"/healthz", "data"},     // only the exact /health path is control
		{"/authx", "data"},       // prefix boundaries are respected
		{"/adminpanel", "data"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", tt.path, nil))
		if got := w.Body.String(); got != tt.want {
			t.Errorf("%s routed to %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestTransportHealthAndMetrics(t *testing.T) {
	tr := NewTransport(planeHandler("data"), planeHandler("control"),
		WithLogger(testLogger()),
		WithHealthHandler(NewHealthChecker(func() int64 { return 0 }, func() int { return 0 }, "v1").Handler()),
		WithMetricsRegistry(prometheus.NewRegistry()),
	)
	h := tr.Handler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
	if body := w.Body.String(); !strings.Contains(body, `"status":"healthy"`) {
		t.Errorf("/health body = %s", body)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", w.Code)
	}
}

func TestTransportMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	tr := NewTransport(planeHandler("data"), planeHandler("control"),
		WithLogger(testLogger()),
		WithMiddleware(mw("outer"), mw("inner")),
	)
	h := tr.Handler()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))
	if len(order) != 2 || order[0] != "outer" || order[1] != "inner" {
		t.Errorf("middleware order = %v", order)
	}
}

