package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaygate/relaygate/internal/clock"
	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/ratelimit"
	"github.com/relaygate/relaygate/internal/domain/route"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// staticSnapshots serves a fixed snapshot.
type staticSnapshots struct {
	snap *route.Snapshot
}

func (s *staticSnapshots) Snapshot() *route.Snapshot { return s.snap }

func testPolicy() route.Policy {
	return route.Policy{
		RequestsPerMinute: 1000,
		MaxBodyBytes:      10 * 1024 * 1024,
		Forwarder: route.ForwarderPolicy{
			Timeout:        5 * time.Second,
			ConnectTimeout: time.Second,
			MaxRedirects:   5,
		},
	}
}

func newSnapshot(t *testing.T, policy route.Policy, routes ...route.Route) *route.Snapshot {
	t.Helper()
	snap, err := route.NewSnapshot(routes, policy, time.Now())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return snap
}

func mustRoute(t *testing.T, prefix, target string, strip bool) route.Route {
	t.Helper()
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse %q: %v", target, err)
	}
	return route.Route{PathPrefix: prefix, Upstream: u, StripPrefix: strip}
}

func newTestHandler(t *testing.T, snap *route.Snapshot) *Handler {
	t.Helper()
	fwd := NewForwarder(ForwarderConfig{ConnectTimeout: time.Second}, testLogger())
	t.Cleanup(fwd.CloseIdleConnections)
	return NewHandler(&staticSnapshots{snap: snap}, ratelimit.NewLimiter(time.Minute), fwd, clock.System{})
}

// send runs a request through the handler with the client IP attributed
// the way the transport middleware does it.
func send(h *Handler, r *http.Request, clientIP string) *httptest.ResponseRecorder {
	ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, clientIP)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r.WithContext(ctx))
	return w
}

func TestForwardPrefixWithCatchAll(t *testing.T) {
	var gotPath string
	u1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprint(w, "from-u1")
	}))
	defer u1.Close()
	u2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "from-u2")
	}))
	defer u2.Close()

	snap := newSnapshot(t, testPolicy(),
		mustRoute(t, "/api", u1.URL, false),
		mustRoute(t, "/", u2.URL, false),
	)
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/api/v1/x", nil), "1.2.3.4")
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if body := w.Body.String(); body != "from-u1" {
		t.Errorf("body = %q", body)
	}
	// Path is not stripped by default.
	if gotPath != "/api/v1/x" {
		t.Errorf("upstream saw path %q, want /api/v1/x", gotPath)
	}

	w = send(h, httptest.NewRequest("GET", "/anything", nil), "1.2.3.4")
	if body := w.Body.String(); body != "from-u2" {
		t.Errorf("catch-all body = %q", body)
	}
}

func TestForwardStripPath(t *testing.T) {
	var gotPath string
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer up.Close()

	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/api", up.URL, true))
	h := newTestHandler(t, snap)

	send(h, httptest.NewRequest("GET", "/api/v1/x?q=1", nil), "1.2.3.4")
	if gotPath != "/v1/x" {
		t.Errorf("upstream saw path %q, want /v1/x", gotPath)
	}
}

func TestNoRouteReturns404(t *testing.T) {
	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/api", "http://u.invalid", false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/other", nil), "1.2.3.4")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRateLimitTrip(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer up.Close()

	policy := testPolicy()
	policy.RequestsPerMinute = 5
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)
	rejected := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rate_limited_total"})
	h.SetRateLimitedCounter(rejected)

	for i := 0; i < 5; i++ {
		w := send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, w.Code)
		}
	}
	w := send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("sixth request status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After")
	}
	if got := testutil.ToFloat64(rejected); got != 1 {
		t.Errorf("rate-limited counter = %v, want 1", got)
	}

	// A different client is unaffected.
	w = send(h, httptest.NewRequest("GET", "/x", nil), "5.6.7.8")
	if w.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", w.Code)
	}
}

func TestBodyTooLargeDeclared(t *testing.T) {
	dialled := false
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialled = true
	}))
	defer up.Close()

	policy := testPolicy()
	policy.MaxBodyBytes = 1024
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	r := httptest.NewRequest("POST", "/upload", strings.NewReader(strings.Repeat("a", 2048)))
	r.ContentLength = 2048
	w := send(h, r, "1.2.3.4")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
	if dialled {
		t.Error("upstream contacted despite declared oversize")
	}
}

func TestBodyTooLargeStreaming(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
	}))
	defer up.Close()

	policy := testPolicy()
	policy.MaxBodyBytes = 1024
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	// Unknown length: ContentLength -1 streams through the guard.
	r := httptest.NewRequest("POST", "/upload", strings.NewReader(strings.Repeat("a", 4096)))
	r.ContentLength = -1
	w := send(h, r, "1.2.3.4")
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestUpstream5xxRelayedVerbatim(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream-Detail", "kept")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream says no")
	}))
	defer up.Close()

	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want upstream's 502", w.Code)
	}
	if w.Body.String() != "upstream says no" {
		t.Errorf("body = %q, want relayed verbatim", w.Body.String())
	}
	if w.Header().Get("X-Upstream-Detail") != "kept" {
		t.Error("upstream header not preserved")
	}
}

func TestUpstreamConnectFailure502(t *testing.T) {
	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/", "http://127.0.0.1:1", false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if strings.Contains(w.Body.String(), "127.0.0.1") {
		t.Error("error body leaks upstream address")
	}
}

func TestUpstreamTimeout504(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer up.Close()

	policy := testPolicy()
	policy.Forwarder.Timeout = 100 * time.Millisecond
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/slow", nil), "1.2.3.4")
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, want 504", w.Code)
	}
}

func TestHeaderSanitising(t *testing.T) {
	var got http.Header
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer up.Close()

	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	r := httptest.NewRequest("GET", "/x", nil)
	r.Host = "proxy.example.com"
	r.Header.Set("X-Forwarded-For", "6.6.6.6") // spoof attempt
	r.Header.Set("X-Real-IP", "6.6.6.6")
	r.Header.Set("Proxy-Authorization", "Basic xxx")
	r.Header.Set("Keep-Alive", "timeout=5")
	r.Header.Set("X-Custom", "preserved")
	send(h, r, "1.2.3.4")

	if xff := got.Get("X-Forwarded-For"); xff != "1.2.3.4" {
		t.Errorf("X-Forwarded-For = %q, want attributed client IP", xff)
	}
	if rip := got.Get("X-Real-IP"); rip != "1.2.3.4" {
		t.Errorf("X-Real-IP = %q", rip)
	}
	if got.Get("X-Forwarded-Host") != "proxy.example.com" {
		t.Errorf("X-Forwarded-Host = %q", got.Get("X-Forwarded-Host"))
	}
	if got.Get("X-Forwarded-Proto") != "http" {
		t.Errorf("X-Forwarded-Proto = %q", got.Get("X-Forwarded-Proto"))
	}
	for _, name := range hopByHopHeaders {
		if got.Get(name) != "" {
			t.Errorf("hop-by-hop header %s forwarded", name)
		}
	}
	if got.Get("X-Custom") != "preserved" {
		t.Error("unrelated header not preserved")
	}
}

func TestAppendForwardedFor(t *testing.T) {
	var got http.Header
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer up.Close()

	policy := testPolicy()
	policy.AppendForwardedFor = true
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	r := httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	send(h, r, "1.2.3.4")

	if xff := got.Get("X-Forwarded-For"); xff != "203.0.113.9, 1.2.3.4" {
		t.Errorf("X-Forwarded-For = %q, want appended chain", xff)
	}
}

func TestRouteHeaderInjection(t *testing.T) {
	var got http.Header
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer up.Close()

	u, _ := url.Parse(up.URL)
	snap := newSnapshot(t, testPolicy(), route.Route{
		PathPrefix: "/",
		Upstream:   u,
		Headers:    map[string]string{"X-Service-Token": "abc123"},
	})
	h := newTestHandler(t, snap)

	send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
	if got.Get("X-Service-Token") != "abc123" {
		t.Error("route header not injected")
	}
}

func TestRedirectsRelayedWhenDisabled(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer up.Close()

	policy := testPolicy()
	policy.Forwarder.MaxRedirects = 0
	snap := newSnapshot(t, policy, mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/x", nil), "1.2.3.4")
	if w.Code != http.StatusFound {
		t.Errorf("status = %d, want relayed 302", w.Code)
	}
}

func TestRedirectsFollowedWhenEnabled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "landed")
	})
	up := httptest.NewServer(mux)
	defer up.Close()

	snap := newSnapshot(t, testPolicy(), mustRoute(t, "/", up.URL, false))
	h := newTestHandler(t, snap)

	w := send(h, httptest.NewRequest("GET", "/start", nil), "1.2.3.4")
	if w.Code != http.StatusOK || w.Body.String() != "landed" {
		t.Errorf("status = %d body = %q, want followed redirect", w.Code, w.Body.String())
	}
}
