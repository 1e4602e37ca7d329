package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/relaygate/relaygate/internal/ctxkey"
	"github.com/relaygate/relaygate/internal/domain/audit"
)

// memStore collects appended events for assertions.
type memStore struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memStore) Append(event audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *memStore) Dropped() int64              { return 0 }
func (m *memStore) Flush(context.Context) error { return nil }
func (m *memStore) Close() error                { return nil }

func (m *memStore) all() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]audit.Event, len(m.events))
	copy(out, m.events)
	return out
}

func TestRecorderMiddleware(t *testing.T) {
	store := &memStore{}
	h := RecorderMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest("GET", "/api/thing?x=1", nil)
	r.Header.Set("User-Agent", "curl/8")
	ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, "1.2.3.4")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r.WithContext(ctx))

	// Timing header stamped before headers went out.
	raw := w.Header().Get("X-Process-Time-Ms")
	if raw == "" {
		t.Fatal("X-Process-Time-Ms missing")
	}
	if ms, err := strconv.ParseFloat(raw, 64); err != nil || ms < 5 {
		t.Errorf("X-Process-Time-Ms = %q, want >= 5ms", raw)
	}

	events := store.all()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != audit.KindRequest || ev.Method != "GET" || ev.Path != "/api/thing" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Status != http.StatusTeapot || ev.ClientIP != "1.2.3.4" || ev.UserAgent != "curl/8" {
		t.Errorf("event = %+v", ev)
	}
	if ev.DurationMs < 5 {
		t.Errorf("DurationMs = %v, want >= 5", ev.DurationMs)
	}
}

func TestRecorderOrdering(t *testing.T) {
	store := &memStore{}
	recorder := NewAdminRecorder(store)
	h := RecorderMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The handler submits an admin event before the request event.
		recorder.Record(r, "reload", `{"outcome":"ok"}`)
	}))

	r := httptest.NewRequest("POST", "/admin/reload", nil)
	h.ServeHTTP(httptest.NewRecorder(), r)

	events := store.all()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	// Program order is preserved in submission order.
	if events[0].Kind != audit.KindAdmin || events[1].Kind != audit.KindRequest {
		t.Errorf("order = %s, %s", events[0].Kind, events[1].Kind)
	}
}

func TestRecorderImplicitOK(t *testing.T) {
	store := &memStore{}
	h := RecorderMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body without explicit WriteHeader"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	events := store.all()
	if len(events) != 1 || events[0].Status != http.StatusOK {
		t.Errorf("events = %+v, want one 200", events)
	}
}
