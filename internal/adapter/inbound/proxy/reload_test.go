package proxy

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/relaygate/relaygate/internal/clock"
	"github.com/relaygate/relaygate/internal/domain/ratelimit"
	"github.com/relaygate/relaygate/internal/domain/route"
)

// swappableSnapshots mimics the reload service: an atomic pointer swap
// that never touches snapshots already handed out.
type swappableSnapshots struct {
	snap atomic.Pointer[route.Snapshot]
}

func (s *swappableSnapshots) Snapshot() *route.Snapshot { return s.snap.Load() }

// TestHotReloadMidRequest verifies snapshot isolation end to end: a
// request in flight when the swap happens completes against the snapshot
// it captured, while later requests are routed by the new one.
func TestHotReloadMidRequest(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))

	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		fmt.Fprint(w, "old-upstream")
	}))
	defer slow.Close()
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "new-upstream")
	}))
	defer fast.Close()

	s1 := newSnapshot(t, testPolicy(), mustRoute(t, "/api", slow.URL, false))
	s2 := newSnapshot(t, testPolicy(), mustRoute(t, "/api", fast.URL, false))

	holder := &swappableSnapshots{}
	holder.snap.Store(s1)

	fwd := NewForwarder(ForwarderConfig{ConnectTimeout: time.Second}, testLogger())
	defer fwd.CloseIdleConnections()
	h := NewHandler(holder, ratelimit.NewLimiter(time.Minute), fwd, clock.System{})

	var wg sync.WaitGroup
	var firstBody string
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := send(h, httptest.NewRequest("GET", "/api/x", nil), "1.2.3.4")
		firstBody = w.Body.String()
	}()

	// Let the first request reach the slow upstream, then swap.
	time.Sleep(100 * time.Millisecond)
	holder.snap.Store(s2)

	// A request after the swap sees the new snapshot immediately.
	w := send(h, httptest.NewRequest("GET", "/api/y", nil), "1.2.3.4")
	if w.Body.String() != "new-upstream" {
		t.Errorf("post-swap request body = %q, want new-upstream", w.Body.String())
	}

	close(release)
	wg.Wait()
	if firstBody != "old-upstream" {
		t.Errorf("in-flight request body = %q, want old-upstream", firstBody)
	}
}
