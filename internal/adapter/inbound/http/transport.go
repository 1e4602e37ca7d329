package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// controlPrefixes are the paths owned by the proxy itself. Everything else
// belongs to the data plane and is routed to a matched upstream.
var controlPrefixes = []string{
	"/health",
	"/metrics",
	"/auth/",
	"/admin/",
	"/audit/",
}

// Transport binds the listening sockets and wires the request pipeline:
// attribution and request-ID middleware, the audit recorder, then either
// the control-plane mux or the data-plane handler.
type Transport struct {
	httpServer  *http.Server
	httpsServer *http.Server

	addr      string
	httpPort  int
	httpsPort int
	certFile  string
	keyFile   string
	grace     time.Duration

	dataPlane    http.Handler
	controlPlane http.Handler
	health       http.Handler
	middleware   []func(http.Handler) http.Handler
	registry     *prometheus.Registry
	logger       *slog.Logger
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the bind address (default "0.0.0.0").
func WithAddr(addr string) Option {
	return func(t *Transport) { t.addr = addr }
}

// WithHTTPPort sets the plain HTTP port.
func WithHTTPPort(port int) Option {
	return func(t *Transport) { t.httpPort = port }
}

// WithTLS enables the TLS listener with a supplied certificate chain and
// key. There is no automatic certificate acquisition: asking for HTTPS
// without both files is a startup error.
func WithTLS(port int, certFile, keyFile string) Option {
	return func(t *Transport) {
		t.httpsPort = port
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithGracePeriod sets how long in-flight requests get on shutdown.
func WithGracePeriod(d time.Duration) Option {
	return func(t *Transport) { t.grace = d }
}

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithMiddleware appends pipeline middleware applied to both planes,
// outermost first.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(t *Transport) { t.middleware = append(t.middleware, mw...) }
}

// WithHealthHandler sets the /health handler.
func WithHealthHandler(h http.Handler) Option {
	return func(t *Transport) { t.health = h }
}

// WithMetricsRegistry sets the Prometheus registry served at /metrics.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(t *Transport) { t.registry = reg }
}

// NewTransport builds the transport around the two planes.
func NewTransport(dataPlane, controlPlane http.Handler, opts ...Option) *Transport {
	t := &Transport{
		addr:         "0.0.0.0",
		httpPort:     8080,
		grace:        30 * time.Second,
		dataPlane:    dataPlane,
		controlPlane: controlPlane,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler assembles the full pipeline. Exposed for tests.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	if t.health != nil {
		mux.Handle("GET /health", t.health)
	}
	if t.registry != nil {
		t.registry.MustRegister(collectors.NewGoCollector())
		mux.Handle("GET /metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{}))
	}

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isControlPath(r.URL.Path) {
			mux.ServeHTTP(w, r)
			return
		}
		t.dataPlane.ServeHTTP(w, r)
	})

	// The control mux falls through to the control plane for the
	// auth/admin/audit trees.
	mux.Handle("/", t.controlPlane)

	// Apply shared middleware outermost-first.
	var h http.Handler = root
	for i := len(t.middleware) - 1; i >= 0; i-- {
		h = t.middleware[i](h)
	}
	return h
}

func isControlPath(path string) bool {
	for _, prefix := range controlPrefixes {
		if strings.HasSuffix(prefix, "/") {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		} else if path == prefix {
			return true
		}
	}
	return false
}

// ListenAndServe starts the listeners and blocks until ctx is cancelled,
// then performs the graceful shutdown sequence.
func (t *Transport) ListenAndServe(ctx context.Context) error {
	handler := t.Handler()

	errCh := make(chan error, 2)

	t.httpServer = &http.Server{
		Addr:              net.JoinHostPort(t.addr, fmt.Sprintf("%d", t.httpPort)),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		t.logger.Info("http listener started", "addr", t.httpServer.Addr)
		if err := t.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listener: %w", err)
		}
	}()

	if t.httpsPort > 0 {
		if t.certFile == "" || t.keyFile == "" {
			return errors.New("https requested without certificate and key")
		}
		t.httpsServer = &http.Server{
			Addr:              net.JoinHostPort(t.addr, fmt.Sprintf("%d", t.httpsPort)),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			t.logger.Info("https listener started", "addr", t.httpsServer.Addr)
			if err := t.httpsServer.ListenAndServeTLS(t.certFile, t.keyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https listener: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		// Listener failures are fatal at startup.
		return err
	case <-ctx.Done():
	}

	return t.shutdown()
}

// shutdown stops accepting, gives in-flight requests the grace period,
// then forces the close.
func (t *Transport) shutdown() error {
	t.logger.Info("shutting down", "grace", t.grace)
	ctx, cancel := context.WithTimeout(context.Background(), t.grace)
	defer cancel()

	var firstErr error
	for _, srv := range []*http.Server{t.httpServer, t.httpsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
