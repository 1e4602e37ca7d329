package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/relaygate/relaygate/internal/domain/route"
)

// ForwardOutcome classifies how a forward ended, for the audit record.
type ForwardOutcome int

const (
	// OutcomeRelayed means the upstream response (any status, 5xx
	// included) was relayed verbatim.
	OutcomeRelayed ForwardOutcome = iota
	// OutcomeConnectError means DNS resolution or the connection to
	// the upstream failed (502).
	OutcomeConnectError
	// OutcomeTimeout means the per-request deadline was crossed (504).
	OutcomeTimeout
	// OutcomeClientCancelled means the client disconnected mid-stream;
	// the upstream request was aborted.
	OutcomeClientCancelled
	// OutcomeBodyTooLarge means the streamed body crossed the cap
	// mid-request.
	OutcomeBodyTooLarge
)

// ForwardResult is what the handler records about one forward.
type ForwardResult struct {
	Outcome ForwardOutcome
	// Status is the status written to the client. For a cancelled
	// forward it is the upstream status already relayed, or 0 when
	// nothing was written; the handler marks the audit record with the
	// client-cancelled sentinel.
	Status int
}

// ForwarderConfig holds the pool parameters fixed at construction.
// Per-request knobs (deadline, redirects) come from the captured snapshot.
type ForwarderConfig struct {
	ConnectTimeout       time.Duration
	MaxConcurrentPerHost int
	IdleConnTimeout      time.Duration
	// PinResolvedAddrs dials the addresses resolved at install time
	// instead of re-resolving, closing the DNS rebinding window.
	PinResolvedAddrs bool
}

// Forwarder streams matched requests to upstreams and their responses
// back. It owns the keep-alive connection pool, keyed by upstream
// host:port with a per-host concurrency cap. Event emission is the audit
// recorder's job, not the forwarder's.
type Forwarder struct {
	transport *http.Transport
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewForwarder builds the forwarder and its pooled transport.
func NewForwarder(cfg ForwarderConfig, logger *slog.Logger) *Forwarder {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrentPerHost <= 0 {
		cfg.MaxConcurrentPerHost = 200
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxConnsPerHost:     cfg.MaxConcurrentPerHost,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	if cfg.PinResolvedAddrs {
		transport.DialContext = pinnedDialContext(dialer)
	}

	return &Forwarder{
		transport: transport,
		logger:    logger,
		tracer:    otel.Tracer("relaygate/forwarder"),
	}
}

// pinnedAddrsKey carries the install-time resolved addresses through the
// request context to the dialer in hardened mode.
type pinnedAddrsKey struct{}

// pinnedDialContext returns a dialer that connects to the first
// install-time resolved address when the context carries one.
func pinnedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		addrs, _ := ctx.Value(pinnedAddrsKey{}).([]net.IP)
		if len(addrs) == 0 {
			return dialer.DialContext(ctx, network, addr)
		}
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("pinned dial: invalid address %q: %w", addr, err)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
	}
}

// CloseIdleConnections releases pooled connections. Called on shutdown;
// connections to hosts removed by a reload drain naturally.
func (f *Forwarder) CloseIdleConnections() {
	f.transport.CloseIdleConnections()
}

// Forward streams r to the route's upstream and the response back to w.
// The returned result tells the audit recorder what happened; the response
// to the client has already been written.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, rt *route.Route, policy route.Policy, clientIP string) ForwardResult {
	ctx := r.Context()
	if policy.Forwarder.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Forwarder.Timeout)
		defer cancel()
	}
	if len(rt.ResolvedAddrs) > 0 {
		ctx = context.WithValue(ctx, pinnedAddrsKey{}, rt.ResolvedAddrs)
	}

	upstreamURL := rt.UpstreamURL(r.URL.Path, r.URL.RawQuery)

	ctx, span := f.tracer.Start(ctx, "proxy.forward",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("route.prefix", rt.PathPrefix),
		))
	defer span.End()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstreamURL, r.Body)
	if err != nil {
		f.logger.Error("failed to build upstream request", "error", err, "url", upstreamURL)
		writeStatusError(w, http.StatusBadGateway)
		return ForwardResult{Outcome: OutcomeConnectError, Status: http.StatusBadGateway}
	}
	outReq.ContentLength = r.ContentLength

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	sanitizeRequestHeaders(outReq.Header, r.Header, clientIP, scheme, r.Host, policy.AppendForwardedFor)
	for key, value := range rt.Headers {
		outReq.Header.Set(key, value)
	}

	client := &http.Client{
		Transport:     f.transport,
		CheckRedirect: redirectPolicy(policy.Forwarder.MaxRedirects),
	}

	resp, err := client.Do(outReq)
	if err != nil {
		return f.writeErrorResult(w, r, err)
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already out; classify for the audit record only.
		if r.Context().Err() != nil {
			return ForwardResult{Outcome: OutcomeClientCancelled, Status: resp.StatusCode}
		}
		f.logger.Debug("error streaming upstream response", "error", err)
	}
	return ForwardResult{Outcome: OutcomeRelayed, Status: resp.StatusCode}
}

// writeErrorResult maps a transport error onto the client response and
// audit outcome.
func (f *Forwarder) writeErrorResult(w http.ResponseWriter, r *http.Request, err error) ForwardResult {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		writeStatusError(w, http.StatusRequestEntityTooLarge)
		return ForwardResult{Outcome: OutcomeBodyTooLarge, Status: http.StatusRequestEntityTooLarge}

	case r.Context().Err() == context.Canceled:
		// Client went away; nothing useful to write.
		return ForwardResult{Outcome: OutcomeClientCancelled, Status: 0}

	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		writeStatusError(w, http.StatusGatewayTimeout)
		return ForwardResult{Outcome: OutcomeTimeout, Status: http.StatusGatewayTimeout}

	default:
		f.logger.Warn("upstream unreachable", "error", err)
		writeStatusError(w, http.StatusBadGateway)
		return ForwardResult{Outcome: OutcomeConnectError, Status: http.StatusBadGateway}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redirectPolicy bounds upstream redirect following; 0 disables it and
// relays the redirect response to the client.
func redirectPolicy(max int) func(req *http.Request, via []*http.Request) error {
	if max <= 0 {
		return func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}
