// Package route contains the route table domain: path-prefix routes, the
// immutable configuration snapshot they live in, and longest-prefix matching.
package route

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// ErrBadPrefix is returned when a route prefix does not start with "/".
var ErrBadPrefix = errors.New("route prefix must start with /")

// Route maps a path prefix to an upstream base URL.
// Routes are created by the config loader and are immutable once installed.
type Route struct {
	// PathPrefix is the URL path prefix to match (e.g. "/api").
	PathPrefix string
	// Upstream is the upstream base URL (scheme http or https, no
	// query or fragment).
	Upstream *url.URL
	// StripPrefix controls whether PathPrefix is removed from the path
	// before forwarding. Off by default.
	StripPrefix bool
	// Headers are additional headers injected into forwarded requests.
	Headers map[string]string
	// ResolvedAddrs are the upstream host's addresses as resolved at
	// install time. Used by the hardened dialer to pin connections.
	ResolvedAddrs []net.IP
}

// UpstreamURL builds the full upstream URL for an inbound path and query.
func (r *Route) UpstreamURL(path, rawQuery string) string {
	forwardPath := path
	if r.StripPrefix {
		forwardPath = strings.TrimPrefix(forwardPath, r.PathPrefix)
		if !strings.HasPrefix(forwardPath, "/") {
			forwardPath = "/" + forwardPath
		}
	}
	u := strings.TrimRight(r.Upstream.String(), "/") + forwardPath
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// CORSPolicy is the cross-origin policy applied to the proxy's own surface.
type CORSPolicy struct {
	AllowedOrigins []string
	Credentials    bool
	Methods        []string
	Headers        []string
}

// ForwarderPolicy holds the forwarding knobs in force for a snapshot.
type ForwarderPolicy struct {
	Timeout              time.Duration
	ConnectTimeout       time.Duration
	MaxRedirects         int
	MaxConcurrentPerHost int
}

// AdminLimitPolicy holds the admin-plane rate limit parameters.
type AdminLimitPolicy struct {
	AttemptsPerWindow int
	Window            time.Duration
	BlockDuration     time.Duration
}

// Policy bundles the non-route configuration values that were in force
// when a snapshot was loaded.
type Policy struct {
	// RequestsPerMinute is the data-plane rate budget per client IP
	// over a 60 second sliding window.
	RequestsPerMinute int
	// MaxBodyBytes caps the request body size.
	MaxBodyBytes int64
	// AppendForwardedFor appends the client IP to an inbound
	// X-Forwarded-For instead of replacing it.
	AppendForwardedFor bool
	CORS               CORSPolicy
	AdminLimit         AdminLimitPolicy
	Forwarder          ForwarderPolicy
}

// Snapshot is an immutable configuration value: the ordered route list plus
// the policy in force when it was loaded. The live snapshot is held behind a
// single atomic pointer; each request captures one snapshot at match time
// and observes it for its entire lifetime.
type Snapshot struct {
	routes []Route
	// byLength holds route indices ordered by prefix length descending,
	// insertion order preserved within a length. Match scans this.
	byLength []int
	Policy   Policy
	LoadedAt time.Time
}

// NewSnapshot validates the routes and builds a snapshot. Every prefix must
// start with "/". A "/" prefix acts as a catch-all and, by longest-prefix
// rules, matches last.
func NewSnapshot(routes []Route, policy Policy, loadedAt time.Time) (*Snapshot, error) {
	for _, r := range routes {
		if r.PathPrefix == "" || !strings.HasPrefix(r.PathPrefix, "/") {
			return nil, fmt.Errorf("%w: %q", ErrBadPrefix, r.PathPrefix)
		}
	}

	order := make([]int, len(routes))
	for i := range order {
		order[i] = i
	}
	// Stable ordering: longer prefixes first, earlier insertion wins ties.
	// Insertion sort keeps this readable for the table sizes we expect.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if len(routes[b].PathPrefix) > len(routes[a].PathPrefix) {
				order[j-1], order[j] = b, a
			} else {
				break
			}
		}
	}

	return &Snapshot{
		routes:   routes,
		byLength: order,
		Policy:   policy,
		LoadedAt: loadedAt,
	}, nil
}

// Match returns the route whose PathPrefix is the longest prefix of path,
// or nil if no route matches. Ties on length break toward the route that
// was inserted earlier. Match is a pure function of (snapshot, path).
func (s *Snapshot) Match(path string) *Route {
	for _, i := range s.byLength {
		if strings.HasPrefix(path, s.routes[i].PathPrefix) {
			return &s.routes[i]
		}
	}
	return nil
}

// Routes returns a copy of the snapshot's route list in insertion order.
func (s *Snapshot) Routes() []Route {
	out := make([]Route, len(s.routes))
	copy(out, s.routes)
	return out
}

// Len returns the number of routes in the snapshot.
func (s *Snapshot) Len() int { return len(s.routes) }
