// Package ssrf gates candidate upstream URLs before they are installed into
// the route table. Validation happens at config load time, not per request:
// a rejected URL rejects the whole configuration document.
package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Resolver resolves a hostname to IP addresses. Satisfied by
// net.DefaultResolver; tests inject a fake.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// defaultDenyCIDRs is the default deny posture: loopback, link-local,
// private ranges, unique-local, multicast, "this network", and reserved.
var defaultDenyCIDRs = []string{
	"127.0.0.0/8",    // IPv4 loopback
	"10.0.0.0/8",     // RFC 1918 private
	"172.16.0.0/12",  // RFC 1918 private
	"192.168.0.0/16", // RFC 1918 private
	"169.254.0.0/16", // Link-local (cloud metadata at 169.254.169.254)
	"0.0.0.0/8",      // "this network"
	"224.0.0.0/4",    // IPv4 multicast
	"240.0.0.0/4",    // Reserved
	"::1/128",        // IPv6 loopback
	"::/128",         // IPv6 unspecified
	"fc00::/7",       // IPv6 unique local
	"fe80::/10",      // IPv6 link-local
	"ff00::/8",       // IPv6 multicast
}

// defaultMetadataHosts are hostnames that are rejected syntactically,
// before any DNS resolution.
var defaultMetadataHosts = []string{
	"metadata.google.internal",
	"metadata.goog",
	"metadata",
}

// Result reports a successful validation. ResolvedAddrs are recorded next
// to the route so a hardened forwarder can pin its dials to them.
type Result struct {
	ResolvedAddrs []net.IP
}

// Validator decides whether a candidate upstream URL is safe to install.
type Validator struct {
	deny          []*net.IPNet
	metadataHosts map[string]struct{}
	resolver      Resolver
	lookupTimeout time.Duration
}

// Option configures a Validator.
type Option func(*Validator)

// WithDenyCIDRs replaces the default deny-set. An operator may relax the
// set for trusted private-network deployments; the default posture is deny.
func WithDenyCIDRs(cidrs []string) Option {
	return func(v *Validator) {
		v.deny = mustParseCIDRs(cidrs)
	}
}

// WithMetadataHosts replaces the default metadata hostname list.
func WithMetadataHosts(hosts []string) Option {
	return func(v *Validator) {
		v.metadataHosts = make(map[string]struct{}, len(hosts))
		for _, h := range hosts {
			v.metadataHosts[strings.ToLower(h)] = struct{}{}
		}
	}
}

// WithResolver injects a DNS resolver. Default is net.DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(v *Validator) { v.resolver = r }
}

// NewValidator creates a Validator with the default deny posture.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		deny:          mustParseCIDRs(defaultDenyCIDRs),
		metadataHosts: make(map[string]struct{}, len(defaultMetadataHosts)),
		resolver:      net.DefaultResolver,
		lookupTimeout: 5 * time.Second,
	}
	for _, h := range defaultMetadataHosts {
		v.metadataHosts[h] = struct{}{}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid deny-set CIDR: " + cidr)
		}
		nets = append(nets, network)
	}
	return nets
}

// Denied reports whether ip falls in the deny-set.
func (v *Validator) Denied(ip net.IP) bool {
	for _, network := range v.deny {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Validate checks a candidate upstream URL. The scheme must be http or
// https, the host must not be a metadata hostname, and no resolved address
// may fall in the deny-set. On success the resolved address set is
// returned for install-time pinning.
//
// Resolution happens here, at install time. The plain forwarder connects
// by hostname afterwards, which is TOCTOU-weak against DNS rebinding; the
// hardened dial mode pins to the returned addresses instead.
func (v *Validator) Validate(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Result{}, fmt.Errorf("upstream %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Result{}, fmt.Errorf("upstream %q: scheme must be http or https", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return Result{}, fmt.Errorf("upstream %q: missing host", rawURL)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return Result{}, fmt.Errorf("upstream %q: base URL must not carry query or fragment", rawURL)
	}
	if _, bad := v.metadataHosts[strings.ToLower(host)]; bad {
		return Result{}, fmt.Errorf("upstream %q: metadata hostname is not allowed", rawURL)
	}

	// Literal IP: no resolution needed.
	if ip := net.ParseIP(host); ip != nil {
		if v.Denied(ip) {
			return Result{}, fmt.Errorf("upstream %q: address %s is in the deny-set", rawURL, ip)
		}
		return Result{ResolvedAddrs: []net.IP{ip}}, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
	defer cancel()
	addrs, err := v.resolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		return Result{}, fmt.Errorf("upstream %q: resolve %s: %w", rawURL, host, err)
	}
	if len(addrs) == 0 {
		return Result{}, fmt.Errorf("upstream %q: %s resolved to no addresses", rawURL, host)
	}

	resolved := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if v.Denied(a.IP) {
			return Result{}, fmt.Errorf("upstream %q: %s resolves to denied address %s", rawURL, host, a.IP)
		}
		resolved = append(resolved, a.IP)
	}
	return Result{ResolvedAddrs: resolved}, nil
}
