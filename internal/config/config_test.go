package config

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/relaygate/relaygate/internal/domain/ssrf"
)

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	if cfg.RateLimit.RequestsPerMinute != 100 {
		t.Errorf("RequestsPerMinute = %d, want 100", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.BodySize.MaxBytes != 10*1024*1024 {
		t.Errorf("MaxBytes = %d, want 10 MiB", cfg.BodySize.MaxBytes)
	}
	if cfg.AdminRateLimit.AttemptsPerWindow != 5 || cfg.AdminRateLimit.WindowSeconds != 300 || cfg.AdminRateLimit.BlockSeconds != 600 {
		t.Errorf("admin rate limit defaults = %+v", cfg.AdminRateLimit)
	}
	if cfg.Forwarder.TimeoutSeconds != 30 || cfg.Forwarder.ConnectTimeoutSeconds != 5 {
		t.Errorf("forwarder defaults = %+v", cfg.Forwarder)
	}
	if cfg.Forwarder.MaxRedirects != 5 || cfg.Forwarder.MaxConcurrentPerHost != 200 {
		t.Errorf("forwarder defaults = %+v", cfg.Forwarder)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d", cfg.Server.HTTPPort)
	}
}

func TestValidateCORSCredentialsWildcard(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.CORS.Credentials = true // origins default to ["*"]

	err := cfg.Validate()
	if err == nil {
		t.Fatal("credentials=true with wildcard origin accepted")
	}
	if !strings.Contains(err.Error(), "credentials") {
		t.Errorf("unexpected error: %v", err)
	}

	cfg.CORS.AllowedOrigins = []string{"https://ops.example.com"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("explicit origin with credentials rejected: %v", err)
	}
}

func TestValidateTLSRequiresCertAndKey(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Server.HTTPSPort = 8443

	if err := cfg.Validate(); err == nil {
		t.Fatal("https without cert/key accepted")
	}

	cfg.Server.TLSCert = "/etc/relaygate/tls.crt"
	cfg.Server.TLSKey = "/etc/relaygate/tls.key"
	if err := cfg.Validate(); err != nil {
		t.Errorf("https with cert/key rejected: %v", err)
	}
}

func TestValidateRouteFields(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Routes = []RouteConfig{{Path: "api", Target: "http://u.local"}}

	if err := cfg.Validate(); err == nil {
		t.Error("route path without leading slash accepted")
	}

	cfg.Routes = []RouteConfig{{Path: "/api", Target: "not a url"}}
	if err := cfg.Validate(); err == nil {
		t.Error("route with invalid target URL accepted")
	}
}

type staticResolver struct {
	addrs map[string][]net.IPAddr
}

func (s staticResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	return s.addrs[host], nil
}

func TestBuildSnapshotValidatesTargets(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()
	cfg.Routes = []RouteConfig{
		{Path: "/api", Target: "http://good.example"},
		{Path: "/bad", Target: "http://169.254.169.254"},
	}

	v := ssrf.NewValidator(ssrf.WithResolver(staticResolver{addrs: map[string][]net.IPAddr{
		"good.example": {{IP: net.ParseIP("93.184.216.34")}},
	}}))

	// One denied target rejects the whole document.
	if _, err := BuildSnapshot(context.Background(), &cfg, v, time.Now()); err == nil {
		t.Fatal("document with metadata-endpoint target accepted")
	}

	cfg.Routes = cfg.Routes[:1]
	snap, err := BuildSnapshot(context.Background(), &cfg, v, time.Now())
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	if snap.Len() != 1 {
		t.Errorf("snapshot has %d routes, want 1", snap.Len())
	}
	r := snap.Match("/api/x")
	if r == nil || len(r.ResolvedAddrs) != 1 {
		t.Errorf("route = %+v, want resolved addrs recorded", r)
	}
	if snap.Policy.RequestsPerMinute != 100 {
		t.Errorf("policy not carried: %+v", snap.Policy)
	}
}
