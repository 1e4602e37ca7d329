package ssrf

import (
	"context"
	"net"
	"strings"
	"testing"
)

// fakeResolver maps hostnames to fixed addresses.
type fakeResolver struct {
	addrs map[string][]net.IPAddr
	err   error
}

func (f *fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.addrs[host], nil
}

func resolverFor(host string, ips ...string) *fakeResolver {
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(s)})
	}
	return &fakeResolver{addrs: map[string][]net.IPAddr{host: addrs}}
}

func TestValidateRejectsDenySet(t *testing.T) {
	v := NewValidator()

	rejected := []string{
		"http://127.0.0.1/",
		"http://127.8.9.10:8080/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://172.31.255.255/",
		"http://192.168.1.1/",
		"http://169.254.169.254/",
		"http://0.0.0.0/",
		"http://224.0.0.1/",
		"http://[::1]/",
		"http://[fe80::1]/",
		"http://[fc00::1]/",
		"http://[ff02::1]/",
	}
	for _, raw := range rejected {
		if _, err := v.Validate(context.Background(), raw); err == nil {
			t.Errorf("Validate(%q) accepted, want reject", raw)
		}
	}
}

func TestValidateAcceptsPublicLiteral(t *testing.T) {
	v := NewValidator()
	res, err := v.Validate(context.Background(), "https://93.184.216.34:8443")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.ResolvedAddrs) != 1 || res.ResolvedAddrs[0].String() != "93.184.216.34" {
		t.Errorf("ResolvedAddrs = %v", res.ResolvedAddrs)
	}
}

func TestValidateRejectsScheme(t *testing.T) {
	v := NewValidator()
	for _, raw := range []string{"ftp://example.com/", "file:///etc/passwd", "gopher://x/"} {
		if _, err := v.Validate(context.Background(), raw); err == nil {
			t.Errorf("Validate(%q) accepted, want scheme reject", raw)
		}
	}
}

func TestValidateRejectsMetadataHostname(t *testing.T) {
	v := NewValidator(WithResolver(resolverFor("metadata.google.internal", "93.184.216.34")))
	_, err := v.Validate(context.Background(), "http://metadata.google.internal/")
	if err == nil {
		t.Fatal("metadata hostname accepted, want reject")
	}
	if !strings.Contains(err.Error(), "metadata") {
		t.Errorf("unexpected reason: %v", err)
	}
}

func TestValidateRejectsQueryAndFragment(t *testing.T) {
	v := NewValidator(WithResolver(resolverFor("example.com", "93.184.216.34")))
	for _, raw := range []string{"http://example.com/?a=1", "http://example.com/#frag"} {
		if _, err := v.Validate(context.Background(), raw); err == nil {
			t.Errorf("Validate(%q) accepted, want reject", raw)
		}
	}
}

func TestValidateRejectsIfAnyResolvedDenied(t *testing.T) {
	// Host resolves to one public and one private address: reject.
	v := NewValidator(WithResolver(resolverFor("rebind.example", "93.184.216.34", "10.0.0.5")))
	if _, err := v.Validate(context.Background(), "http://rebind.example/"); err == nil {
		t.Fatal("mixed public/private resolution accepted, want reject")
	}
}

func TestValidateResolvesAndRecordsAddrs(t *testing.T) {
	v := NewValidator(WithResolver(resolverFor("api.example", "93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946")))
	res, err := v.Validate(context.Background(), "https://api.example")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(res.ResolvedAddrs) != 2 {
		t.Errorf("ResolvedAddrs = %v, want both records", res.ResolvedAddrs)
	}
}

func TestValidateRelaxedDenySet(t *testing.T) {
	// Operator allows RFC 1918 for an internal deployment; loopback stays denied.
	v := NewValidator(WithDenyCIDRs([]string{"127.0.0.0/8", "::1/128"}))
	if _, err := v.Validate(context.Background(), "http://10.0.0.5:9000"); err != nil {
		t.Errorf("relaxed deny-set still rejects 10/8: %v", err)
	}
	if _, err := v.Validate(context.Background(), "http://127.0.0.1:9000"); err == nil {
		t.Error("loopback accepted under relaxed set that still denies it")
	}
}

func TestValidateResolutionFailure(t *testing.T) {
	v := NewValidator(WithResolver(&fakeResolver{err: &net.DNSError{Err: "no such host", Name: "missing.example"}}))
	if _, err := v.Validate(context.Background(), "http://missing.example/"); err == nil {
		t.Fatal("unresolvable host accepted, want reject")
	}
}
