// Package config provides the configuration schema and loading for the
// proxy: the route table document, admission policies, listener settings,
// and the credential material read from the environment.
package config

import (
	"time"
)

// Defaults applied by SetDefaults.
const (
	DefaultRequestsPerMinute = 100
	DefaultMaxBodyBytes      = 10 * 1024 * 1024 // 10 MiB

	DefaultAdminAttempts     = 5
	DefaultAdminWindowSecs   = 300
	DefaultAdminBlockSecs    = 600
	DefaultForwardTimeout    = 30
	DefaultConnectTimeout    = 5
	DefaultMaxRedirects      = 5
	DefaultMaxConnsPerHost   = 200
	DefaultShutdownGraceSecs = 30
)

// Config is the top-level configuration document.
type Config struct {
	// Server configures the listeners.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Routes is the ordered route table. Order matters: equal-length
	// prefixes break ties toward the earlier entry.
	Routes []RouteConfig `yaml:"routes" mapstructure:"routes" validate:"dive"`

	// RateLimit configures the data-plane limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// BodySize caps request bodies.
	BodySize BodySizeConfig `yaml:"body_size" mapstructure:"body_size"`

	// CORS is the cross-origin policy for the proxy's own surface.
	CORS CORSConfig `yaml:"cors" mapstructure:"cors"`

	// AdminRateLimit throttles sensitive admin operations.
	AdminRateLimit AdminRateLimitConfig `yaml:"admin_rate_limit" mapstructure:"admin_rate_limit"`

	// Forwarder configures upstream forwarding.
	Forwarder ForwarderConfig `yaml:"forwarder" mapstructure:"forwarder"`

	// SSRF configures the upstream target validator.
	SSRF SSRFConfig `yaml:"ssrf" mapstructure:"ssrf"`

	// Audit configures the durable audit store.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures optional tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// ServerConfig configures listeners and lifecycle.
type ServerConfig struct {
	// ListenAddr is the bind address (default "0.0.0.0").
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
	// HTTPPort is the plain HTTP port (default 8080).
	HTTPPort int `yaml:"http_port" mapstructure:"http_port" validate:"omitempty,min=1,max=65535"`
	// HTTPSPort is the TLS port. 0 disables the TLS listener.
	HTTPSPort int `yaml:"https_port" mapstructure:"https_port" validate:"omitempty,min=0,max=65535"`
	// TLSCert and TLSKey are paths to a certificate chain and private
	// key. Required when HTTPSPort is set; there is no automatic
	// certificate acquisition.
	TLSCert string `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey  string `yaml:"tls_key" mapstructure:"tls_key"`
	// LogLevel sets the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	// ShutdownGraceSeconds is how long in-flight requests get on
	// shutdown before cancellation.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" mapstructure:"shutdown_grace_seconds" validate:"omitempty,min=0"`
}

// RouteConfig is one route table entry.
type RouteConfig struct {
	// Path is the prefix to match; must start with "/".
	Path string `yaml:"path" mapstructure:"path" validate:"required,startswith=/"`
	// Target is the upstream base URL (http or https).
	Target string `yaml:"target" mapstructure:"target" validate:"required,url"`
	// StripPath drops the prefix when forwarding. Off by default.
	StripPath bool `yaml:"strip_path" mapstructure:"strip_path"`
	// Headers are extra headers injected into forwarded requests.
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
}

// RateLimitConfig configures the data-plane limiter.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"omitempty,min=1"`
}

// BodySizeConfig caps request bodies.
type BodySizeConfig struct {
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes" validate:"omitempty,min=1"`
}

// CORSConfig is the cross-origin policy. credentials=true together with a
// wildcard origin is rejected at validation.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Credentials    bool     `yaml:"credentials" mapstructure:"credentials"`
	Methods        []string `yaml:"methods" mapstructure:"methods"`
	Headers        []string `yaml:"headers" mapstructure:"headers"`
}

// AdminRateLimitConfig throttles admin operations per (IP, operation).
type AdminRateLimitConfig struct {
	AttemptsPerWindow int `yaml:"attempts_per_window" mapstructure:"attempts_per_window" validate:"omitempty,min=1"`
	WindowSeconds     int `yaml:"window_seconds" mapstructure:"window_seconds" validate:"omitempty,min=1"`
	BlockSeconds      int `yaml:"block_seconds" mapstructure:"block_seconds" validate:"omitempty,min=1"`
}

// ForwarderConfig configures upstream forwarding.
type ForwarderConfig struct {
	TimeoutSeconds        int  `yaml:"timeout_seconds" mapstructure:"timeout_seconds" validate:"omitempty,min=1"`
	ConnectTimeoutSeconds int  `yaml:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds" validate:"omitempty,min=1"`
	MaxRedirects          int  `yaml:"max_redirects" mapstructure:"max_redirects" validate:"omitempty,min=0"`
	MaxConcurrentPerHost  int  `yaml:"max_concurrent_per_host" mapstructure:"max_concurrent_per_host" validate:"omitempty,min=1"`
	AppendForwardedFor    bool `yaml:"append_forwarded_for" mapstructure:"append_forwarded_for"`
	// PinResolvedAddrs enables the hardened dial mode: connections go
	// to the addresses resolved at install time, closing the DNS
	// rebinding window at the cost of staleness until the next reload.
	PinResolvedAddrs bool `yaml:"pin_resolved_addrs" mapstructure:"pin_resolved_addrs"`
}

// SSRFConfig configures the upstream validator. Empty lists keep the
// default deny posture.
type SSRFConfig struct {
	// DenyCIDRs replaces the default deny-set when non-empty.
	DenyCIDRs []string `yaml:"deny_cidrs" mapstructure:"deny_cidrs" validate:"omitempty,dive,cidr"`
	// MetadataHosts replaces the default metadata hostname list.
	MetadataHosts []string `yaml:"metadata_hosts" mapstructure:"metadata_hosts"`
}

// AuditConfig configures the audit store.
type AuditConfig struct {
	// Path is the SQLite database file (AUDIT_PATH).
	Path string `yaml:"path" mapstructure:"path"`
	// QueueSize bounds the writer queue; submissions beyond it are
	// dropped and counted.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"omitempty,min=1"`
}

// TelemetryConfig configures optional tracing.
type TelemetryConfig struct {
	// Traces enables the stdout span exporter.
	Traces bool `yaml:"traces" mapstructure:"traces"`
}

// Credentials is the process-wide credential material loaded from the
// environment at startup. It is not part of the reloadable document.
type Credentials struct {
	AdminUsername   string
	AdminPassword   string
	TokenSigningKey string
}

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "0.0.0.0"
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownGraceSeconds == 0 {
		c.Server.ShutdownGraceSeconds = DefaultShutdownGraceSecs
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if c.BodySize.MaxBytes == 0 {
		c.BodySize.MaxBytes = DefaultMaxBodyBytes
	}
	if c.AdminRateLimit.AttemptsPerWindow == 0 {
		c.AdminRateLimit.AttemptsPerWindow = DefaultAdminAttempts
	}
	if c.AdminRateLimit.WindowSeconds == 0 {
		c.AdminRateLimit.WindowSeconds = DefaultAdminWindowSecs
	}
	if c.AdminRateLimit.BlockSeconds == 0 {
		c.AdminRateLimit.BlockSeconds = DefaultAdminBlockSecs
	}
	if c.Forwarder.TimeoutSeconds == 0 {
		c.Forwarder.TimeoutSeconds = DefaultForwardTimeout
	}
	if c.Forwarder.ConnectTimeoutSeconds == 0 {
		c.Forwarder.ConnectTimeoutSeconds = DefaultConnectTimeout
	}
	if c.Forwarder.MaxRedirects == 0 {
		c.Forwarder.MaxRedirects = DefaultMaxRedirects
	}
	if c.Forwarder.MaxConcurrentPerHost == 0 {
		c.Forwarder.MaxConcurrentPerHost = DefaultMaxConnsPerHost
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.Methods) == 0 {
		c.CORS.Methods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	if c.Audit.Path == "" {
		c.Audit.Path = "relaygate-audit.db"
	}
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1000
	}
}

// ShutdownGrace returns the shutdown grace period as a duration.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownGraceSeconds) * time.Second
}
