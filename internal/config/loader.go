package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/relaygate/relaygate/internal/domain/route"
	"github.com/relaygate/relaygate/internal/domain/ssrf"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, relaygate.yaml/.yml is searched in the
// current directory and /etc/relaygate.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("relaygate")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/relaygate")
	}

	// Generic override support: RELAYGATE_SERVER_HTTP_PORT etc.
	viper.SetEnvPrefix("RELAYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// The environment contract uses these literal names.
	_ = viper.BindEnv("server.listen_addr", "LISTEN_ADDR")
	_ = viper.BindEnv("server.http_port", "LISTEN_PORT_HTTP")
	_ = viper.BindEnv("server.https_port", "LISTEN_PORT_HTTPS")
	_ = viper.BindEnv("server.tls_cert", "TLS_CERT")
	_ = viper.BindEnv("server.tls_key", "TLS_KEY")
	_ = viper.BindEnv("audit.path", "AUDIT_PATH")
}

// Load reads the configuration document, applies defaults, and validates
// it. Finding no config file on the search path is not an error: the proxy
// can run with an empty route table and environment-only configuration. A
// file named explicitly must exist.
func Load() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Reload re-reads the document from disk and validates it. Used by the
// hot-reload path; the current file set by InitViper is re-read.
func Reload() (*Config, error) {
	return Load()
}

// LoadCredentials reads the credential material from the environment.
// Credentials deliberately bypass the config file: secrets never live in
// the reloadable document.
func LoadCredentials() Credentials {
	return Credentials{
		AdminUsername:   os.Getenv("ADMIN_USERNAME"),
		AdminPassword:   os.Getenv("ADMIN_PASSWORD"),
		TokenSigningKey: os.Getenv("TOKEN_SIGNING_KEY"),
	}
}

// ConfigFileUsed returns the path of the config file in use, if any.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}

// BuildSnapshot validates every route target through the SSRF validator
// and produces an immutable route snapshot. Any rejected target rejects
// the whole document: the swap is all-or-nothing.
func BuildSnapshot(ctx context.Context, cfg *Config, validator *ssrf.Validator, now time.Time) (*route.Snapshot, error) {
	routes := make([]route.Route, 0, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		result, err := validator.Validate(ctx, rc.Target)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Path, err)
		}
		u, err := url.Parse(rc.Target)
		if err != nil {
			return nil, fmt.Errorf("route %d (%s): %w", i, rc.Path, err)
		}
		routes = append(routes, route.Route{
			PathPrefix:    rc.Path,
			Upstream:      u,
			StripPrefix:   rc.StripPath,
			Headers:       rc.Headers,
			ResolvedAddrs: result.ResolvedAddrs,
		})
	}

	policy := route.Policy{
		RequestsPerMinute:  cfg.RateLimit.RequestsPerMinute,
		MaxBodyBytes:       cfg.BodySize.MaxBytes,
		AppendForwardedFor: cfg.Forwarder.AppendForwardedFor,
		CORS: route.CORSPolicy{
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			Credentials:    cfg.CORS.Credentials,
			Methods:        cfg.CORS.Methods,
			Headers:        cfg.CORS.Headers,
		},
		AdminLimit: route.AdminLimitPolicy{
			AttemptsPerWindow: cfg.AdminRateLimit.AttemptsPerWindow,
			Window:            time.Duration(cfg.AdminRateLimit.WindowSeconds) * time.Second,
			BlockDuration:     time.Duration(cfg.AdminRateLimit.BlockSeconds) * time.Second,
		},
		Forwarder: route.ForwarderPolicy{
			Timeout:              time.Duration(cfg.Forwarder.TimeoutSeconds) * time.Second,
			ConnectTimeout:       time.Duration(cfg.Forwarder.ConnectTimeoutSeconds) * time.Second,
			MaxRedirects:         cfg.Forwarder.MaxRedirects,
			MaxConcurrentPerHost: cfg.Forwarder.MaxConcurrentPerHost,
		},
	}

	return route.NewSnapshot(routes, policy, now)
}

// NewSSRFValidator builds the validator from the config's SSRF section,
// keeping the default deny posture when the section is empty.
func NewSSRFValidator(cfg *Config, opts ...ssrf.Option) *ssrf.Validator {
	if len(cfg.SSRF.DenyCIDRs) > 0 {
		opts = append(opts, ssrf.WithDenyCIDRs(cfg.SSRF.DenyCIDRs))
	}
	if len(cfg.SSRF.MetadataHosts) > 0 {
		opts = append(opts, ssrf.WithMetadataHosts(cfg.SSRF.MetadataHosts))
	}
	return ssrf.NewValidator(opts...)
}
