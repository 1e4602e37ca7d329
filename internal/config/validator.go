package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate runs struct-tag validation plus the cross-field rules the tags
// cannot express. Returns an actionable error; the caller rejects the
// whole document on any failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateCORS(); err != nil {
		return err
	}
	if err := c.validateTLS(); err != nil {
		return err
	}
	return nil
}

// validateCORS enforces the wildcard/credentials incompatibility:
// Access-Control-Allow-Credentials with origin "*" is meaningless to
// browsers and hides misconfiguration, so it is rejected outright.
func (c *Config) validateCORS() error {
	if !c.CORS.Credentials {
		return nil
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			return errors.New(`cors: credentials=true is incompatible with allowed_origins=["*"]`)
		}
	}
	return nil
}

// validateTLS requires a certificate and key whenever the TLS listener is
// requested. There is no automatic acquisition path.
func (c *Config) validateTLS() error {
	if c.Server.HTTPSPort == 0 {
		return nil
	}
	if c.Server.TLSCert == "" || c.Server.TLSKey == "" {
		return errors.New("server: https_port is set but tls_cert/tls_key are missing")
	}
	return nil
}

// formatValidationErrors converts validator errors into one readable line
// per failed field.
func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q rule", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("config validation: %s", strings.Join(msgs, "; "))
}
