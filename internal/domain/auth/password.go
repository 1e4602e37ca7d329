// Package auth contains the credential domain: the shared-secret admin
// credential, signed session tokens, and long-lived opaque API keys. Any of
// the three is independently sufficient for an authenticated admin request.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrBadCredential is returned on any credential mismatch. Callers surface
// a generic 401; the specific reason stays internal.
var ErrBadCredential = errors.New("invalid credentials")

// argon2idParams follows the OWASP minimum for Argon2id.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024, // 47 MiB
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashPassword returns an Argon2id hash of the password in PHC format.
func HashPassword(password string) (string, error) {
	return argon2id.CreateHash(password, argon2idParams)
}

// SharedSecret is the admin username/password credential loaded from the
// environment at startup. The password is held only as an Argon2id hash.
type SharedSecret struct {
	username     string
	passwordHash string
}

// NewSharedSecret builds the credential. password may already be a PHC
// Argon2id hash ("$argon2id$..."); a cleartext value is hashed on load.
func NewSharedSecret(username, password string) (*SharedSecret, error) {
	if username == "" || password == "" {
		return nil, errors.New("admin username and password must be set")
	}
	hash := password
	if !strings.HasPrefix(password, "$argon2id$") {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
	}
	return &SharedSecret{username: username, passwordHash: hash}, nil
}

// Username returns the configured admin username.
func (s *SharedSecret) Username() string { return s.username }

// Verify checks a presented username/password pair. The username compare is
// constant-time; the password goes through Argon2id verification, which
// compares hashes in constant time.
func (s *SharedSecret) Verify(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1

	match, err := safeArgon2idCompare(password, s.passwordHash)
	if err != nil || !match || !userOK {
		return ErrBadCredential
	}
	return nil
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery. The underlying library panics on malformed hashes with invalid
// parameters; convert those to errors instead.
func safeArgon2idCompare(password, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(password, storedHash)
}
