package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// API key format: "rgk_<id>_<secret>". The id portion doubles as the
// public key id; knowing it is not sufficient to reconstruct the key.
const (
	keyPrefix    = "rgk"
	keyIDBytes   = 6  // 48 bits -> ~10 base32 chars
	keySecBytes  = 24 // 192 bits of secret
	keySeparator = "_"
)

// Key store errors.
var (
	// ErrKeyNotFound is returned when a key id or hash has no row.
	ErrKeyNotFound = errors.New("api key not found")
	// ErrInvalidKey is returned when a presented key is unknown or
	// revoked.
	ErrInvalidKey = errors.New("invalid api key")
)

// APIKey is the stored metadata for one long-lived opaque key.
// The cleartext secret is never stored; only its SHA-256 hash.
type APIKey struct {
	// ID is the public key identifier (the "rgk_<id>" prefix part).
	ID string `json:"id"`
	// Hash is the SHA-256 hex digest of the full cleartext key.
	Hash string `json:"-"`
	// Name is an operator-chosen label.
	Name string `json:"name"`
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time `json:"created_at"`
	// LastUsedAt is the most recent successful use (best effort,
	// updates may coalesce). Nil if never used.
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	// Active is false once the key has been revoked.
	Active bool `json:"active"`
}

// KeyStore persists API keys. Implemented by the SQLite adapter with a
// read-mostly in-memory cache in front.
type KeyStore interface {
	// Insert stores a new key row.
	Insert(ctx context.Context, key APIKey) error

	// GetByHash looks a key up by its hash.
	// Returns ErrKeyNotFound when absent.
	GetByHash(ctx context.Context, hash string) (*APIKey, error)

	// List returns all keys, newest first.
	List(ctx context.Context) ([]APIKey, error)

	// Revoke sets active=false for the given key id.
	// Returns ErrKeyNotFound when absent.
	Revoke(ctx context.Context, id string) error

	// Delete removes the key row.
	// Returns ErrKeyNotFound when absent.
	Delete(ctx context.Context, id string) error

	// TouchLastUsed records a successful use. Best effort: callers
	// ignore the error and implementations may coalesce writes.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

var keyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateKey creates a new key: the cleartext (returned exactly once) and
// the metadata row to store.
func GenerateKey(name string, now time.Time) (cleartext string, key APIKey, err error) {
	idRaw := make([]byte, keyIDBytes)
	secRaw := make([]byte, keySecBytes)
	if _, err = rand.Read(idRaw); err != nil {
		return "", APIKey{}, fmt.Errorf("generate key id: %w", err)
	}
	if _, err = rand.Read(secRaw); err != nil {
		return "", APIKey{}, fmt.Errorf("generate key secret: %w", err)
	}

	id := strings.ToLower(keyEncoding.EncodeToString(idRaw))
	secret := strings.ToLower(keyEncoding.EncodeToString(secRaw))
	cleartext = keyPrefix + keySeparator + id + keySeparator + secret

	key = APIKey{
		ID:        id,
		Hash:      HashKey(cleartext),
		Name:      name,
		CreatedAt: now.UTC(),
		Active:    true,
	}
	return cleartext, key, nil
}

// HashKey returns the SHA-256 hex digest of a cleartext key. SHA-256 is
// enough here: the secret carries 192 bits of entropy, so offline guessing
// is not a concern and direct hash lookup keeps validation O(1).
func HashKey(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// Prefix returns the public display prefix for a key id ("rgk_<id>").
func Prefix(id string) string {
	return keyPrefix + keySeparator + id
}

// KeyValidator validates presented API keys against the store, with a
// coalescing last-used updater.
type KeyValidator struct {
	store KeyStore
	// touchGranularity coalesces TouchLastUsed writes: a key's
	// last_used_at is rewritten at most once per granularity.
	touchGranularity time.Duration
}

// NewKeyValidator creates a validator over the given store.
func NewKeyValidator(store KeyStore) *KeyValidator {
	return &KeyValidator{store: store, touchGranularity: time.Minute}
}

// Validate checks a presented cleartext key. Returns the key metadata on
// success; ErrInvalidKey for unknown, malformed, or revoked keys.
func (v *KeyValidator) Validate(ctx context.Context, cleartext string) (*APIKey, error) {
	if !strings.HasPrefix(cleartext, keyPrefix+keySeparator) {
		return nil, ErrInvalidKey
	}
	key, err := v.store.GetByHash(ctx, HashKey(cleartext))
	if err != nil {
		return nil, ErrInvalidKey
	}
	if !key.Active {
		return nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	if key.LastUsedAt == nil || now.Sub(*key.LastUsedAt) >= v.touchGranularity {
		// Best effort; a failed touch must not fail authentication.
		_ = v.store.TouchLastUsed(ctx, key.ID, now)
	}
	return key, nil
}
