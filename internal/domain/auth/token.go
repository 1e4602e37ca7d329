package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Token kinds. Access tokens authenticate admin requests; refresh tokens
// are accepted only by the refresh endpoint.
const (
	TokenKindAccess  = "access"
	TokenKindRefresh = "refresh"
)

// Default token lifetimes.
const (
	AccessTokenTTL  = 30 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Token verification errors. All of them surface to clients as a generic
// 401; the distinction exists for logs and tests.
var (
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("token signature mismatch")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenKind      = errors.New("wrong token kind")
)

// Claims is the canonical token payload. Tokens are opaque to the client:
// a base64url JSON payload joined to a base64url HMAC-SHA256 tag. There is
// no server-side session table; possession of a valid token is the session.
type Claims struct {
	Subject   string `json:"sub"`
	Kind      string `json:"kind"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	ID        string `json:"jti"`
}

// TokenIssuer mints and verifies session tokens with a symmetric key.
type TokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a TokenIssuer. The signing key must be non-empty;
// it comes from TOKEN_SIGNING_KEY at startup.
func NewTokenIssuer(key []byte) (*TokenIssuer, error) {
	if len(key) == 0 {
		return nil, errors.New("token signing key must be set")
	}
	return &TokenIssuer{
		key:        key,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
	}, nil
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in"`
}

// IssuePair mints a fresh access/refresh pair for subject at time now.
func (t *TokenIssuer) IssuePair(subject string, now time.Time) (TokenPair, error) {
	access, err := t.mint(subject, TokenKindAccess, now, t.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := t.mint(subject, TokenKindRefresh, now, t.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.accessTTL.Seconds()),
	}, nil
}

func (t *TokenIssuer) mint(subject, kind string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Subject:   subject,
		Kind:      kind,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
		ID:        uuid.New().String(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + t.sign(body), nil
}

func (t *TokenIssuer) sign(body string) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a token's MAC, expiry, and kind at time now.
func (t *TokenIssuer) Verify(token, wantKind string, now time.Time) (*Claims, error) {
	body, tag, ok := strings.Cut(token, ".")
	if !ok {
		return nil, ErrTokenMalformed
	}
	wantTag := t.sign(body)
	if !hmac.Equal([]byte(tag), []byte(wantTag)) {
		return nil, ErrTokenSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrTokenMalformed
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenMalformed
	}
	if now.Unix() >= claims.ExpiresAt {
		return nil, ErrTokenExpired
	}
	if claims.Kind != wantKind {
		return nil, ErrTokenKind
	}
	return &claims, nil
}
