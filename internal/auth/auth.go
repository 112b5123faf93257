// Package auth provides token authentication for upload and status requests.
//
// Tokens are derived from a shared secret and the current hour, so a token
// generated by a client stops validating at the next hour boundary. There is
// no grace window: a request that straddles the boundary with an old token is
// rejected and the client must fetch a fresh one.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// DefaultSecretKey is used when no secret is configured.
// It is public knowledge and therefore insecure; deployments that enable
// authentication must override it.
const DefaultSecretKey = "default-secret-key-change-in-production"

// ErrUnauthorized is returned when a token is missing, invalid or expired.
// It carries no retry semantics.
var ErrUnauthorized = errors.New("invalid or missing authentication token")

// Authenticator validates caller tokens against an hour-windowed secret.
// It holds no mutable state and is safe for concurrent use.
type Authenticator struct {
	enabled bool
	secret  string
	now     func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides the time source used to derive the expected token.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// New creates an Authenticator. An empty secret falls back to DefaultSecretKey.
func New(enabled bool, secret string, opts ...Option) *Authenticator {
	if secret == "" {
		secret = DefaultSecretKey
	}
	a := &Authenticator{
		enabled: enabled,
		secret:  secret,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enabled reports whether tokens are checked at all.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// UsesDefaultSecret reports whether the insecure built-in secret is in use.
func (a *Authenticator) UsesDefaultSecret() bool {
	return a.secret == DefaultSecretKey
}

// TokenAt returns the token valid during the hour containing t.
func (a *Authenticator) TokenAt(t time.Time) string {
	window := t.Unix() / 3600
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", a.secret, window)))
	return hex.EncodeToString(sum[:])
}

// Token returns the token valid for the current hour.
func (a *Authenticator) Token() string {
	return a.TokenAt(a.now())
}

// Validate reports whether token is acceptable.
// When authentication is disabled every token, including an empty one, is accepted.
func (a *Authenticator) Validate(token string) bool {
	if !a.enabled {
		return true
	}
	if token == "" {
		return false
	}
	expected := a.Token()
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// RequireAuth returns ErrUnauthorized when token does not validate.
func (a *Authenticator) RequireAuth(token string) error {
	if !a.Validate(token) {
		return ErrUnauthorized
	}
	return nil
}
