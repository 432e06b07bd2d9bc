// ABOUTME: Request authentication for the HTTP surface
// ABOUTME: dev, jwt, and api_key authenticators behind one interface

package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthenticated is returned when no valid identity is present.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// Authenticator extracts the caller's user id from a request.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, err error)
}

// DevAuthenticator trusts the X-User-ID header and falls back to a fixed
// dev identity. Never use outside dev mode.
type DevAuthenticator struct {
	// DefaultUser is the identity assumed when no header is present.
	DefaultUser string
}

// NewDevAuthenticator creates a dev authenticator with "dev-user" as the
// fallback identity.
func NewDevAuthenticator() *DevAuthenticator {
	return &DevAuthenticator{DefaultUser: "dev-user"}
}

func (a *DevAuthenticator) Authenticate(r *http.Request) (string, error) {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return user, nil
	}
	return a.DefaultUser, nil
}

// APIKeyAuthenticator maps static keys to user ids.
type APIKeyAuthenticator struct {
	keys map[string]string
}

// NewAPIKeyAuthenticator creates an authenticator over a key -> user map.
func NewAPIKeyAuthenticator(keys map[string]string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{keys: keys}
}

func (a *APIKeyAuthenticator) Authenticate(r *http.Request) (string, error) {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		return "", ErrUnauthenticated
	}
	// Compare against every configured key so timing does not reveal
	// which prefixes exist.
	var matched string
	found := false
	for candidate, user := range a.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			matched = user
			found = true
		}
	}
	if !found {
		return "", ErrUnauthenticated
	}
	return matched, nil
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(h[len(prefix):]), true
}
