// ABOUTME: Tests for the dev, api_key, and jwt authenticators
// ABOUTME: Covers identity claim precedence and expiry handling

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevAuthenticator(t *testing.T) {
	a := NewDevAuthenticator()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "dev-user", user)

	r.Header.Set("X-User-ID", "alice")
	user, err = a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator(map[string]string{"k1": "alice", "k2": "bob"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set("X-API-Key", "wrong")
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set("X-API-Key", "k2")
	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"))

	token, err := a.Generate("alice", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	user, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestJWTAuthenticator_MissingHeader(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set("Authorization", "Basic abc")
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestJWTAuthenticator_Expired(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"))

	token, err := a.Generate("alice", -time.Minute)
	require.NoError(t, err)

	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTAuthenticator_WrongSecret(t *testing.T) {
	signer := NewJWTAuthenticator([]byte("secret-a"))
	verifier := NewJWTAuthenticator([]byte("secret-b"))

	token, err := signer.Generate("alice", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTAuthenticator_ClaimPrecedence(t *testing.T) {
	secret := []byte("test-secret")
	a := NewJWTAuthenticator(secret)

	sign := func(claims jwt.MapClaims) string {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return token
	}

	// user_id beats sub and uid.
	user, err := a.Verify(sign(jwt.MapClaims{"user_id": "u1", "sub": "u2", "uid": "u3"}))
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	// sub beats uid.
	user, err = a.Verify(sign(jwt.MapClaims{"sub": "u2", "uid": "u3"}))
	require.NoError(t, err)
	assert.Equal(t, "u2", user)

	// uid alone works.
	user, err = a.Verify(sign(jwt.MapClaims{"uid": "u3"}))
	require.NoError(t, err)
	assert.Equal(t, "u3", user)

	// No identity claim at all.
	_, err = a.Verify(sign(jwt.MapClaims{"role": "admin"}))
	assert.ErrorIs(t, err, ErrMissingClaim)
}
