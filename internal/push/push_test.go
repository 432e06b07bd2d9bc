// ABOUTME: Tests for push providers and the platform registry
// ABOUTME: Uses httptest servers for the HTTP provider

package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerProvider_AlwaysSucceeds(t *testing.T) {
	p := NewLoggerProvider()
	err := p.Send(context.Background(), "endpoint-1", "apns", []byte(`{"message":"hi"}`))
	assert.NoError(t, err)
}

func TestHTTPProvider_Send(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := NewHTTPProvider()
	err := p.Send(context.Background(), srv.URL, "webpush", []byte(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"message":"hi"}`, gotBody)
	assert.Equal(t, "application/json", gotContentType)
}

func TestHTTPProvider_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	p := NewHTTPProvider()
	err := p.Send(context.Background(), srv.URL, "webpush", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "410")
}

func TestRegistry_FallsBackToLogger(t *testing.T) {
	r := NewRegistry()

	httpProvider := NewHTTPProvider()
	r.Register("webpush", httpProvider)

	assert.Same(t, Provider(httpProvider), r.For("webpush"))

	// Unregistered platforms get the logging provider.
	_, ok := r.For("apns").(*LoggerProvider)
	assert.True(t, ok)
}
