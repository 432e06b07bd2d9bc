// ABOUTME: Tests for secret reference resolution

package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Env(t *testing.T) {
	t.Setenv("PERISCOPE_TEST_TOKEN", "tok-123")

	m := NewManager()
	v, err := m.Resolve("env://PERISCOPE_TEST_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", v)
}

func TestResolve_EnvMissing(t *testing.T) {
	m := NewManager()
	_, err := m.Resolve("env://PERISCOPE_DEFINITELY_UNSET")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_LiteralPassthrough(t *testing.T) {
	m := NewManager()
	v, err := m.Resolve("plain-token-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-token-value", v)
}

func TestResolve_UnknownScheme(t *testing.T) {
	m := NewManager()
	_, err := m.Resolve("vault://secret/data/periscope")
	assert.ErrorIs(t, err, ErrUnknownScheme)
}

func TestResolve_RegisteredScheme(t *testing.T) {
	m := NewManager()
	m.Register("static", staticResolver{"hello"})

	v, err := m.Resolve("static://anything")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

type staticResolver struct{ value string }

func (r staticResolver) Resolve(string) (string, error) { return r.value, nil }
