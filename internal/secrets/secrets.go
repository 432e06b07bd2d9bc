// ABOUTME: Secret reference resolution for config values
// ABOUTME: env:// resolves locally; vault/aws/gcp schemes are pluggable

package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrUnknownScheme is returned for a reference whose scheme has no
// registered resolver.
var ErrUnknownScheme = errors.New("secrets: unknown reference scheme")

// ErrNotFound is returned when the scheme is known but the secret is not.
var ErrNotFound = errors.New("secrets: not found")

// Resolver resolves one scheme's references to secret values.
type Resolver interface {
	Resolve(name string) (string, error)
}

// Manager dispatches references of the form scheme://name to the
// resolver registered for the scheme. Plain strings without a scheme
// pass through unchanged, so config values stay usable as literals.
type Manager struct {
	resolvers map[string]Resolver
}

// NewManager creates a Manager with the env resolver preinstalled.
// Vault, AWS, and GCP resolvers register here when their backends are
// configured.
func NewManager() *Manager {
	m := &Manager{resolvers: make(map[string]Resolver)}
	m.Register("env", EnvResolver{})
	return m
}

// Register installs a resolver for a scheme. Called once at startup.
func (m *Manager) Register(scheme string, r Resolver) {
	m.resolvers[scheme] = r
}

// Resolve resolves a reference like env://API_KEY. A value with no
// scheme separator is returned as-is.
func (m *Manager) Resolve(reference string) (string, error) {
	scheme, name, ok := strings.Cut(reference, "://")
	if !ok {
		return reference, nil
	}

	r, found := m.resolvers[scheme]
	if !found {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return r.Resolve(name)
}

// EnvResolver resolves env://KEY references from the process environment.
type EnvResolver struct{}

func (EnvResolver) Resolve(name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("%w: env %q", ErrNotFound, name)
	}
	return v, nil
}
