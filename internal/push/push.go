// ABOUTME: Push delivery providers for notification fan-out
// ABOUTME: Logger and HTTP webpush-style providers behind one interface

package push

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Provider delivers one payload to one endpoint. Errors are logged by the
// caller and never reach users.
type Provider interface {
	Send(ctx context.Context, endpoint, platform string, payload []byte) error
}

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 2 * time.Second

// LoggerProvider writes deliveries to the log instead of sending them.
// It backs unconfigured platforms and dev mode.
type LoggerProvider struct {
	logger *slog.Logger
}

// NewLoggerProvider creates a logging-only provider.
func NewLoggerProvider() *LoggerProvider {
	return &LoggerProvider{logger: slog.Default().With("component", "push")}
}

// Send logs the delivery and succeeds.
func (p *LoggerProvider) Send(_ context.Context, endpoint, platform string, payload []byte) error {
	p.logger.Info("push delivery",
		"platform", platform, "endpoint", endpoint, "bytes", len(payload))
	return nil
}

// HTTPProvider POSTs the payload to the subscription endpoint, as webpush
// endpoints expect.
type HTTPProvider struct {
	client *http.Client
	logger *slog.Logger
}

// NewHTTPProvider creates an HTTP provider with the default per-attempt
// timeout.
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{
		client: &http.Client{Timeout: DefaultTimeout},
		logger: slog.Default().With("component", "push"),
	}
}

// Send posts the payload. Any non-2xx status is an error.
func (p *HTTPProvider) Send(ctx context.Context, endpoint, platform string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending push to %s: %w", platform, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Registry maps platforms to providers, with a fallback for platforms
// nobody configured.
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry creates a registry with the logging provider as fallback.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  NewLoggerProvider(),
	}
}

// Register binds a platform name to a provider. Called once at startup;
// the registry is immutable afterwards.
func (r *Registry) Register(platform string, p Provider) {
	r.providers[platform] = p
}

// For returns the provider for a platform, or the fallback.
func (r *Registry) For(platform string) Provider {
	if p, ok := r.providers[platform]; ok {
		return p
	}
	return r.fallback
}
