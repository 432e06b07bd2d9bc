// ABOUTME: Pending-action manager for confirmation-gated side effects
// ABOUTME: One-shot random tokens with TTL, stored in the KV layer

package pending

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/periscope-dev/periscope/internal/kv"
)

// ErrNotFound is returned when a token does not exist or was already
// consumed.
var ErrNotFound = errors.New("pending action not found")

// ErrExpired is returned when a token exists but its TTL has elapsed.
var ErrExpired = errors.New("pending action expired")

// DefaultTTL is the confirmation window when the caller passes zero.
const DefaultTTL = 60 * time.Second

// Action is a deferred side effect awaiting confirmation.
type Action struct {
	Token     string         `json:"token"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Intent    string         `json:"intent"`
	Entities  map[string]any `json:"entities,omitempty"`
	Summary   string         `json:"summary"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// Manager creates and consumes pending actions. Consume is atomic; under
// concurrent confirm attempts exactly one caller wins.
type Manager struct {
	kv     kv.KV
	grace  time.Duration
	logger *slog.Logger
}

// NewManager creates a Manager. grace extends the KV record past the
// action's expiry so Peek and Consume can distinguish ErrExpired from
// ErrNotFound during that window.
func NewManager(store kv.KV, grace time.Duration) *Manager {
	if grace <= 0 {
		grace = time.Minute
	}
	return &Manager{
		kv:     store,
		grace:  grace,
		logger: slog.Default().With("component", "pending"),
	}
}

// Create stores a new pending action and returns it with a fresh token.
func (m *Manager) Create(ctx context.Context, userID, sessionID, intent string, entities map[string]any, summary string, ttl time.Duration) (*Action, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	token, err := newToken()
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	now := time.Now().UTC()
	action := &Action{
		Token:     token,
		UserID:    userID,
		SessionID: sessionID,
		Intent:    intent,
		Entities:  entities,
		Summary:   summary,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("encoding pending action: %w", err)
	}

	if err := m.kv.Set(ctx, tokenKey(token), data, ttl+m.grace); err != nil {
		return nil, fmt.Errorf("storing pending action: %w", err)
	}

	// Index the session's outstanding token so bare "confirm" can find it.
	if err := m.kv.Set(ctx, sessionKey(userID, sessionID), []byte(token), ttl+m.grace); err != nil {
		return nil, fmt.Errorf("indexing pending action: %w", err)
	}

	m.logger.Debug("created pending action",
		"user_id", userID, "intent", intent, "expires_at", action.ExpiresAt)
	return action, nil
}

// Peek returns the action without consuming it.
func (m *Manager) Peek(ctx context.Context, token string) (*Action, error) {
	data, err := m.kv.Get(ctx, tokenKey(token))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading pending action: %w", err)
	}
	return decode(data)
}

// Consume atomically removes and returns the action. A token can be
// consumed at most once; losers of a race get ErrNotFound. A consumed
// token past its expiry returns ErrExpired.
func (m *Manager) Consume(ctx context.Context, token string) (*Action, error) {
	data, existed, err := m.kv.ConsumeIfPresent(ctx, tokenKey(token))
	if err != nil {
		return nil, fmt.Errorf("consuming pending action: %w", err)
	}
	if !existed {
		return nil, ErrNotFound
	}

	action, err := decode(data)
	if err != nil {
		return nil, err
	}

	// The index entry is best-effort cleanup.
	_ = m.kv.Delete(ctx, sessionKey(action.UserID, action.SessionID))

	m.logger.Debug("consumed pending action",
		"user_id", action.UserID, "intent", action.Intent)
	return action, nil
}

// Outstanding resolves the session's most recent unconsumed token, for
// the bare confirm/cancel path.
func (m *Manager) Outstanding(ctx context.Context, userID, sessionID string) (string, error) {
	data, err := m.kv.Get(ctx, sessionKey(userID, sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading pending index: %w", err)
	}
	return string(data), nil
}

// Discard drops a token without executing it, for the cancel path.
func (m *Manager) Discard(ctx context.Context, token string) error {
	action, err := m.Consume(ctx, token)
	if err != nil {
		return err
	}
	m.logger.Debug("discarded pending action",
		"user_id", action.UserID, "intent", action.Intent)
	return nil
}

func decode(data []byte) (*Action, error) {
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("decoding pending action: %w", err)
	}
	if time.Now().UTC().After(action.ExpiresAt) {
		return nil, ErrExpired
	}
	return &action, nil
}

// newToken returns 128 bits of randomness, url-safe encoded.
func newToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf[:]), nil
}

func tokenKey(token string) string {
	return "pend:" + token
}

func sessionKey(userID, sessionID string) string {
	return "pendsess:" + userID + ":" + sessionID
}
