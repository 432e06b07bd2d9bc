// ABOUTME: Per-session conversational context with TTL refresh
// ABOUTME: Focus repo/PR, last response, list cursor, and profile over the KV

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/periscope-dev/periscope/internal/kv"
)

// DefaultTTL is the session lifetime when the caller passes zero.
const DefaultTTL = 30 * time.Minute

// Context is what the assistant remembers about one conversation. Cards
// are kept as raw JSON; the command layer owns their shape.
type Context struct {
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id"`
	FocusRepo  string          `json:"focus_repo,omitempty"`
	FocusPR    int             `json:"focus_pr,omitempty"`
	Profile    string          `json:"profile,omitempty"`
	LastSpoken string          `json:"last_spoken,omitempty"`
	LastCards  json.RawMessage `json:"last_cards,omitempty"`
	ListCursor int             `json:"list_cursor"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Store reads and mutates session contexts. Every read and write
// refreshes the TTL. Mutations are read-modify-write; the command router
// serializes commands per session, so no per-key locking happens here.
type Store struct {
	kv     kv.KV
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a session store over the given KV.
func NewStore(store kv.KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		kv:     store,
		ttl:    ttl,
		logger: slog.Default().With("component", "session"),
	}
}

// Get returns the session context, or nil when no session exists.
// Handlers interpret nil as "no prior context".
func (s *Store) Get(ctx context.Context, sessionID string) (*Context, error) {
	data, err := s.kv.Get(ctx, key(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}

	// Reads refresh the TTL too.
	if err := s.kv.Set(ctx, key(sessionID), data, s.ttl); err != nil {
		return nil, fmt.Errorf("refreshing session ttl: %w", err)
	}
	return &sc, nil
}

// SetRepoPR records the conversation's focus repo and PR.
func (s *Store) SetRepoPR(ctx context.Context, userID, sessionID, repo string, pr int) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.FocusRepo = repo
		sc.FocusPR = pr
	})
}

// SetLastResponse records the spoken text and cards of the last reply,
// for the repeat path.
func (s *Store) SetLastResponse(ctx context.Context, userID, sessionID, spoken string, cards json.RawMessage) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.LastSpoken = spoken
		sc.LastCards = cards
	})
}

// SetListCursor records the position in the last listed inbox.
func (s *Store) SetListCursor(ctx context.Context, userID, sessionID string, cursor int) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.ListCursor = cursor
	})
}

// SetProfile persists a profile switch for the rest of the session.
func (s *Store) SetProfile(ctx context.Context, userID, sessionID, profile string) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.Profile = profile
	})
}

// Clear drops the session entirely.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, key(sessionID)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

func (s *Store) mutate(ctx context.Context, userID, sessionID string, fn func(*Context)) error {
	sc, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sc == nil {
		sc = &Context{SessionID: sessionID, UserID: userID}
	}

	fn(sc)
	sc.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, key(sessionID), data, s.ttl); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// userProfileTTL keeps profile switches across sessions. Losing it on KV
// restart just means falling back to the default profile.
const userProfileTTL = 30 * 24 * time.Hour

// SetUserProfile records the user's current profile, independent of any
// one session, so webhook-driven notifications can honor it.
func (s *Store) SetUserProfile(ctx context.Context, userID, profile string) error {
	if err := s.kv.Set(ctx, profileKey(userID), []byte(profile), userProfileTTL); err != nil {
		return fmt.Errorf("writing user profile: %w", err)
	}
	return nil
}

// GetUserProfile returns the user's current profile, or "default" when
// none was ever set.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (string, error) {
	data, err := s.kv.Get(ctx, profileKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return "default", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading user profile: %w", err)
	}
	return string(data), nil
}

func key(sessionID string) string {
	return "sess:" + sessionID
}

func profileKey(userID string) string {
	return "userprof:" + userID
}
