// ABOUTME: KV interface and errors for TTL-aware byte storage with atomic consume
// ABOUTME: Backs pending actions, session contexts, and the idempotency cache

package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// ErrTransient indicates the backend is unavailable. Callers may degrade
// to the in-process variant.
var ErrTransient = errors.New("kv backend unavailable")

// KV is a mapping from string keys to byte values with absolute TTL.
// All implementations must provide the same semantics:
//
//   - Set overwrites any existing value and resets the TTL.
//   - Get returns ErrNotFound for absent or expired keys.
//   - ConsumeIfPresent atomically reads and removes a key; at most one
//     concurrent caller observes existed=true for a given key.
//
// Durability is not required. Losing contents on restart degrades pending
// actions and session contexts to "must re-issue".
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
