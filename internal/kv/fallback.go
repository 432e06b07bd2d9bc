// ABOUTME: Fallback KV that degrades from a network backend to the in-process one
// ABOUTME: Engaged only when the primary reports ErrTransient

package kv

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Fallback wraps a primary (network) KV and degrades individual operations
// to an in-process Memory KV when the primary is unavailable. Keys written
// during degradation live only in memory, which matches the KV contract:
// contents may be lost and callers re-issue.
type Fallback struct {
	primary KV
	local   *Memory
	logger  *slog.Logger
}

// NewFallback wraps primary with an in-process fallback.
func NewFallback(primary KV) *Fallback {
	return &Fallback{
		primary: primary,
		local:   NewMemory(),
		logger:  slog.Default().With("component", "kv"),
	}
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if errors.Is(err, ErrTransient) {
		f.logger.Warn("kv backend unavailable, using in-process fallback", "op", "set", "error", err)
		return f.local.Set(ctx, key, value, ttl)
	}
	return err
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := f.primary.Get(ctx, key)
	if errors.Is(err, ErrTransient) {
		return f.local.Get(ctx, key)
	}
	if errors.Is(err, ErrNotFound) {
		// The key may have been written while degraded.
		if local, lerr := f.local.Get(ctx, key); lerr == nil {
			return local, nil
		}
	}
	return val, err
}

func (f *Fallback) ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	val, existed, err := f.primary.ConsumeIfPresent(ctx, key)
	if errors.Is(err, ErrTransient) {
		return f.local.ConsumeIfPresent(ctx, key)
	}
	if err == nil && !existed {
		return f.local.ConsumeIfPresent(ctx, key)
	}
	return val, existed, err
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	_ = f.local.Delete(ctx, key)
	err := f.primary.Delete(ctx, key)
	if errors.Is(err, ErrTransient) {
		return nil
	}
	return err
}

func (f *Fallback) Close() error {
	_ = f.local.Close()
	return f.primary.Close()
}
