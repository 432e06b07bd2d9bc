// ABOUTME: Redis-backed KV implementation with native TTL and GETDEL consume
// ABOUTME: Backend failures surface as ErrTransient so callers can degrade

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the network KV variant. TTL and atomic consume are native:
// SET with expiry and GETDEL respectively.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the network KV.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces all keys, e.g. "periscope:".
	Prefix string
}

// NewRedis creates a Redis-backed KV. The connection is lazy; the first
// operation surfaces connectivity problems as ErrTransient.
func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: client, prefix: opts.Prefix}
}

// NewRedisWithClient wraps an existing client. Used by tests with miniredis.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string { return r.prefix + k }

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transient(err)
	}
	return val, nil
}

func (r *Redis) ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.GetDel(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, transient(err)
	}
	return val, true, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return transient(err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
