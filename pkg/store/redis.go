package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on top of a go-redis client.
type Redis struct {
	client      redis.UniversalClient
	closeClient bool
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed store. The caller keeps ownership of the
// client; Close does not close it.
func NewRedis(client redis.UniversalClient) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{client: client}
}

// NewOwnedRedis creates a Redis-backed store that closes client on Close.
func NewOwnedRedis(client redis.UniversalClient) *Redis {
	r := NewRedis(client)
	r.closeClient = true
	return r
}

// Get retrieves the raw value for key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, unavailable("get", err)
	}
	return data, nil
}

// SetWithTTL stores value with an expiry. Redis removes the key once ttl elapses.
func (r *Redis) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w (got %v)", ErrInvalidTTL, ttl)
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Set stores value without expiry.
func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return unavailable("set", err)
	}
	return nil
}

// Increment runs INCR, which is atomic on the server.
func (r *Redis) Increment(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) && strings.Contains(rerr.Error(), "not an integer") {
			return 0, fmt.Errorf("%w: %s: %v", ErrNotInteger, key, err)
		}
		return 0, unavailable("incr", err)
	}
	return v, nil
}

// SetIfAbsent runs SETNX without expiry.
func (r *Redis) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, unavailable("setnx", err)
	}
	return ok, nil
}

// Ping checks that Redis answers.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying client only when this store owns it.
// Repeated calls are no-ops.
func (r *Redis) Close() error {
	if !r.closeClient {
		return nil
	}
	if err := r.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %v", ErrUnavailable, op, err)
}
