// Package store defines the shared key-value store used by the response cache
// and provides its Redis implementation.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrMiss indicates the requested key does not exist in the store.
	ErrMiss = errors.New("store: key not found")

	// ErrUnavailable wraps every transport or server failure. Callers treat it
	// as a signal to bypass the cache rather than fail the request.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotInteger is returned by Increment when the stored value is not an
	// integer counter.
	ErrNotInteger = errors.New("store: value is not an integer")

	// ErrInvalidTTL is returned when a record would be written without expiry.
	ErrInvalidTTL = errors.New("store: ttl must be positive")
)

// Store is the key-value contract the cache coordinator depends on.
// Implementations must be safe for concurrent use. Connectivity and retries
// are the implementation's concern.
type Store interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key, expiring after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Set stores value under key without expiry.
	Set(ctx context.Context, key string, value []byte) error

	// Increment atomically increments the integer counter at key and returns
	// the new value. A missing key counts from zero. A value that is not an
	// integer yields ErrNotInteger.
	Increment(ctx context.Context, key string) (int64, error)

	// SetIfAbsent stores value only when key does not exist yet.
	// Reports whether the write happened.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
