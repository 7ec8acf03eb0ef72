package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRedis(client)
}

func TestNewRedis_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRedis(nil) })
}

func TestRedis_GetMiss(t *testing.T) {
	_, s := setupMiniredis(t)

	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_SetWithTTLAndGet(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte(`{"items":[]}`), time.Minute))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"items":[]}`, string(got))
	assert.Equal(t, time.Minute, mr.TTL("k"))
}

func TestRedis_RecordExpires(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "short", []byte("[]"), time.Second))
	mr.FastForward(1500 * time.Millisecond)

	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_SetWithTTL_RejectsNonPositive(t *testing.T) {
	_, s := setupMiniredis(t)

	for _, ttl := range []time.Duration{0, -time.Second} {
		err := s.SetWithTTL(context.Background(), "k", []byte("x"), ttl)
		assert.ErrorIs(t, err, ErrInvalidTTL)
	}
}

func TestRedis_IncrementAndSetIfAbsent(t *testing.T) {
	_, s := setupMiniredis(t)
	ctx := context.Background()

	ok, err := s.SetIfAbsent(ctx, "epoch:items", []byte("1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, "epoch:items", []byte("7"))
	require.NoError(t, err)
	assert.False(t, ok, "second SETNX must not overwrite")

	v, err := s.Increment(ctx, "epoch:items")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	require.NoError(t, s.Set(ctx, "epoch:items", []byte("1")))
	got, err := s.Get(ctx, "epoch:items")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestRedis_IncrementNotInteger(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("epoch:items", "garbage"))

	_, err := s.Increment(ctx, "epoch:items")

	assert.ErrorIs(t, err, ErrNotInteger)
	assert.NotErrorIs(t, err, ErrUnavailable, "a corrupt counter is not an outage")
}

func TestRedis_Unavailable(t *testing.T) {
	mr, s := setupMiniredis(t)
	ctx := context.Background()
	mr.SetError("ERR simulated outage")

	_, err := s.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrUnavailable), "get: %v", err)

	err = s.SetWithTTL(ctx, "k", []byte("x"), time.Second)
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.Increment(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = s.SetIfAbsent(ctx, "k", []byte("1"))
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.ErrorIs(t, s.Ping(ctx), ErrUnavailable)
}

func TestRedis_CloseOwnership(t *testing.T) {
	mr := miniredis.RunT(t)

	borrowed := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer borrowed.Close()
	require.NoError(t, NewRedis(borrowed).Close())
	assert.NoError(t, borrowed.Ping(context.Background()).Err(), "borrowed client must stay open")

	owned := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewOwnedRedis(owned)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Error(t, owned.Ping(context.Background()).Err())
}
