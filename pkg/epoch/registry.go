// Package epoch implements versioned namespace invalidation. Every cache
// namespace owns a monotonically increasing epoch stored in the shared store;
// embedding the epoch in cache keys makes a bump invalidate the whole
// namespace without deleting anything.
package epoch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/epoch-cache/pkg/store"
)

// DefaultEpoch is the epoch of a namespace that has never been bumped.
const DefaultEpoch uint64 = 1

// Prometheus metrics for epoch tracking.
var (
	epochBumpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epochcache_epoch_bumps_total",
		Help: "Total number of namespace epoch bumps by result",
	}, []string{"result"})

	epochStoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "epochcache_epoch_store_errors_total",
		Help: "Total number of epoch store failures by operation",
	}, []string{"operation"})
)

// Config holds registry configuration.
type Config struct {
	// KeyPrefix namespaces epoch counters in the store ("epoch" -> "epoch:items").
	KeyPrefix string

	// MemoWindow bounds how long a process trusts its local copy of an epoch.
	// Invalidations from other processes become visible after at most this long.
	MemoWindow time.Duration
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "epoch",
		MemoWindow: 3 * time.Second,
	}
}

type memo struct {
	value     uint64
	fetchedAt time.Time
}

// Registry holds the current epoch per namespace. It never returns an error:
// when the store is unreachable it serves the last value it knew.
type Registry struct {
	store  store.Store
	config Config
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	memos map[string]memo
}

// NewRegistry creates a registry backed by s.
func NewRegistry(s store.Store, cfg Config, logger zerolog.Logger) *Registry {
	if s == nil {
		panic("store cannot be nil")
	}
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.MemoWindow <= 0 {
		cfg.MemoWindow = def.MemoWindow
	}
	return &Registry{
		store:  s,
		config: cfg,
		logger: logger,
		now:    time.Now,
		memos:  make(map[string]memo),
	}
}

// SetClock replaces the time source (for testing).
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Key returns the store key holding the epoch of namespace.
func (r *Registry) Key(namespace string) string {
	return r.config.KeyPrefix + ":" + namespace
}

// Get returns the current epoch of namespace.
// A memo younger than MemoWindow is returned without a store round-trip.
// A missing counter is initialized to DefaultEpoch with SETNX.
func (r *Registry) Get(ctx context.Context, namespace string) uint64 {
	last, fresh := r.lookupMemo(namespace)
	if fresh {
		return last
	}

	key := r.Key(namespace)
	raw, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrMiss) {
		raw, err = r.initialize(ctx, key)
	}
	if err != nil {
		epochStoreErrorsTotal.WithLabelValues("get").Inc()
		r.logger.Warn().Err(err).
			Str("namespace", namespace).
			Uint64("epoch", last).
			Msg("Epoch read failed, using last known value")
		return last
	}

	value, ok := parseEpoch(raw)
	if !ok {
		value = r.reset(ctx, namespace, raw)
		r.setMemo(namespace, value)
		return value
	}

	r.storeMemo(namespace, value)
	return value
}

// Bump increments the epoch of namespace and returns the new value.
// The local memo is updated immediately so this process never reads the
// previous epoch again. On store failure the prior value is returned and the
// invalidation is lost; the write path that called Bump is not failed.
func (r *Registry) Bump(ctx context.Context, namespace string) uint64 {
	key := r.Key(namespace)

	// INCR on a missing key yields 1, which is already the implicit epoch.
	if _, err := r.store.SetIfAbsent(ctx, key, formatEpoch(DefaultEpoch)); err != nil {
		return r.bumpFailed(namespace, err)
	}
	next, err := r.store.Increment(ctx, key)
	// A valid counter is at least DefaultEpoch before INCR, so anything at or
	// below it afterwards was zero, negative or not a number.
	corrupt := errors.Is(err, store.ErrNotInteger) || (err == nil && next <= int64(DefaultEpoch))
	if corrupt {
		next, err = r.resetAndIncrement(ctx, namespace, next, err)
	}
	if err != nil {
		return r.bumpFailed(namespace, err)
	}

	value := uint64(next)
	if corrupt {
		r.setMemo(namespace, value)
	} else {
		r.storeMemo(namespace, value)
	}
	epochBumpsTotal.WithLabelValues("ok").Inc()

	r.logger.Debug().
		Str("namespace", namespace).
		Uint64("epoch", value).
		Msg("Epoch bumped")

	return value
}

// Flush resets the epoch of namespace to DefaultEpoch.
//
// Records written under the previous epoch 1 become reachable again until
// their TTL expires, so flushing is meant for full cache resets together with
// clearing the record store.
func (r *Registry) Flush(ctx context.Context, namespace string) uint64 {
	if err := r.store.Set(ctx, r.Key(namespace), formatEpoch(DefaultEpoch)); err != nil {
		epochStoreErrorsTotal.WithLabelValues("flush").Inc()
		last, _ := r.lookupMemo(namespace)
		r.logger.Warn().Err(err).
			Str("namespace", namespace).
			Msg("Epoch flush failed")
		return last
	}

	r.setMemo(namespace, DefaultEpoch)
	r.logger.Info().Str("namespace", namespace).Msg("Epoch flushed")
	return DefaultEpoch
}

func (r *Registry) initialize(ctx context.Context, key string) ([]byte, error) {
	created, err := r.store.SetIfAbsent(ctx, key, formatEpoch(DefaultEpoch))
	if err != nil {
		return nil, err
	}
	if created {
		return formatEpoch(DefaultEpoch), nil
	}
	// Another process initialized or bumped it between GET and SETNX.
	return r.store.Get(ctx, key)
}

// reset overwrites an unparsable counter with DefaultEpoch.
func (r *Registry) reset(ctx context.Context, namespace string, raw []byte) uint64 {
	r.logger.Warn().
		Str("namespace", namespace).
		Str("raw", string(raw)).
		Msg("Invalid epoch in store, resetting to default")

	if err := r.store.Set(ctx, r.Key(namespace), formatEpoch(DefaultEpoch)); err != nil {
		epochStoreErrorsTotal.WithLabelValues("reset").Inc()
		r.logger.Warn().Err(err).Str("namespace", namespace).Msg("Epoch reset failed")
	}
	return DefaultEpoch
}

// resetAndIncrement recovers a bump that hit a corrupt counter: the counter is
// reset to DefaultEpoch and incremented again, so the bump still moves the
// namespace past the default epoch.
func (r *Registry) resetAndIncrement(ctx context.Context, namespace string, got int64, incrErr error) (int64, error) {
	epochStoreErrorsTotal.WithLabelValues("parse").Inc()
	event := r.logger.Warn().Str("namespace", namespace)
	if incrErr != nil {
		event = event.Err(incrErr)
	} else {
		event = event.Int64("incremented", got)
	}
	event.Msg("Invalid epoch in store during bump, resetting to default")

	key := r.Key(namespace)
	if err := r.store.Set(ctx, key, formatEpoch(DefaultEpoch)); err != nil {
		return 0, err
	}
	return r.store.Increment(ctx, key)
}

func (r *Registry) bumpFailed(namespace string, err error) uint64 {
	epochStoreErrorsTotal.WithLabelValues("bump").Inc()
	epochBumpsTotal.WithLabelValues("failed").Inc()

	last, _ := r.lookupMemo(namespace)
	r.logger.Warn().Err(err).
		Str("namespace", namespace).
		Uint64("epoch", last).
		Msg("Epoch bump failed, cached reads may stay stale until TTL expiry")
	return last
}

// lookupMemo returns the memoized epoch (DefaultEpoch if none) and whether
// it is still inside the memo window.
func (r *Registry) lookupMemo(namespace string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memos[namespace]
	if !ok {
		return DefaultEpoch, false
	}
	return m.value, r.now().Sub(m.fetchedAt) < r.config.MemoWindow
}

func (r *Registry) storeMemo(namespace string, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Concurrent readers may race a bump; never move the memo backwards
	// within a window.
	if m, ok := r.memos[namespace]; ok && m.value > value && r.now().Sub(m.fetchedAt) < r.config.MemoWindow {
		return
	}
	r.memos[namespace] = memo{value: value, fetchedAt: r.now()}
}

func (r *Registry) setMemo(namespace string, value uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memos[namespace] = memo{value: value, fetchedAt: r.now()}
}

func parseEpoch(raw []byte) (uint64, bool) {
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return v, true
}

func formatEpoch(v uint64) []byte {
	return []byte(strconv.FormatUint(v, 10))
}
