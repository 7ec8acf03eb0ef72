package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/epoch-cache/pkg/coalesce"
	"github.com/Sternrassler/epoch-cache/pkg/epoch"
	"github.com/Sternrassler/epoch-cache/pkg/store"
)

const (
	// DefaultLockTimeout bounds how long a waiter follows a leader before
	// fetching on its own.
	DefaultLockTimeout = 3 * time.Second

	// DefaultTTL is used when a route is wrapped with a non-positive TTL.
	DefaultTTL = 60 * time.Second

	// DefaultWriteTimeout bounds a background record write.
	DefaultWriteTimeout = 2 * time.Second

	// DefaultMaxBodyBytes caps the origin body a leader buffers for caching.
	DefaultMaxBodyBytes = 4 << 20

	// recordOverhead is the encoded-record allowance for headers and
	// metadata on top of the body limit.
	recordOverhead = 64 << 10

	// RootNamespace is the namespace of requests to "/".
	RootNamespace = "root"
)

// NamespaceFunc maps a request to its cache namespace.
type NamespaceFunc func(r *http.Request) string

// PathNamespace uses the first path segment as namespace:
// "/orders/42?x=1" -> "orders".
func PathNamespace(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return RootNamespace
	}
	return path
}

// Config holds coordinator configuration.
type Config struct {
	// LockTimeout bounds how long a waiter can be stalled by a slow leader.
	LockTimeout time.Duration

	// DefaultTTL applies to routes wrapped with ttl <= 0.
	DefaultTTL time.Duration

	// WriteTimeout bounds each fire-and-forget store write.
	WriteTimeout time.Duration

	// MaxBodyBytes caps the origin body buffered for caching. Larger bodies
	// are streamed to the client uncached and waiters fetch on their own.
	MaxBodyBytes int64

	// KeyPrefix prefixes record keys in the store: {prefix}:{namespace}:{key}.
	KeyPrefix string

	// Namespace derives the namespace of requests handled by Wrap and Invalidate.
	Namespace NamespaceFunc

	// Validator decides which bodies are cached.
	Validator ResponseValidator

	// Codec serializes records.
	Codec Codec

	// Epoch configures the namespace epoch registry.
	Epoch epoch.Config
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		LockTimeout:  DefaultLockTimeout,
		DefaultTTL:   DefaultTTL,
		WriteTimeout: DefaultWriteTimeout,
		MaxBodyBytes: DefaultMaxBodyBytes,
		KeyPrefix:    "cache",
		Namespace:    PathNamespace,
		Validator:    NewValidator(),
		Codec:        JSONCodec{},
		Epoch:        epoch.DefaultConfig(),
	}
}

// Coordinator caches read responses in a shared store. It coalesces
// concurrent misses for the same key into one origin fetch, stores only
// validated responses and degrades to the uncached path whenever the store
// misbehaves.
type Coordinator struct {
	store   store.Store
	epochs  *epoch.Registry
	pending *coalesce.Coalescer[Record]
	codec   Codec
	config  Config
	logger  zerolog.Logger

	writes sync.WaitGroup
}

// New creates a coordinator. Zero fields of cfg take their DefaultConfig value.
func New(s store.Store, cfg Config, logger zerolog.Logger) *Coordinator {
	if s == nil {
		panic("store cannot be nil")
	}

	def := DefaultConfig()
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.Namespace == nil {
		cfg.Namespace = def.Namespace
	}
	if cfg.Validator == nil {
		cfg.Validator = def.Validator
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}

	return &Coordinator{
		store:   s,
		epochs:  epoch.NewRegistry(s, cfg.Epoch, logger),
		pending: coalesce.New[Record](),
		codec:   recordCodec(cfg),
		config:  cfg,
		logger:  logger,
	}
}

// Epochs returns the namespace epoch registry.
func (c *Coordinator) Epochs() *epoch.Registry {
	return c.epochs
}

// Wrap caches the GET responses of origin for ttl, deriving the namespace
// from each request.
func (c *Coordinator) Wrap(origin http.Handler, ttl time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Handle(w, r, c.config.Namespace(r), origin, ttl)
	})
}

// WrapNamespace is Wrap with a fixed namespace.
func (c *Coordinator) WrapNamespace(namespace string, origin http.Handler, ttl time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.Handle(w, r, namespace, origin, ttl)
	})
}

// Handle serves one request through the cache.
//
// Non-GET requests go straight to origin. A GET is answered from the store
// when possible; otherwise the first request for the key fetches from origin
// while concurrent requests for the same key wait up to LockTimeout for its
// result, then fall back to fetching on their own.
func (c *Coordinator) Handle(w http.ResponseWriter, r *http.Request, namespace string, origin http.Handler, ttl time.Duration) {
	if r.Method != http.MethodGet {
		w.Header().Set(HeaderCacheStatus, StatusBypass)
		origin.ServeHTTP(w, r)
		return
	}
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}

	ctx := r.Context()
	ep := c.epochs.Get(ctx, namespace)
	key := c.recordKey(namespace, BuildKey(r.Method, r.URL.EscapedPath(), r.URL.Query(), ep))

	if rec, ok := c.lookup(ctx, key); ok {
		CacheHits.WithLabelValues("store").Inc()
		c.logger.Debug().Str("key", key).Msg("Cache hit")
		c.reply(w, rec, StatusHit)
		return
	}
	CacheMisses.Inc()

	if c.pending.TryBecomeLeader(key) {
		c.lead(w, r, key, origin, ttl)
		return
	}
	c.follow(w, r, key, origin)
}

// BumpEpoch invalidates every cached read of namespace and returns the new
// epoch. Write paths call it right after a successful mutation.
func (c *Coordinator) BumpEpoch(ctx context.Context, namespace string) uint64 {
	return c.epochs.Bump(ctx, namespace)
}

// FlushNamespace resets the epoch of namespace to its initial value.
func (c *Coordinator) FlushNamespace(ctx context.Context, namespace string) uint64 {
	return c.epochs.Flush(ctx, namespace)
}

// Close waits for in-flight background writes.
func (c *Coordinator) Close() {
	c.writes.Wait()
}

// lead fetches from origin on behalf of every request waiting for key.
func (c *Coordinator) lead(w http.ResponseWriter, r *http.Request, key string, origin http.Handler, ttl time.Duration) {
	PendingKeys.Inc()

	var (
		once   sync.Once
		result *Record
	)
	release := func() {
		once.Do(func() {
			c.pending.NotifyAndClear(key, result)
			PendingKeys.Dec()
		})
	}
	// Registered before origin runs: a panicking origin still releases the
	// waiters (with no result) and the panic continues to the caller.
	defer release()

	iw := NewInterceptWriter(w, func(rec *Record) {
		if c.cacheable(rec) {
			result = rec
			c.persist(key, rec, ttl)
		} else {
			ValidationRejects.Inc()
			c.logger.Debug().
				Str("key", key).
				Int("status_code", rec.StatusCode).
				Msg("Response not cacheable")
		}
		release()
	})

	iw.SetLimit(c.config.MaxBodyBytes, StatusMiss, func() {
		OversizedResponses.Inc()
		c.logger.Debug().
			Str("key", key).
			Int64("max_body_bytes", c.config.MaxBodyBytes).
			Msg("Response exceeds body limit, streaming uncached")
		release()
	})

	OriginFetches.WithLabelValues("leader").Inc()
	origin.ServeHTTP(iw, r)

	if err := iw.Send(StatusMiss); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Failed to write response")
	}
}

// follow waits for the leader of key, then re-checks the store, then
// fetches from origin directly. The fallback fetch is never stored and never
// takes over leadership.
func (c *Coordinator) follow(w http.ResponseWriter, r *http.Request, key string, origin http.Handler) {
	ctx := r.Context()

	if rec, ok := c.pending.Wait(ctx, key, c.config.LockTimeout); ok {
		CacheHits.WithLabelValues("coalesced").Inc()
		c.reply(w, rec, StatusCoalesced)
		return
	}
	CoalesceFallbacks.Inc()

	if rec, ok := c.lookup(ctx, key); ok {
		CacheHits.WithLabelValues("store").Inc()
		c.reply(w, rec, StatusHit)
		return
	}

	c.logger.Debug().Str("key", key).Msg("No result from leader, fetching from origin")
	OriginFetches.WithLabelValues("fallback").Inc()
	w.Header().Set(HeaderCacheStatus, StatusMiss)
	origin.ServeHTTP(w, r)
}

// lookup reads and decodes a record. Every failure is a miss.
func (c *Coordinator) lookup(ctx context.Context, key string) (*Record, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache get error, serving from origin")
		}
		return nil, false
	}

	rec, err := c.codec.Decode(data)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache record")
		return nil, false
	}
	return rec, true
}

// cacheable reports whether rec may be stored. A panicking validator counts
// as a rejection.
func (c *Coordinator) cacheable(rec *Record) (ok bool) {
	if rec.StatusCode != http.StatusOK {
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			CacheErrors.WithLabelValues("validate").Inc()
			c.logger.Error().Interface("panic", p).Msg("Response validator panicked")
			ok = false
		}
	}()
	return c.config.Validator.ShouldCache(rec.Body)
}

// persist writes rec in the background. Failures are logged, never returned.
func (c *Coordinator) persist(key string, rec *Record, ttl time.Duration) {
	data, err := c.codec.Encode(rec)
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to encode cache record")
		return
	}

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.config.WriteTimeout)
		defer cancel()

		if err := c.store.SetWithTTL(ctx, key, data, ttl); err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache response")
			return
		}

		CacheWrittenBytes.Add(float64(len(data)))
		c.logger.Debug().
			Str("key", key).
			Dur("ttl", ttl).
			Msg("Cached response")
	}()
}

func (c *Coordinator) reply(w http.ResponseWriter, rec *Record, cacheStatus string) {
	if err := writeRecord(w, rec, cacheStatus); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write cached response")
	}
}

// recordCodec bounds stored records by the body limit, so an oversized or
// tampered record is never decoded.
func recordCodec(cfg Config) Codec {
	return LimitCodec{
		Inner:   cfg.Codec,
		MaxSize: int(2*cfg.MaxBodyBytes) + recordOverhead,
	}
}

func (c *Coordinator) recordKey(namespace, key string) string {
	return c.config.KeyPrefix + ":" + namespace + ":" + key
}
