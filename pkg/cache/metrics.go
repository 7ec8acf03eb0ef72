package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks responses served without an origin fetch by source
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochcache_hits_total",
			Help: "Total number of cached responses served",
		},
		[]string{"source"}, // "store", "coalesced"
	)

	// CacheMisses tracks store lookups that found nothing usable
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epochcache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// OriginFetches tracks origin invocations by role
	OriginFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochcache_origin_fetches_total",
			Help: "Total number of origin fetches for cacheable requests",
		},
		[]string{"role"}, // "leader", "fallback"
	)

	// CoalesceFallbacks tracks waiters that got no result from their leader
	CoalesceFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epochcache_coalesce_fallbacks_total",
			Help: "Total number of waiters that timed out or were told to fetch themselves",
		},
	)

	// ValidationRejects tracks origin responses that were served but not stored
	ValidationRejects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epochcache_validation_rejects_total",
			Help: "Total number of origin responses rejected for caching",
		},
	)

	// OversizedResponses tracks origin bodies that passed the body limit
	OversizedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epochcache_oversized_responses_total",
			Help: "Total number of origin responses streamed uncached for exceeding the body limit",
		},
	)

	// PendingKeys tracks keys with an in-flight leader
	PendingKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "epochcache_pending_keys",
			Help: "Number of cache keys with an in-flight origin fetch",
		},
	)

	// CacheWrittenBytes tracks encoded bytes written to the store
	CacheWrittenBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "epochcache_written_bytes_total",
			Help: "Total number of encoded record bytes written to the store",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epochcache_store_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "encode", "decode", "validate"
	)
)
