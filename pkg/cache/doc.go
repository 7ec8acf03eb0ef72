// Package cache provides a versioned HTTP response cache with request
// coalescing in front of read routes.
//
// The coordinator implements the following features:
//
// - Versioned invalidation: every key embeds its namespace epoch, so bumping
// the epoch makes the whole namespace unreachable at once
// - Stampede protection: concurrent misses for one key share a single origin fetch
// - Validated write-back: only well-formed success bodies are stored
// - Fail-open: a broken or unreachable store never fails a request
// - Prometheus metrics for observability
// - Deterministic cache key generation
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create coordinator
//	coordinator := cache.New(store.NewRedis(redisClient), cache.DefaultConfig(), logger)
//	defer coordinator.Close()
//
//	// Cache a read route for one minute
//	mux.Handle("/items", coordinator.Wrap(itemsHandler, time.Minute))
//
//	// Invalidate the "items" namespace after successful writes
//	mux.Handle("/items/", coordinator.Invalidate(itemsWriteHandler))
//
// # Cache Keys
//
// Keys have the form v{epoch}:{method}:{path}?{sorted query}, for example
//
//	v3:GET:/items?a=1&b=2
//
// and are stored as {prefix}:{namespace}:{key}. Query parameter order does
// not matter. The path is used in its escaped form and query names and
// values are query-escaped, so encoded separators never merge two requests.
//
// # Invalidation
//
//	// After a successful mutation
//	coordinator.BumpEpoch(ctx, "orders")
//
//	// Full reset
//	coordinator.FlushNamespace(ctx, "orders")
//
// Each process memoizes epochs for a short window (3s by default), so a bump
// from another process becomes visible within that window.
//
// # Metrics
//
// The coordinator exports Prometheus metrics:
//
//   - epochcache_hits_total{source} - Responses served from the store or a leader
//   - epochcache_misses_total - Cache misses
//   - epochcache_origin_fetches_total{role} - Origin fetches by leaders and fallbacks
//   - epochcache_coalesce_fallbacks_total - Waiters that fetched on their own
//   - epochcache_validation_rejects_total - Responses served but not stored
//   - epochcache_oversized_responses_total - Bodies over MaxBodyBytes, streamed uncached
//   - epochcache_pending_keys - Keys with an in-flight origin fetch
//   - epochcache_store_errors_total{operation} - Cache operation errors
package cache
