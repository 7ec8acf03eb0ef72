// Package metrics provides the Prometheus registry and scrape handler for the
// response cache. All metrics are defined in their respective packages
// (cache, epoch) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the cache.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the scrape handler for Registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - epochcache_hits_total{source="store|coalesced"} (Counter): Requests answered without an origin fetch
//   - epochcache_misses_total (Counter): Store lookups that found no usable record
//   - epochcache_origin_fetches_total{role="leader|fallback"} (Counter): Origin fetches by coalescing role
//   - epochcache_coalesce_fallbacks_total (Counter): Waiters that got no result from their leader
//   - epochcache_validation_rejects_total (Counter): Origin responses not stored
//   - epochcache_oversized_responses_total (Counter): Origin bodies streamed uncached for exceeding the body limit
//   - epochcache_pending_keys (Gauge): Keys with a leader fetch in flight
//   - epochcache_written_bytes_total (Counter): Encoded record bytes written to the store
//   - epochcache_store_errors_total{operation} (Counter): Store, codec and validator failures
//
// Epoch Metrics (pkg/epoch):
//   - epochcache_epoch_bumps_total{result="ok|failed"} (Counter): Namespace invalidations
//   - epochcache_epoch_store_errors_total{operation} (Counter): Epoch reads and writes that failed
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(epochcache_hits_total[5m])) /
//   (sum(rate(epochcache_hits_total[5m])) + sum(rate(epochcache_misses_total[5m])))
//
//   # Coalescing Efficiency (share of misses served by a leader)
//   sum(rate(epochcache_hits_total{source="coalesced"}[5m])) / sum(rate(epochcache_misses_total[5m]))
//
//   # Store Degradation
//   sum by (operation) (rate(epochcache_store_errors_total[5m]))
//
//   # Invalidation Rate
//   rate(epochcache_epoch_bumps_total{result="ok"}[5m])
