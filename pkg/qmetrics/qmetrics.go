// Package qmetrics provides Prometheus instrumentation for the query
// cache: cache hit/miss counters, in-flight fetch gauges, fetch duration
// histograms, registry entry counts and invalidation counters. Grounded
// on this repository's pkg/metrics (same namespacing convention, same
// DefaultRegistry + Handler() exposition pattern), narrowed to the
// query-cache domain instead of HTTP/DB/queue metrics.
package qmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CacheHits counts successful reads from a PersistedStore's blob or
	// granular slots, labeled by the storage driver in use.
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kashvi_query",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total cache hits serving a hydration read.",
		},
		[]string{"driver"},
	)

	// CacheMisses counts reads that found nothing in the PersistedStore.
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kashvi_query",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total cache misses on a hydration read.",
		},
		[]string{"driver"},
	)

	// FetchDuration tracks how long a Query fetchFn call takes, labeled
	// by terminal status ("success" | "error" | "timeout"). InfiniteQuery
	// page fetches are not recorded.
	FetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kashvi_query",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Duration of fetchFn calls in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// InFlightFetches tracks how many Query fetches are currently in
	// flight across every registered entry.
	InFlightFetches = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kashvi_query",
		Subsystem: "fetch",
		Name:      "in_flight",
		Help:      "Number of fetchFn calls currently in flight.",
	})

	// RegistryEntries tracks how many live entries a QueryClient holds,
	// labeled by kind ("query" | "infinite_query"). It is set when
	// UseQuery/UseInfiniteQuery registers an entry and after RemoveQueries;
	// DisposeQuery and DisposeAll do not update it, and mutations are not
	// counted.
	RegistryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kashvi_query",
			Subsystem: "client",
			Name:      "entries",
			Help:      "Live registry entries held by a QueryClient.",
		},
		[]string{"kind"},
	)

	// InvalidationsTotal counts InvalidateQueries calls, labeled by
	// whether a pattern was given ("prefix" | "all").
	InvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kashvi_query",
			Subsystem: "client",
			Name:      "invalidations_total",
			Help:      "Total InvalidateQueries calls.",
		},
		[]string{"scope"},
	)
)

// DefaultRegistry is the Prometheus registry this package's metrics are
// registered against. A host process's own /metrics handler can Gather
// from it directly, or mount Handler() below.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(collectors.NewGoCollector())
	DefaultRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	DefaultRegistry.MustRegister(
		CacheHits,
		CacheMisses,
		FetchDuration,
		InFlightFetches,
		RegistryEntries,
		InvalidationsTotal,
	)
}

// Handler exposes the query-cache metrics on a /metrics-style endpoint.
func Handler() http.HandlerFunc {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true}).ServeHTTP
}

// ObserveFetch records one fetchFn call's duration under status.
func ObserveFetch(status string, start time.Time) {
	FetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

// RecordCacheRead increments the hit or miss counter for driver.
func RecordCacheRead(driver string, hit bool) {
	if hit {
		CacheHits.WithLabelValues(driver).Inc()
		return
	}
	CacheMisses.WithLabelValues(driver).Inc()
}

// SetEntryCount publishes the current registry size for kind.
func SetEntryCount(kind string, n int) {
	RegistryEntries.WithLabelValues(kind).Set(float64(n))
}

// RecordInvalidation increments the invalidation counter for scope.
func RecordInvalidation(scope string) {
	InvalidationsTotal.WithLabelValues(scope).Inc()
}
