// Package metrics holds the Prometheus instrumentation of the proxy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routing outcomes.
const (
	OutcomePrimary   = "primary"
	OutcomeSecondary = "secondary"
	OutcomeDefault   = "default"
	OutcomeCancelled = "cancelled"
)

var (
	// routedRequests counts routed editor requests.
	// Labels: method, outcome (primary, secondary, default, cancelled)
	routedRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedlsp",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Routed editor requests by method and answering side",
	}, []string{"method", "outcome"})

	routeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "embedlsp",
		Subsystem: "router",
		Name:      "latency_seconds",
		Help:      "Time from receiving a routed request to answering it",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method"})

	// rangeFetches counts partition requests.
	// Labels: result (ok, absent, error, invalid)
	rangeFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedlsp",
		Subsystem: "ranges",
		Name:      "fetches_total",
		Help:      "Language range fetches by result",
	}, []string{"result"})

	staleWaits = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "embedlsp",
		Subsystem: "vdoc",
		Name:      "stale_wait_seconds",
		Help:      "Time spent waiting for a stale virtual document to refresh",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	})

	openVirtualDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "embedlsp",
		Subsystem: "host",
		Name:      "open_virtual_documents",
		Help:      "Virtual documents currently open on the secondary backend",
	})

	partitionCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "embedlsp",
		Subsystem: "partition",
		Name:      "cache_total",
		Help:      "Local partition cache lookups by result",
	}, []string{"result"})
)

// ObserveRoute records one routed request.
func ObserveRoute(method, outcome string, start time.Time) {
	routedRequests.WithLabelValues(method, outcome).Inc()
	routeLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func RangeFetch(result string) {
	rangeFetches.WithLabelValues(result).Inc()
}

func StaleWait(d time.Duration) {
	staleWaits.Observe(d.Seconds())
}

func VirtualDocumentOpened() { openVirtualDocuments.Inc() }
func VirtualDocumentClosed() { openVirtualDocuments.Dec() }

// PartitionCache records a cache hit (true) or miss (false).
func PartitionCache(hit bool) {
	if hit {
		partitionCache.WithLabelValues("hit").Inc()
		return
	}
	partitionCache.WithLabelValues("miss").Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
