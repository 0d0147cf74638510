// Package metrics registers the Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by route pattern and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secscore",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"route", "status"})

	// RequestDuration observes HTTP request latency by route pattern.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "secscore",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// UpstreamFailures counts failed upstream fetches by source.
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secscore",
		Name:      "upstream_failures_total",
		Help:      "Failed upstream fetches by source.",
	}, []string{"source"})

	// CacheHits counts response cache hits by key kind.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secscore",
		Name:      "cache_hits_total",
		Help:      "Response cache hits by key kind.",
	}, []string{"kind"})

	// CacheMisses counts response cache misses by key kind.
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secscore",
		Name:      "cache_misses_total",
		Help:      "Response cache misses by key kind.",
	}, []string{"kind"})

	// KEVRefreshes counts KEV refresh attempts by outcome.
	KEVRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "secscore",
		Name:      "kev_refreshes_total",
		Help:      "KEV catalog refresh attempts by outcome (changed, unchanged, failed).",
	}, []string{"outcome"})
)
