// Package metrics registers the Prometheus collectors exported by the
// recommendation engine. Collectors are registered on the default registry so
// the serving binary only needs to mount promhttp.Handler to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CycleDuration observes how long one full recommendation cycle takes,
	// partitioned by the detected emotion label.
	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emotionbeats",
		Name:      "recommendation_cycle_seconds",
		Help:      "Duration of a full recommendation cycle.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"emotion"})

	// UpstreamRetries counts catalog query retries after backoff.
	UpstreamRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emotionbeats",
		Name:      "catalog_retries_total",
		Help:      "Catalog queries retried after a rate limit or timeout.",
	})

	// RateLimitHits counts explicit rate-limit signals from the catalog.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emotionbeats",
		Name:      "catalog_rate_limit_hits_total",
		Help:      "Rate-limit responses received from the catalog API.",
	})

	// UpstreamFailures counts fetches that ended with a partial or empty
	// candidate set because the catalog stayed unavailable through retries.
	UpstreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emotionbeats",
		Name:      "catalog_failures_total",
		Help:      "Fetches that exhausted retries against the catalog API.",
	})

	// Shortfalls counts ranking passes that produced fewer tracks than
	// requested after hard exclusions.
	Shortfalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emotionbeats",
		Name:      "ranking_shortfalls_total",
		Help:      "Ranking passes returning fewer than the requested top_k.",
	})

	// DroppedSignalFields counts extractor output fields dropped during
	// preference normalization.
	DroppedSignalFields = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "emotionbeats",
		Name:      "preference_fields_dropped_total",
		Help:      "Raw preference signal fields dropped as invalid.",
	})
)
