// Package metrics exposes Prometheus metrics for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_cache_results_total",
			Help: "Snapshot cache lookups by domain and outcome.",
		},
		[]string{"domain", "outcome"},
	)

	snapshotBuilds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_builds_total",
			Help: "Snapshot builds by domain and outcome (ok, degraded, fallback).",
		},
		[]string{"domain", "outcome"},
	)

	inferenceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inference_requests_total",
			Help: "Inference calls by domain and outcome.",
		},
		[]string{"domain", "outcome"},
	)

	inferenceLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Latency of inference calls in seconds, including failed ones.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 13), // 5ms to ~20s
		},
		[]string{"domain"},
	)

	providerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weather_provider_failures_total",
			Help: "Failed weather provider fetches by provider.",
		},
		[]string{"provider"},
	)
)

func IncCacheHit(domain string) {
	cacheResults.WithLabelValues(domain, "hit").Inc()
}

func IncCacheMiss(domain string) {
	cacheResults.WithLabelValues(domain, "miss").Inc()
}

func IncSnapshotBuild(domain, outcome string) {
	snapshotBuilds.WithLabelValues(domain, outcome).Inc()
}

func ObserveInference(domain, outcome string, durationSeconds float64) {
	inferenceRequests.WithLabelValues(domain, outcome).Inc()
	inferenceLatencySeconds.WithLabelValues(domain).Observe(durationSeconds)
}

func IncProviderFailure(provider string) {
	providerFailures.WithLabelValues(provider).Inc()
}

// CacheStatsFunc reports the current entry counts of the snapshot cache.
type CacheStatsFunc func() (total, valid, expired int)

// RegisterCacheGauges exposes cache entry counts, sampled at scrape time.
// It must be called at most once per process.
func RegisterCacheGauges(stats CacheStatsFunc) {
	for _, state := range []string{"total", "valid", "expired"} {
		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "snapshot_cache_entries",
				Help:        "Snapshot cache entries by state.",
				ConstLabels: prometheus.Labels{"state": state},
			},
			func() float64 {
				total, valid, expired := stats()
				switch state {
				case "valid":
					return float64(valid)
				case "expired":
					return float64(expired)
				default:
					return float64(total)
				}
			},
		)
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
