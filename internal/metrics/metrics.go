// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerDiscussionsTotal         *prometheus.CounterVec
	crawlerPostBatchesTotal         *prometheus.CounterVec
	crawlerPostsStoredTotal         prometheus.Counter
	upstreamRequestDurationSeconds  *prometheus.HistogramVec
	crawlerActiveWorkers            prometheus.Gauge
	crawlerListingPagesTotal        *prometheus.CounterVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		crawlerDiscussionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_discussions_total",
				Help: "Discussions processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlerPostBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_post_batches_total",
				Help: "Post batch fetches, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerPostsStoredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_posts_stored_total",
				Help: "Posts written to storage.",
			},
		)

		upstreamRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_upstream_request_duration_seconds",
				Help:    "Latency of upstream API requests, labeled by endpoint and status.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"endpoint", "status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Workers currently processing a discussion.",
			},
		)

		crawlerListingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_listing_pages_total",
				Help: "Index listing pages fetched, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDiscussion counts a processed discussion by outcome
// (success, partial, impossible, failed).
func ObserveDiscussion(outcome string) {
	if crawlerDiscussionsTotal != nil {
		crawlerDiscussionsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObservePostBatch counts a post batch fetch by result (ok, failed).
func ObservePostBatch(result string) {
	if crawlerPostBatchesTotal != nil {
		crawlerPostBatchesTotal.WithLabelValues(result).Inc()
	}
}

// ObservePostsStored counts posts written durably.
func ObservePostsStored(n int) {
	if crawlerPostsStoredTotal != nil && n > 0 {
		crawlerPostsStoredTotal.Add(float64(n))
	}
}

// ObserveUpstreamRequest records the latency of one upstream API call.
func ObserveUpstreamRequest(endpoint, status string, duration time.Duration) {
	if upstreamRequestDurationSeconds != nil {
		upstreamRequestDurationSeconds.WithLabelValues(endpoint, status).Observe(duration.Seconds())
	}
}

// ObserveListingPage counts an index page fetch by result (ok, failed).
func ObserveListingPage(result string) {
	if crawlerListingPagesTotal != nil {
		crawlerListingPagesTotal.WithLabelValues(result).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Dec()
	}
}
