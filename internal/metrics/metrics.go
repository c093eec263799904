// Package metrics exposes Prometheus collectors for the harvester.
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
	searchPagesTotal      *prometheus.CounterVec
	listingsScrapedTotal  prometheus.Counter
	listingsSkippedTotal  *prometheus.CounterVec
	fetchErrorsTotal      *prometheus.CounterVec
	datesCoveredTotal     prometheus.Counter
	rateLimitDelaySeconds prometheus.Histogram
	fetchDurationSeconds  prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_search_pages_total",
				Help: "Total number of search-result pages fetched, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		listingsScrapedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_listings_scraped_total",
				Help: "Total number of new listings fetched and persisted.",
			},
		)

		listingsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listings_skipped_total",
				Help: "Total number of listings skipped, labeled by reason.",
			},
			[]string{"reason"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_errors_total",
				Help: "Total number of fetches that exhausted their retry budget, labeled by cause.",
			},
			[]string{"cause"},
		)

		datesCoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_dates_covered_total",
				Help: "Total number of calendar dates marked fully crawled.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single-attempt fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSearchPage counts one fetched search page by outcome
// ("listings", "empty" or "error").
func ObserveSearchPage(outcome string) {
	Init()
	searchPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveListingScraped counts one newly persisted listing.
func ObserveListingScraped() {
	Init()
	listingsScrapedTotal.Inc()
}

// ObserveListingSkipped counts a skipped listing by reason
// ("already_scraped", "fetch_error" or "extraction_error").
func ObserveListingSkipped(reason string) {
	Init()
	listingsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveFetchError counts a fetch that exhausted its retry budget.
func ObserveFetchError(cause string) {
	Init()
	fetchErrorsTotal.WithLabelValues(cause).Inc()
}

// ObserveDateCovered counts a date transitioning to covered.
func ObserveDateCovered() {
	Init()
	datesCoveredTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveFetchDuration records the latency of one fetch attempt.
func ObserveFetchDuration(duration time.Duration) {
	Init()
	fetchDurationSeconds.Observe(duration.Seconds())
}
