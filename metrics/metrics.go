// Package metrics holds the Prometheus collectors shared by the chain,
// the batch runner and the HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ownlingo/catalog-translate/translator"
)

var (
	// ProviderAttempts counts every single provider call by outcome
	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_translate_provider_attempts_total",
			Help: "Provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	// ProviderLatency tracks provider call duration in seconds
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_translate_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// ChainResults counts fallback chain outcomes: success, exhausted, canceled
	ChainResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_translate_chain_results_total",
			Help: "Fallback chain results",
		},
		[]string{"outcome"},
	)

	// BatchRecords counts records reaching a terminal state in batch runs
	BatchRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_translate_batch_records_total",
			Help: "Batch records by terminal state",
		},
		[]string{"state"},
	)

	// BatchInFlight is the number of records currently being translated
	BatchInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_translate_batch_in_flight",
			Help: "Records currently being translated",
		},
	)

	// HTTPRequests counts server mode requests by route and status
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_translate_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "status"},
	)
)

// RecordAttempt records one provider call
func RecordAttempt(provider string, duration time.Duration, err error) {
	ProviderAttempts.WithLabelValues(provider, translator.Outcome(err)).Inc()
	ProviderLatency.WithLabelValues(provider).Observe(duration.Seconds())
}
