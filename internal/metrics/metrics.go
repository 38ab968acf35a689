// Package metrics registers the gateway's Prometheus collectors and serves
// the /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts HTTP requests by method, route, and status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quimbi_http_requests_total",
		Help: "HTTP requests processed.",
	}, []string{"method", "status"})

	// CacheHits / CacheMisses track cache effectiveness.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quimbi_cache_hits_total",
		Help: "Cache reads that found a value.",
	})
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quimbi_cache_misses_total",
		Help: "Cache reads that missed or errored.",
	})

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quimbi_rate_limited_total",
		Help: "Requests rejected before tenant identification.",
	})

	// WebhooksProcessed counts ingestion outcomes by provider and result
	// (processed, skipped, rejected).
	WebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quimbi_webhooks_total",
		Help: "Webhook events by provider and outcome.",
	}, []string{"provider", "outcome"})

	// WritebackFailures counts provider write-back errors by operation.
	WritebackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quimbi_writeback_failures_total",
		Help: "Provider write-back failures by operation.",
	}, []string{"operation"})

	// IngestQueueDepth gauges the pending background ingestion jobs.
	IngestQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quimbi_ingest_queue_depth",
		Help: "Queued background ingestion jobs.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
