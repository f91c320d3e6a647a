// Package telemetry holds the Prometheus metrics surface for the radar.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the registry of all radar metrics.
type Metrics struct {
	registry *prometheus.Registry

	RequestDuration *prometheus.HistogramVec
	RequestStatus   *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	CacheHitRatio   prometheus.Gauge

	PairUpdatesEmitted *prometheus.CounterVec
	DroppedPairs       *prometheus.CounterVec
	QueueSize          *prometheus.GaugeVec

	PipelineDuration prometheus.Histogram
	PipelinePasses   prometheus.Counter
	HotlistSize      prometheus.Gauge

	SecurityChecks *prometheus.CounterVec
	AlertsSent     *prometheus.CounterVec
	SentinelErrors *prometheus.CounterVec
	ListingsFound  *prometheus.CounterVec

	WSClients prometheus.Gauge
}

// NewMetrics builds and registers the full metric set on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memeradar_request_duration_seconds",
		Help:    "Upstream HTTP request duration by source",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	}, []string{"source"})

	m.RequestStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_request_status_total",
		Help: "Upstream HTTP responses by source and status class",
	}, []string{"source", "status"})

	m.RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_rate_limited_total",
		Help: "Requests denied locally or by upstream 429",
	}, []string{"source", "origin"})

	m.CacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memeradar_cache_hit_ratio",
		Help: "EWMA cache hit ratio (0..1)",
	})

	m.PairUpdatesEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_pair_updates_total",
		Help: "PairUpdate events emitted by the collector",
	}, []string{"chain"})

	m.DroppedPairs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_dropped_pairs_total",
		Help: "Pairs dropped by the collector by reason",
	}, []string{"reason"})

	m.QueueSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "memeradar_discovery_queue_size",
		Help: "Discovery queue size by chain",
	}, []string{"chain"})

	m.PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "memeradar_pipeline_duration_seconds",
		Help:    "Orchestrator pipeline pass duration",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 15, 30},
	})

	m.PipelinePasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "memeradar_pipeline_passes_total",
		Help: "Completed pipeline passes",
	})

	m.HotlistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memeradar_hotlist_size",
		Help: "Tokens in the current hotlist",
	})

	m.SecurityChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_security_checks_total",
		Help: "Security analyses by outcome",
	}, []string{"outcome"})

	m.AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_alerts_total",
		Help: "Alerts dispatched by kind",
	}, []string{"kind"})

	m.SentinelErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_sentinel_errors_total",
		Help: "Sentinel task failures by exchange and phase",
	}, []string{"exchange", "phase"})

	m.ListingsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "memeradar_listings_total",
		Help: "CEX listing events emitted by exchange",
	}, []string{"exchange"})

	m.WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memeradar_ws_clients",
		Help: "Connected websocket subscribers",
	})

	m.registry.MustRegister(
		m.RequestDuration, m.RequestStatus, m.RateLimited, m.CacheHitRatio,
		m.PairUpdatesEmitted, m.DroppedPairs, m.QueueSize,
		m.PipelineDuration, m.PipelinePasses, m.HotlistSize,
		m.SecurityChecks, m.AlertsSent, m.SentinelErrors, m.ListingsFound,
		m.WSClients,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
