// Package prometheus registers and exposes the pipeline's metrics.
package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var processingDurationBuckets = []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}
var httpDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Metrics holds every pipeline metric.  One instance is shared between the
// orchestrator, the processor, and the HTTP middleware.
type Metrics struct {
	registry *prometheus.Registry

	ParseResultsTotal   *prometheus.CounterVec
	MatchDecisionsTotal *prometheus.CounterVec
	FilesProcessedTotal *prometheus.CounterVec
	ProcessingDuration  *prometheus.HistogramVec
	ProcessingRetries   prometheus.Counter
	SessionsByState     *prometheus.GaugeVec
	ReviewQueueDepth    prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsConsumedTotal *prometheus.CounterVec
}

// NewMetrics builds a Metrics set on a fresh registry, including the
// standard Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ParseResultsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medingest_parse_results_total",
			Help: "Filename parse outcomes by result and failure reason.",
		}, []string{"result", "reason"}),
		MatchDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medingest_match_decisions_total",
			Help: "Match routing decisions by action.",
		}, []string{"action"}),
		FilesProcessedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medingest_files_processed_total",
			Help: "Content-processing outcomes by result and processing mode.",
		}, []string{"result", "mode"}),
		ProcessingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medingest_processing_duration_seconds",
			Help:    "Per-file content-processing duration.",
			Buckets: processingDurationBuckets,
		}, []string{"mode"}),
		ProcessingRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "medingest_processing_retries_total",
			Help: "File processing retry attempts.",
		}),
		SessionsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "medingest_sessions_by_state",
			Help: "Batch sessions currently in each state.",
		}, []string{"state"}),
		ReviewQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medingest_review_queue_depth",
			Help: "Files currently awaiting admin review.",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medingest_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medingest_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "route"}),
		EventsConsumedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medingest_events_consumed_total",
			Help: "Ingest events consumed from the topic by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProcessing records one file-processing outcome.
func (m *Metrics) ObserveProcessing(mode, result string, d time.Duration) {
	m.FilesProcessedTotal.WithLabelValues(result, mode).Inc()
	m.ProcessingDuration.WithLabelValues(mode).Observe(d.Seconds())
}
