package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits      *prometheus.CounterVec
	CacheMisses    *prometheus.CounterVec
	CacheStores    prometheus.Counter
	CacheSkipped   *prometheus.CounterVec
	CacheEvictions prometheus.Counter
	CacheAssets    prometheus.Gauge
	CacheBytes     prometheus.Gauge
	UpstreamErrors *prometheus.CounterVec

	// Offline queue metrics
	QueueEnqueued  prometheus.Counter
	QueueRemoved   prometheus.Counter
	QueueDepth     prometheus.Gauge
	QueueConflicts prometheus.Counter

	// Update protocol metrics
	UpdateChecks     *prometheus.CounterVec
	UpdatePrompts    prometheus.Counter
	ActivationsTotal prometheus.Counter

	// Client channel metrics
	WindowsConnected prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics collector. Collectors register in
// the global Prometheus registry, so exactly one instance may exist.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of intercepted HTTP requests",
			},
			[]string{"method", "strategy", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "strategy"},
		),

		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_hits_total",
				Help: "Cache lookups that returned a stored asset",
			},
			[]string{"strategy"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_misses_total",
				Help: "Cache lookups that found nothing",
			},
			[]string{"strategy"},
		),
		CacheStores: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_stores_total",
				Help: "Responses written to the asset cache",
			},
		),
		CacheSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cache_skipped_total",
				Help: "Responses refused by the cache store rules",
			},
			[]string{"reason"},
		),
		CacheEvictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_cache_generation_evictions_total",
				Help: "Stale cache generations removed during activation",
			},
		),
		CacheAssets: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_cache_assets",
				Help: "Assets stored in the current cache generation",
			},
		),
		CacheBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_cache_bytes",
				Help: "Bytes stored in the current cache generation",
			},
		),
		UpstreamErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_errors_total",
				Help: "Upstream fetches that produced no response",
			},
			[]string{"strategy"},
		),

		QueueEnqueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_queue_enqueued_total",
				Help: "Images enqueued for offline analysis",
			},
		),
		QueueRemoved: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_queue_removed_total",
				Help: "Images removed from the offline queue",
			},
		),
		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_queue_depth",
				Help: "Images currently awaiting analysis",
			},
		),
		QueueConflicts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_queue_duplicate_ids_total",
				Help: "Enqueue attempts rejected for duplicate IDs",
			},
		),

		UpdateChecks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_update_checks_total",
				Help: "Version descriptor polls by outcome",
			},
			[]string{"outcome"},
		),
		UpdatePrompts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_update_prompts_total",
				Help: "Update prompts surfaced to the user",
			},
		),
		ActivationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gateway_activations_total",
				Help: "Waiting versions activated",
			},
		),

		WindowsConnected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_windows_connected",
				Help: "Foreground windows connected to the update channel",
			},
		),

		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_uptime_seconds",
				Help: "Gateway uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest records metrics for an intercepted request.
func (m *Metrics) RecordHTTPRequest(method, strategy, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, strategy, status).Inc()
	m.RequestDuration.WithLabelValues(method, strategy).Observe(duration.Seconds())
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}

// RecordCacheHit records a cache lookup that served a stored asset.
func (m *Metrics) RecordCacheHit(strategy string) {
	m.CacheHits.WithLabelValues(strategy).Inc()
}

// RecordCacheMiss records a cache lookup that found nothing.
func (m *Metrics) RecordCacheMiss(strategy string) {
	m.CacheMisses.WithLabelValues(strategy).Inc()
}

// RecordCacheSkip records a response refused by the store rules.
func (m *Metrics) RecordCacheSkip(reason string) {
	m.CacheSkipped.WithLabelValues(reason).Inc()
}

// RecordUpstreamError records an upstream fetch that produced no response.
func (m *Metrics) RecordUpstreamError(strategy string) {
	m.UpstreamErrors.WithLabelValues(strategy).Inc()
}

// RecordUpdateCheck records a version poll outcome ("update", "current",
// "error").
func (m *Metrics) RecordUpdateCheck(outcome string) {
	m.UpdateChecks.WithLabelValues(outcome).Inc()
}
