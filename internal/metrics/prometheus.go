package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "inkforge"

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	generations    *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	ledgerOps      *prometheus.CounterVec

	principalCache *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec

	usagePublished     *prometheus.CounterVec
	usageProcessed     *prometheus.CounterVec
	usageBatchSize     prometheus.Histogram
	usageBatchDuration prometheus.Histogram
	usageQueueDepth    prometheus.Gauge
	usageIngestLag     prometheus.Histogram
}

// NewPrometheus creates a PrometheusRecorder with all collectors registered,
// including the Go runtime and process collectors.
func NewPrometheus() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),

		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 16), // 5ms to ~160s
		}, []string{"method", "route"}),

		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "transactions_total",
			Help:      "Generation transactions by terminal outcome.",
		}, []string{"outcome"}),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "call_duration_seconds",
			Help:      "Duration of generation engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
		}, []string{"result"}),
		ledgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger debit and credit operations.",
		}, []string{"kind", "status"}),

		principalCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "principal_cache_total",
			Help:      "Principal cache lookups.",
		}, []string{"result"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by rate limiting.",
		}, []string{"scope"}),

		usagePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "events_published_total",
			Help:      "Usage events published to the stream.",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "events_processed_total",
			Help:      "Usage events processed by the worker.",
		}, []string{"status"}),
		usageBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "batch_size",
			Help:      "Usage events per processed batch.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		usageBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "batch_duration_seconds",
			Help:      "Time to persist a usage batch.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		usageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "queue_depth",
			Help:      "Pending usage events in the consumer group.",
		}),
		usageIngestLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "ingest_lag_seconds",
			Help:      "Time from generation to usage persistence.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	p.registry.MustRegister(
		p.httpRequests,
		p.httpDuration,
		p.generations,
		p.engineDuration,
		p.ledgerOps,
		p.principalCache,
		p.rateLimited,
		p.usagePublished,
		p.usageProcessed,
		p.usageBatchSize,
		p.usageBatchDuration,
		p.usageQueueDepth,
		p.usageIngestLag,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return p
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	p.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncGeneration(outcome string) {
	p.generations.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveEngineDuration(result string, duration time.Duration) {
	p.engineDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (p *PrometheusRecorder) IncLedgerOperation(kind, status string) {
	p.ledgerOps.WithLabelValues(kind, status).Inc()
}

func (p *PrometheusRecorder) IncPrincipalCacheHit() {
	p.principalCache.WithLabelValues("hit").Inc()
}

func (p *PrometheusRecorder) IncPrincipalCacheMiss() {
	p.principalCache.WithLabelValues("miss").Inc()
}

func (p *PrometheusRecorder) IncRateLimited(scope string) {
	p.rateLimited.WithLabelValues(scope).Inc()
}

func (p *PrometheusRecorder) IncUsageEventPublished(status string) {
	p.usagePublished.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncUsageEventProcessed(status string) {
	p.usageProcessed.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) ObserveUsageBatchSize(size int) {
	p.usageBatchSize.Observe(float64(size))
}

func (p *PrometheusRecorder) ObserveUsageBatchDuration(duration time.Duration) {
	p.usageBatchDuration.Observe(duration.Seconds())
}

func (p *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	p.usageQueueDepth.Set(float64(depth))
}

func (p *PrometheusRecorder) ObserveUsageIngestLag(lag time.Duration) {
	p.usageIngestLag.Observe(lag.Seconds())
}
