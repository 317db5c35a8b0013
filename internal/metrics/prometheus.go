package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics using Prometheus
type PrometheusMetrics struct {
	checksTotal      *prometheus.CounterVec
	checkDuration    prometheus.Histogram
	cacheHitsTotal   prometheus.Counter
	cacheMissesTotal prometheus.Counter
	errorsTotal      *prometheus.CounterVec
	activeRequests   prometheus.Gauge

	policyEvaluations *prometheus.CounterVec

	eventsPublished   *prometheus.CounterVec
	eventsConsumed    *prometheus.CounterVec
	publishQueueDepth prometheus.Gauge

	sweeperRemoved *prometheus.CounterVec
	cacheEntries   prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	// Register standard Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Total number of authorization checks by effect and deciding layer",
		},
		[]string{"effect", "layer"},
	)

	// Authorization latency: 1µs to 10ms (sub-millisecond expected)
	checkDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "check_duration_microseconds",
			Help:      "Authorization check latency in microseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000, 10000},
		},
	)

	cacheHitsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of decision cache hits",
		},
	)

	cacheMissesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of decision cache misses",
		},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of authorization errors by type",
		},
		[]string{"type"},
	)

	activeRequests := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of active authorization requests",
		},
	)

	policyEvaluations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "evaluations_total",
			Help:      "Total number of policy evaluations by policy type and outcome",
		},
		[]string{"type", "outcome"},
	)

	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of events published by topic and status",
		},
		[]string{"topic", "status"},
	)

	eventsConsumed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "consumed_total",
			Help:      "Total number of events consumed by topic and status",
		},
		[]string{"topic", "status"},
	)

	publishQueueDepth := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_queue_depth",
			Help:      "Current depth of the asynchronous publish buffer",
		},
	)

	sweeperRemoved := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "removed_total",
			Help:      "Total number of expired records removed by kind",
		},
		[]string{"kind"},
	)

	cacheEntries := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Number of entries in the decision cache",
		},
	)

	registry.MustRegister(
		checksTotal,
		checkDuration,
		cacheHitsTotal,
		cacheMissesTotal,
		errorsTotal,
		activeRequests,
		policyEvaluations,
		eventsPublished,
		eventsConsumed,
		publishQueueDepth,
		sweeperRemoved,
		cacheEntries,
	)

	return &PrometheusMetrics{
		checksTotal:       checksTotal,
		checkDuration:     checkDuration,
		cacheHitsTotal:    cacheHitsTotal,
		cacheMissesTotal:  cacheMissesTotal,
		errorsTotal:       errorsTotal,
		activeRequests:    activeRequests,
		policyEvaluations: policyEvaluations,
		eventsPublished:   eventsPublished,
		eventsConsumed:    eventsConsumed,
		publishQueueDepth: publishQueueDepth,
		sweeperRemoved:    sweeperRemoved,
		cacheEntries:      cacheEntries,
		registry:          registry,
	}
}

// RecordCheck records an authorization check with the layer that decided it
func (p *PrometheusMetrics) RecordCheck(effect, layer string, duration time.Duration) {
	p.checksTotal.WithLabelValues(effect, layer).Inc()
	p.checkDuration.Observe(float64(duration.Microseconds()))
}

// RecordCacheHit records a decision cache hit
func (p *PrometheusMetrics) RecordCacheHit() {
	p.cacheHitsTotal.Inc()
}

// RecordCacheMiss records a decision cache miss
func (p *PrometheusMetrics) RecordCacheMiss() {
	p.cacheMissesTotal.Inc()
}

// RecordError records an authorization error
func (p *PrometheusMetrics) RecordError(errorType string) {
	p.errorsTotal.WithLabelValues(errorType).Inc()
}

// IncActiveRequests increments active requests
func (p *PrometheusMetrics) IncActiveRequests() {
	p.activeRequests.Inc()
}

// DecActiveRequests decrements active requests
func (p *PrometheusMetrics) DecActiveRequests() {
	p.activeRequests.Dec()
}

// RecordPolicyEvaluation records a single policy evaluation outcome
func (p *PrometheusMetrics) RecordPolicyEvaluation(policyType, outcome string) {
	p.policyEvaluations.WithLabelValues(policyType, outcome).Inc()
}

// RecordEventPublished records an event publish attempt
func (p *PrometheusMetrics) RecordEventPublished(topic, status string) {
	p.eventsPublished.WithLabelValues(topic, status).Inc()
}

// RecordEventConsumed records a consumed event
func (p *PrometheusMetrics) RecordEventConsumed(topic, status string) {
	p.eventsConsumed.WithLabelValues(topic, status).Inc()
}

// UpdatePublishQueueDepth updates the async publish buffer depth
func (p *PrometheusMetrics) UpdatePublishQueueDepth(depth int) {
	p.publishQueueDepth.Set(float64(depth))
}

// RecordSweep records how many expired records a sweep removed
func (p *PrometheusMetrics) RecordSweep(kind string, removed int) {
	p.sweeperRemoved.WithLabelValues(kind).Add(float64(removed))
}

// UpdateCacheEntries updates the decision cache occupancy
func (p *PrometheusMetrics) UpdateCacheEntries(count int) {
	p.cacheEntries.Set(float64(count))
}

// HTTPHandler returns the Prometheus HTTP handler for /metrics endpoint
func (p *PrometheusMetrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
