// Package metrics exposes Prometheus collectors for the heatmap pipeline.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	queueEvents  *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	processing   *prometheus.HistogramVec
	clusterRuns  prometheus.Histogram
	recomputes   *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queueEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatmap_queue_events_total",
			Help: "Sequencing queue events by kind (enqueued, dropped, completed, failed, stalled).",
		}, []string{"event"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "heatmap_queue_depth",
			Help: "Payloads waiting in the sequencing queue.",
		}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "heatmap_payload_processing_seconds",
			Help:    "Time spent processing one dataset payload.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		clusterRuns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "heatmap_cluster_seconds",
			Help:    "Duration of hierarchical clustering runs.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		recomputes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatmap_ordering_recomputes_total",
			Help: "Ordering recomputations by strategy.",
		}, []string{"strategy"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heatmap_cache_lookups_total",
			Help: "Cache lookups by cache and result.",
		}, []string{"cache", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.queueEvents,
		m.queueDepth,
		m.processing,
		m.clusterRuns,
		m.recomputes,
		m.cacheLookups,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// QueueEvent counts one queue event.
func (m *Metrics) QueueEvent(event string) {
	if m == nil {
		return
	}
	m.queueEvents.WithLabelValues(event).Inc()
}

// QueueDepth records the current ring occupancy.
func (m *Metrics) QueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Processing records how long a payload took and how it ended.
func (m *Metrics) Processing(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processing.WithLabelValues(outcome).Observe(d.Seconds())
}

// ClusterRun records one clustering run.
func (m *Metrics) ClusterRun(d time.Duration) {
	if m == nil {
		return
	}
	m.clusterRuns.Observe(d.Seconds())
}

// Recompute counts one ordering recomputation.
func (m *Metrics) Recompute(strategy string) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(strategy).Inc()
}

// CacheLookup counts a hit or miss.
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}
