// Package metrics exposes engine instrumentation as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/learnquest/proctoring-engine/internal/application/engine"
)

// Collector implements engine.Metrics backed by a Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	sessionsActive  prometheus.Gauge
	sessionsTotal   prometheus.Counter
	eventsProcessed *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	violations      *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
}

// New creates a collector with its own registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "proctoring_sessions_active",
			Help: "Number of live proctoring sessions.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "proctoring_sessions_total",
			Help: "Total proctoring sessions started.",
		}),
		eventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_events_processed_total",
			Help: "Observation events processed, by kind.",
		}, []string{"kind"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_events_dropped_total",
			Help: "Observation events dropped from full session queues, by kind.",
		}, []string{"kind"}),
		violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_violations_total",
			Help: "Violations recorded, by type and whether a penalty was billed.",
		}, []string{"type", "billed"}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "proctoring_verdicts_total",
			Help: "Finalized verdicts, by certificate status.",
		}, []string{"status"}),
	}
}

// SessionStarted implements engine.Metrics.
func (c *Collector) SessionStarted() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

// SessionClosed implements engine.Metrics.
func (c *Collector) SessionClosed() {
	c.sessionsActive.Dec()
}

// EventProcessed implements engine.Metrics.
func (c *Collector) EventProcessed(kind string) {
	c.eventsProcessed.WithLabelValues(kind).Inc()
}

// EventDropped implements engine.Metrics.
func (c *Collector) EventDropped(kind string) {
	c.eventsDropped.WithLabelValues(kind).Inc()
}

// ViolationRecorded implements engine.Metrics.
func (c *Collector) ViolationRecorded(violationType string, billable bool) {
	billed := "no"
	if billable {
		billed = "yes"
	}
	c.violations.WithLabelValues(violationType, billed).Inc()
}

// VerdictDecided implements engine.Metrics.
func (c *Collector) VerdictDecided(status string) {
	c.verdicts.WithLabelValues(status).Inc()
}

// Handler returns the scrape endpoint handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

var _ engine.Metrics = (*Collector)(nil)
