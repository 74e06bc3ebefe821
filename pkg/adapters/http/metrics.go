package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects plan/convert counters for the /metrics endpoint.
// Each server carries its own prometheus registry so tests and
// embedders never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	plansTotal      *prometheus.CounterVec
	convertsTotal   *prometheus.CounterVec
	planDuration    prometheus.Histogram
	convertDuration prometheus.Histogram
	peakMemory      prometheus.Gauge
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		plansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transmute_plans_total",
			Help: "Plan requests by outcome.",
		}, []string{"outcome"}),
		convertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transmute_conversions_total",
			Help: "Conversion requests by outcome.",
		}, []string{"outcome"}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transmute_plan_duration_seconds",
			Help:    "Time spent searching for plans.",
			Buckets: prometheus.DefBuckets,
		}),
		convertDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transmute_convert_duration_seconds",
			Help:    "Time spent executing conversions.",
			Buckets: prometheus.DefBuckets,
		}),
		peakMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transmute_peak_memory_bytes",
			Help: "Peak memory of the most recent conversion.",
		}),
	}

	m.registry.MustRegister(
		m.plansTotal, m.convertsTotal,
		m.planDuration, m.convertDuration, m.peakMemory)
	return m
}

// Handler serves the prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// PlanSucceeded records a successful plan search.
func (m *Metrics) PlanSucceeded(d time.Duration) {
	m.plansTotal.WithLabelValues("ok").Inc()
	m.planDuration.Observe(d.Seconds())
}

// PlanFailed records a failed plan search.
func (m *Metrics) PlanFailed() {
	m.plansTotal.WithLabelValues("error").Inc()
}

// ConvertSucceeded records a successful conversion.
func (m *Metrics) ConvertSucceeded(d time.Duration, peakMemory int) {
	m.convertsTotal.WithLabelValues("ok").Inc()
	m.convertDuration.Observe(d.Seconds())
	m.peakMemory.Set(float64(peakMemory))
}

// ConvertFailed records a failed conversion.
func (m *Metrics) ConvertFailed() {
	m.convertsTotal.WithLabelValues("error").Inc()
}
