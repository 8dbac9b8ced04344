// Package metrics holds the relay's Prometheus collectors. Each Metrics value
// owns its registry so several relays (or tests) never collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "genrelay"

// Metrics groups every collector the relay records.
type Metrics struct {
	registry *prometheus.Registry

	admitted          *prometheus.CounterVec
	rejected          *prometheus.CounterVec
	started           *prometheus.CounterVec
	finished          *prometheus.CounterVec
	failed            *prometheus.CounterVec
	timeouts          prometheus.Counter
	correlationMisses *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	reconnects        *prometheus.CounterVec
	dispatchLatency   *prometheus.HistogramVec
	inFlight          prometheus.Gauge
	pendingJobs       prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg gets a
// fresh registry including the Go and process collectors.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_admitted_total",
			Help:      "Count of requests admitted by the submission gate.",
		}, []string{"backend"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Count of requests rejected, by reason.",
		}, []string{"backend", "reason"}),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Count of streaming jobs registered with a handle.",
		}, []string{"backend"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Count of jobs that completed successfully.",
		}, []string{"backend"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Count of jobs that failed.",
		}, []string{"backend"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_timed_out_total",
			Help:      "Count of streaming jobs evicted without a terminal notification.",
		}),
		correlationMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_misses_total",
			Help:      "Count of events referencing an unknown job handle.",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Count of delivery attempts by outcome kind and result.",
		}, []string{"kind", "result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_reconnects_total",
			Help:      "Count of push channel reconnects.",
		}, []string{"backend"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of backend dispatch calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"backend"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Admitted requests that have not reached a terminal state.",
		}),
		pendingJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_jobs",
			Help:      "Entries in the job handle table.",
		}),
	}

	reg.MustRegister(
		m.admitted,
		m.rejected,
		m.started,
		m.finished,
		m.failed,
		m.timeouts,
		m.correlationMisses,
		m.deliveries,
		m.reconnects,
		m.dispatchLatency,
		m.inFlight,
		m.pendingJobs,
	)

	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAdmitted records an admitted request.
func (m *Metrics) RecordAdmitted(backend string) { m.admitted.WithLabelValues(backend).Inc() }

// RecordRejected records a rejected request.
func (m *Metrics) RecordRejected(backend, reason string) {
	m.rejected.WithLabelValues(backend, reason).Inc()
}

// RecordStarted records a registered streaming job.
func (m *Metrics) RecordStarted(backend string) { m.started.WithLabelValues(backend).Inc() }

// RecordFinished records a successful job.
func (m *Metrics) RecordFinished(backend string) { m.finished.WithLabelValues(backend).Inc() }

// RecordFailed records a failed job.
func (m *Metrics) RecordFailed(backend string) { m.failed.WithLabelValues(backend).Inc() }

// RecordTimeout records a timeout eviction.
func (m *Metrics) RecordTimeout() { m.timeouts.Inc() }

// RecordCorrelationMiss records an event for an unknown handle.
func (m *Metrics) RecordCorrelationMiss(event string) {
	m.correlationMisses.WithLabelValues(event).Inc()
}

// RecordDelivery records one delivery attempt.
func (m *Metrics) RecordDelivery(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(kind, result).Inc()
}

// RecordReconnect records a push channel reconnect.
func (m *Metrics) RecordReconnect(backend string) { m.reconnects.WithLabelValues(backend).Inc() }

// ObserveDispatch records the duration of a dispatch call.
func (m *Metrics) ObserveDispatch(backend string, d time.Duration) {
	m.dispatchLatency.WithLabelValues(backend).Observe(d.Seconds())
}

// SetInFlight sets the in-flight gauge.
func (m *Metrics) SetInFlight(n int) { m.inFlight.Set(float64(n)) }

// SetPendingJobs sets the job table gauge.
func (m *Metrics) SetPendingJobs(n int) { m.pendingJobs.Set(float64(n)) }
