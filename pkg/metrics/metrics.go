package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "psygrid"

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomePanic   = "panic"
)

// Metrics holds the application collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	runsTotal      *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runsActive     prometheus.Gauge
	iterationsDone prometheus.Counter

	generationCalls    *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec

	eventsDropped prometheus.Counter
	persistFailed prometheus.Counter

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4m
		}, []string{"outcome"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_active",
			Help:      "Number of runs currently executing.",
		}),
		iterationsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "iterations_total",
			Help:      "Total number of completed transformation iterations.",
		}),
		generationCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "calls_total",
			Help:      "Calls to the image generation backend.",
		}, []string{"backend", "success"}),
		generationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "call_duration_seconds",
			Help:      "Latency of image generation calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"backend"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "progress",
			Name:      "events_dropped_total",
			Help:      "Progress events dropped because a subscriber was full.",
		}),
		persistFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "persist_failures_total",
			Help:      "Composites that could not be persisted after retries.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		}, []string{"method", "path"}),
	}

	m.Registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.runsActive,
		m.iterationsDone,
		m.generationCalls,
		m.generationDuration,
		m.eventsDropped,
		m.persistFailed,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RunStarted marks a run as active. The returned func records its outcome.
func (m *Metrics) RunStarted() func(outcome string) {
	start := time.Now()
	m.runsActive.Inc()
	return func(outcome string) {
		m.runsActive.Dec()
		m.runsTotal.WithLabelValues(outcome).Inc()
		m.runDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
}

// IterationCompleted counts one finished iteration.
func (m *Metrics) IterationCompleted() {
	m.iterationsDone.Inc()
}

// ObserveGeneration records one backend call.
func (m *Metrics) ObserveGeneration(backend string, d time.Duration, err error) {
	m.generationCalls.WithLabelValues(backend, strconv.FormatBool(err == nil)).Inc()
	m.generationDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// EventDropped counts a progress event that no subscriber received.
func (m *Metrics) EventDropped() {
	m.eventsDropped.Inc()
}

// PersistFailed counts a composite that was lost to the store.
func (m *Metrics) PersistFailed() {
	m.persistFailed.Inc()
}

// HTTPStarted tracks an in-flight request; call the returned func when it completes.
func (m *Metrics) HTTPStarted() func(method, path string, status int) {
	start := time.Now()
	m.httpInFlight.Inc()
	return func(method, path string, status int) {
		m.httpInFlight.Dec()
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
