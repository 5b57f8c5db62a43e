// Package metrics provides Prometheus instrumentation for the embedding
// server: HTTP request metrics plus per-model batching and inference
// metrics fed by the dispatchers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors. A nil *Metrics is valid
// and records nothing, so components can be wired without instrumentation.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	BatchItems        *prometheus.HistogramVec
	BatchInputs       *prometheus.HistogramVec
	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec
	InputsProcessed   *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates and registers all server metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textembed_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textembed_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "textembed_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		BatchItems: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textembed_batch_items",
				Help:    "Request items coalesced into one inference batch.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"model"},
		),
		BatchInputs: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textembed_batch_inputs",
				Help:    "Flattened inputs per inference batch.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512},
			},
			[]string{"model"},
		),
		InferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "textembed_inference_duration_seconds",
				Help:    "Model forward pass latency per batch.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"model"},
		),
		InferenceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textembed_inference_errors_total",
				Help: "Batches failed by a model error.",
			},
			[]string{"model"},
		),
		InputsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "textembed_inputs_processed_total",
				Help: "Total inputs embedded per model.",
			},
			[]string{"model"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "textembed_queue_depth",
				Help: "Requests waiting in the dispatcher queue.",
			},
			[]string{"model"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.BatchItems,
		m.BatchInputs,
		m.InferenceDuration,
		m.InferenceErrors,
		m.InputsProcessed,
		m.QueueDepth,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveBatch records one completed inference batch.
func (m *Metrics) ObserveBatch(model string, items, inputs int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BatchItems.WithLabelValues(model).Observe(float64(items))
	m.BatchInputs.WithLabelValues(model).Observe(float64(inputs))
	m.InferenceDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.InputsProcessed.WithLabelValues(model).Add(float64(inputs))
}

// RecordInferenceError counts one failed batch.
func (m *Metrics) RecordInferenceError(model string) {
	if m == nil {
		return
	}
	m.InferenceErrors.WithLabelValues(model).Inc()
}

// SetQueueDepth publishes the current dispatcher queue depth.
func (m *Metrics) SetQueueDepth(model string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(model).Set(float64(depth))
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
