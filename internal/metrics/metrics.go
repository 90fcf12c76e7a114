package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chocobrew"

// Metrics holds the service counters.
type Metrics struct {
	estimates         *prometheus.CounterVec
	inferenceFailures prometheus.Counter
	batchesCreated    prometheus.Counter
	duplicateCodes    prometheus.Counter
	payloadFailures   prometheus.Counter
	httpRequests      *prometheus.CounterVec
}

// New creates the counters and registers them with registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		estimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_estimates_total",
			Help:      "Quality scores computed, by source.",
		}, []string{"source"}),
		inferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_inference_failures_total",
			Help:      "Model inference calls that fell back to the formula.",
		}),
		batchesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_created_total",
			Help:      "Batch records stored.",
		}),
		duplicateCodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_duplicate_codes_total",
			Help:      "Batch submissions rejected for a taken code.",
		}),
		payloadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookup_payload_failures_total",
			Help:      "Batches stored without their QR payload.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by route and status class.",
		}, []string{"route", "status"}),
	}

	registerer.MustRegister(
		m.estimates,
		m.inferenceFailures,
		m.batchesCreated,
		m.duplicateCodes,
		m.payloadFailures,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) ObserveEstimate(source string) {
	if m == nil {
		return
	}
	m.estimates.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveInferenceFailure() {
	if m == nil {
		return
	}
	m.inferenceFailures.Inc()
}

func (m *Metrics) BatchCreated() {
	if m == nil {
		return
	}
	m.batchesCreated.Inc()
}

func (m *Metrics) DuplicateCode() {
	if m == nil {
		return
	}
	m.duplicateCodes.Inc()
}

func (m *Metrics) PayloadFailed() {
	if m == nil {
		return
	}
	m.payloadFailures.Inc()
}

// HTTPRequest counts one served request. status is collapsed to its class
// ("2xx", "4xx", ...) to keep cardinality low.
func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
