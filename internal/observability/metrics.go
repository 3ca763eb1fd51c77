package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the Prometheus collectors of the call service.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.TurnCounter.WithLabelValues("responsive").Inc()
type Metrics struct {
	// CallCounter counts outbound call attempts.
	// Labels: result (initiated|provider_error|validation_error)
	CallCounter *prometheus.CounterVec

	// TurnCounter counts voice callbacks by orchestrator state.
	// Labels: kind (unknown|ended|opening|responsive|no_input|give_up)
	TurnCounter *prometheus.CounterVec

	// CompletionCounter counts language model requests.
	// Labels: status (success|empty|error|disabled)
	CompletionCounter *prometheus.CounterVec

	// CompletionDuration measures language model latency in seconds.
	CompletionDuration prometheus.Histogram

	// StatusCounter counts provider status callbacks by status value.
	StatusCounter *prometheus.CounterVec

	// ActiveConversations tracks conversations that have not ended.
	ActiveConversations prometheus.Gauge

	// HTTPRequestDuration measures HTTP latency.
	// Labels: method, route, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers all collectors on reg. Passing a fresh registry keeps
// tests isolated from the default one.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CallCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbot",
			Name:      "calls_total",
			Help:      "Outbound call attempts by result",
		}, []string{"result"}),

		TurnCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbot",
			Name:      "turns_total",
			Help:      "Voice callbacks handled by orchestrator state",
		}, []string{"kind"}),

		CompletionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbot",
			Name:      "completions_total",
			Help:      "Language model requests by outcome",
		}, []string{"status"}),

		CompletionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "callbot",
			Name:      "completion_duration_seconds",
			Help:      "Language model request latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		StatusCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "callbot",
			Name:      "call_status_callbacks_total",
			Help:      "Provider status callbacks by status",
		}, []string{"status"}),

		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "callbot",
			Name:      "active_conversations",
			Help:      "Conversations that have not ended",
		}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "callbot",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"method", "route", "status_code"}),

		gatherer: reg,
	}
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
