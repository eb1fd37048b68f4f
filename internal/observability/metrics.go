package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	InFlightQueries prometheus.Gauge
	TurnsRecorded   *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	RegistryOps     *prometheus.CounterVec
	PromptFallbacks prometheus.Counter
	ModelErrors     *prometheus.CounterVec
	ReplyLatency    prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		InFlightQueries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight_queries",
			Help:      "Number of user queries currently being routed.",
		}),
		TurnsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_recorded_total",
			Help:      "Conversation turns recorded by role.",
		}, []string{"role"}),
		ToolInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Weather tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		RegistryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_ops_total",
			Help:      "Template registry operations by op and outcome.",
		}, []string{"op", "outcome"}),
		PromptFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_fallbacks_total",
			Help:      "Prompt resolutions served from compiled-in defaults.",
		}),
		ModelErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_errors_total",
			Help:      "Language model collaborator errors by stage.",
		}, []string{"stage"}),
		ReplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_ms",
			Help:      "End-to-end latency from query to final reply in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000},
		}),
	}
}

func (m *Metrics) ObserveReplyLatency(d time.Duration) {
	m.ReplyLatency.Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
