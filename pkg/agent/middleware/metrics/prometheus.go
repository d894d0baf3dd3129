package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus
// metrics registered on the default registry.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
}

//nolint:gochecknoglobals // promauto registers on the default registry; one instance per process
var (
	promRecorder     *PrometheusRecorder
	promRecorderOnce sync.Once
)

// NewPrometheusRecorder returns the process-wide Prometheus recorder.
// Collectors are registered once; repeated calls return the same instance.
func NewPrometheusRecorder() *PrometheusRecorder {
	promRecorderOnce.Do(func() {
		promRecorder = &PrometheusRecorder{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_requests_total",
					Help: "Total number of LLM requests by model, agent, status, and error kind",
				},
				[]string{"model", "agent", "status", "error_kind"},
			),
			tokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_tokens_total",
					Help: "Total number of tokens used in LLM requests",
				},
				[]string{"model", "agent", "type"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_request_duration_seconds",
					Help:    "Duration of LLM requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model", "agent"},
			),
			throttleTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_throttle_total",
					Help: "Total number of LLM pacing/throttling events",
				},
				[]string{"model", "reason"},
			),
		}
	})
	return promRecorder
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, agentName, status, errorKind string,
	promptTokens, completionTokens int,
	duration time.Duration,
) {
	p.requestsTotal.WithLabelValues(model, agentName, status, errorKind).Inc()
	if status == statusSuccess {
		p.tokensTotal.WithLabelValues(model, agentName, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, agentName, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(model, agentName).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for pacing events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}
