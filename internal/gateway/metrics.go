package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricAttempts       = "gateway_attempts_total"
	MetricRetriedSuccess = "gateway_retried_success_total"
	MetricOutcomes       = "gateway_generations_total"
	MetricRateLimited    = "gateway_rate_limited_total"
	MetricGenerationTime = "gateway_generation_duration_seconds"
)

// Outcome labels for MetricOutcomes.
const (
	outcomeSuccess   = "success"
	outcomeExhausted = "exhausted"
	outcomeRejected  = "rejected"
	outcomeCancelled = "cancelled"
)

// Metrics contains Prometheus metrics for the generation gateway.
type Metrics struct {
	attempts       *prometheus.CounterVec
	retriedSuccess prometheus.Counter
	outcomes       *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewMetrics creates unregistered gateway metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAttempts,
			Help: "Provider call attempts by result",
		}, []string{"result"}),
		retriedSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRetriedSuccess,
			Help: "Generations that succeeded only after at least one retry",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricOutcomes,
			Help: "Completed generations by outcome",
		}, []string{"mode", "outcome"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRateLimited,
			Help: "Generations rejected by admission control",
		}, []string{"purpose"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricGenerationTime,
			Help:    "Histogram of generation duration in seconds, including retries",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.attempts, m.retriedSuccess, m.outcomes, m.rateLimited, m.duration}
}
