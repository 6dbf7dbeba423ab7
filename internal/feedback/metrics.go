package feedback

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRecalibrationTotal    = "feedback_recalibration_total"
	MetricRecalibrationErrors   = "feedback_recalibration_errors_total"
	MetricRecalibrationDuration = "feedback_recalibration_duration_seconds"
	MetricOffset                = "feedback_offset"
	MetricDirectionalSamples    = "feedback_directional_samples"
)

// Metrics contains Prometheus metrics for offset recalibration.
type Metrics struct {
	total       prometheus.Counter
	errors      prometheus.Counter
	duration    prometheus.Histogram
	offset      prometheus.Gauge
	directional prometheus.Gauge
}

// NewMetrics creates unregistered recalibration metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		total: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecalibrationTotal,
			Help: "Total number of feedback offset recalibrations",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRecalibrationErrors,
			Help: "Total number of failed feedback offset recalibrations",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRecalibrationDuration,
			Help:    "Histogram of feedback recalibration duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricOffset,
			Help: "Current feedback offset applied by the score calibrator",
		}),
		directional: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricDirectionalSamples,
			Help: "Directional feedback records in the last recalibration window",
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
	return []prometheus.Collector{m.total, m.errors, m.duration, m.offset, m.directional}
}

func (m *Metrics) observe(s Summary, seconds float64) {
	m.total.Inc()
	m.duration.Observe(seconds)
	m.offset.Set(float64(s.Offset))
	m.directional.Set(float64(s.Directional))
}

func (m *Metrics) incErrors() {
	m.errors.Inc()
}
