package checkout

import "github.com/prometheus/client_golang/prometheus"

// Metric names as constants for consistency.
const (
	MetricCapturesTotal = "payment_captures_total"
	MetricRenewalsTotal = "subscription_renewals_total"
)

// Metrics contains Prometheus metrics for payment processing.
// All operations are thread-safe.
type Metrics struct {
	capturesTotal *prometheus.CounterVec
	renewalsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance. The collectors are not
// registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		capturesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCapturesTotal,
				Help: "Total number of capture attempts by outcome",
			},
			[]string{"outcome"},
		),
		renewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRenewalsTotal,
				Help: "Total number of subscription renewal charges by result",
			},
			[]string{"result"},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.capturesTotal, m.renewalsTotal} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordCapture increments the capture counter for an outcome.
func (m *Metrics) RecordCapture(outcome string) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(outcome).Inc()
}

// RecordRenewal increments the renewal counter for a result.
func (m *Metrics) RecordRenewal(result string) {
	if m == nil {
		return
	}
	m.renewalsTotal.WithLabelValues(result).Inc()
}
