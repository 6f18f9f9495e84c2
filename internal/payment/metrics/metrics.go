package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Outcomes       *prometheus.CounterVec
	SubmitDuration prometheus.Histogram
	BreakerOpen    prometheus.Gauge
}

// New registers payment metrics with reg; nil uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payhub_payment_outcomes_total",
			Help: "Payment submissions by outcome event and reason",
		}, []string{"event", "reason"}),
		SubmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "payhub_payment_submit_duration_ms",
			Help:    "End to end latency of a payment decision in milliseconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 1000, 3000},
		}),
		BreakerOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "payhub_payment_cache_breaker_open",
			Help: "1 while the payment cache circuit breaker is open",
		}),
	}
}

func (m *Metrics) IncrementOutcome(event, reason string) {
	m.Outcomes.WithLabelValues(event, reason).Inc()
}

func (m *Metrics) ObserveSubmit(d time.Duration) {
	m.SubmitDuration.Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerOpen.Set(1)
		return
	}
	m.BreakerOpen.Set(0)
}
