package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the presence and delivery metrics for the process.
type Metrics struct {
	ActiveUsers      prometheus.Gauge
	Handshakes       *prometheus.CounterVec
	Disconnects      prometheus.Counter
	EventsDelivered  *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	ProtocolRejected *prometheus.CounterVec
}

// New creates and registers the metrics with the given registerer.
// A nil registerer uses the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		ActiveUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "payhub_presence_active_users",
			Help: "Number of users with a live connection",
		}),
		Handshakes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payhub_presence_handshakes_total",
			Help: "Handshakes by result (new, resumed, repeat)",
		}, []string{"result"}),
		Disconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "payhub_presence_disconnects_total",
			Help: "Registered sessions removed on disconnect",
		}),
		EventsDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payhub_events_delivered_total",
			Help: "Outbound events handed to a live connection",
		}, []string{"event"}),
		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payhub_events_dropped_total",
			Help: "Outbound events skipped because the recipient was offline or its buffer was full",
		}, []string{"event"}),
		ProtocolRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "payhub_protocol_rejected_total",
			Help: "Inbound frames rejected before dispatch",
		}, []string{"reason"}),
	}
}

func (m *Metrics) SetActiveUsers(n int) {
	m.ActiveUsers.Set(float64(n))
}

func (m *Metrics) IncrementHandshakes(result string) {
	m.Handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementDisconnects() {
	m.Disconnects.Inc()
}

func (m *Metrics) IncrementDelivered(event string) {
	m.EventsDelivered.WithLabelValues(event).Inc()
}

func (m *Metrics) IncrementDropped(event string) {
	m.EventsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) IncrementRejected(reason string) {
	m.ProtocolRejected.WithLabelValues(reason).Inc()
}
