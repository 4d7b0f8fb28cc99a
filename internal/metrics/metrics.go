// Package metrics instruments the relay. Delivery outcomes are split so
// "nothing was delivered" and "delivery was attempted but dropped" stay
// distinguishable: a silent drop still moves a counter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons.
const (
	ReasonBackpressure = "backpressure"
	ReasonUnreachable  = "unreachable"
	ReasonConnGone     = "conn_gone"
)

type Metrics struct {
	DeliveredTotal  *prometheus.CounterVec
	DroppedTotal    *prometheus.CounterVec
	MalformedTotal  prometheus.Counter
	OnlineUsers     prometheus.Gauge
	OpenConnections prometheus.Gauge
}

// New registers the relay metrics on reg. Passing a fresh registry in
// tests keeps assertions isolated; cmd/server passes the default one.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DeliveredTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Events handed to a peer connection's send queue",
		}, []string{"kind"}),
		DroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_drops_total",
			Help: "Events that could not be delivered",
		}, []string{"kind", "reason"}),
		MalformedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_malformed_events_total",
			Help: "Inbound events dropped because they failed to decode",
		}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_online_users",
			Help: "Users with at least one live connection",
		}),
		OpenConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_open_connections",
			Help: "Live transport sessions",
		}),
	}
}

func (m *Metrics) Delivered(kind string) {
	m.DeliveredTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) Dropped(kind, reason string) {
	m.DroppedTotal.WithLabelValues(kind, reason).Inc()
}
