package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Metrics are the server's Prometheus collectors.  A nil *Metrics records nothing.
type Metrics struct {
	Connections   prometheus.Gauge
	Subscriptions prometheus.Gauge
	Frames        *prometheus.CounterVec
	Rejections    *prometheus.CounterVec
	Dropped       prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stomp",
			Name:      "connections",
			Help:      "Number of open client connections",
		}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stomp",
			Name:      "subscriptions",
			Help:      "Number of active subscriptions across all destinations",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stomp",
			Name:      "frames_total",
			Help:      "Frames received and sent by command",
		}, []string{"direction", "command"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stomp",
			Name:      "rejections_total",
			Help:      "Frames rejected with an ERROR by reason",
		}, []string{"reason"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stomp",
			Name:      "dropped_connections_total",
			Help:      "Connections lost without DISCONNECT",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Subscriptions, m.Frames, m.Rejections, m.Dropped)
	}
	return m
}

func (m *Metrics) frame(direction string, f stomp.Frame) {
	if m == nil {
		return
	}
	m.Frames.WithLabelValues(direction, f.Command.String()).Inc()
}

func (m *Metrics) connection(delta float64) {
	if m == nil {
		return
	}
	m.Connections.Add(delta)
}

func (m *Metrics) subscriptions(delta float64) {
	if m == nil {
		return
	}
	m.Subscriptions.Add(delta)
}

func (m *Metrics) rejected(reason string) {
	if m == nil {
		return
	}
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.Dropped.Inc()
}
