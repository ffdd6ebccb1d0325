package hub

import "github.com/prometheus/client_golang/prometheus"

type hubMetrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	onlineUsers       prometheus.Gauge
	broadcastsTotal   prometheus.Counter
	relayTotal        *prometheus.CounterVec
	slowDropsTotal    prometheus.Counter
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &hubMetrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_connections_active",
			Help: "Current number of attached socket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fathom_connections_total",
			Help: "Total number of socket connections handled since start.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fathom_online_users",
			Help: "Current number of users with a registered connection.",
		}),
		broadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fathom_presence_broadcasts_total",
			Help: "Presence announcements fanned out to connections.",
		}),
		relayTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fathom_relay_total",
			Help: "Message relay attempts grouped by outcome.",
		}, []string{"outcome"}),
		slowDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fathom_slow_sessions_dropped_total",
			Help: "Sessions cancelled because their send buffer filled up.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.onlineUsers,
		m.broadcastsTotal,
		m.relayTotal,
		m.slowDropsTotal,
	)
	return m
}

func (m *hubMetrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *hubMetrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *hubMetrics) recordBroadcast(onlineCount int) {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
	m.onlineUsers.Set(float64(onlineCount))
}

func (m *hubMetrics) recordRelay(outcome string) {
	if m == nil {
		return
	}
	m.relayTotal.WithLabelValues(outcome).Inc()
}

func (m *hubMetrics) recordSlowDrop() {
	if m == nil {
		return
	}
	m.slowDropsTotal.Inc()
}
