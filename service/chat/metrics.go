package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 网关指标，nil 安全
type Metrics struct {
	connections   prometheus.Gauge
	onlineUsers   prometheus.Gauge
	activeCalls   prometheus.Gauge
	events        *prometheus.CounterVec
	eventLatency  *prometheus.HistogramVec
	outbound      *prometheus.CounterVec
	slowConsumers prometheus.Counter
	authFailures  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carelink_ws_connections",
			Help: "Open WebSocket connections on this node.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carelink_online_users",
			Help: "Users with at least one live connection.",
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carelink_active_calls",
			Help: "Calls currently ringing or accepted.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_ws_events_total",
			Help: "Inbound events grouped by name and result.",
		}, []string{"event", "result"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carelink_ws_event_duration_seconds",
			Help:    "Time spent handling one inbound event.",
			Buckets: prometheus.DefBuckets,
		}, []string{"event"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_ws_outbound_total",
			Help: "Outbound frames queued per event name.",
		}, []string{"event"}),
		slowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_ws_slow_consumers_total",
			Help: "Connections closed because their send queue was full.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_ws_auth_failures_total",
			Help: "Upgrade requests rejected by the gatekeeper.",
		}),
	}

	reg.MustRegister(m.connections, m.onlineUsers, m.activeCalls, m.events,
		m.eventLatency, m.outbound, m.slowConsumers, m.authFailures)
	return m
}

func (m *Metrics) connOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) setOnline(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) setCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

func (m *Metrics) observeEvent(event, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(event, result).Inc()
	m.eventLatency.WithLabelValues(event).Observe(took.Seconds())
}

func (m *Metrics) recordOutbound(event string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.outbound.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) recordSlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

// AuthFailed 由 gatekeeper 回调
func (m *Metrics) AuthFailed() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
