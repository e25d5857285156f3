package notify

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	deliveries *prometheus.CounterVec
	retries    *prometheus.CounterVec
	dropped    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_notify_deliveries_total",
			Help: "Notification deliveries grouped by sink and result.",
		}, []string{"sink", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carelink_notify_retries_total",
			Help: "Delivery retries per sink.",
		}, []string{"sink"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "carelink_notify_dropped_total",
			Help: "Notifications dropped because the queue was full or closed.",
		}),
	}

	reg.MustRegister(m.deliveries, m.retries, m.dropped)
	return m
}

func (m *Metrics) recordDelivery(sink, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) recordRetry(sink string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(sink).Inc()
}

func (m *Metrics) recordDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
