package websocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/litesync/metric"
)

const metricsService = "websocket"

// Metrics tracks handshakes and keepalives. A nil *Metrics records nothing.
type Metrics struct {
	handshakes  *prometheus.CounterVec
	authRetries prometheus.Counter
	pings       prometheus.Counter
	queueFull   prometheus.Counter
}

// NewMetrics creates transport metrics and registers them with registry.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "handshakes_total",
			Help:      "WebSocket handshakes by result",
		}, []string{"result"}),
		authRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "auth_retries_total",
			Help:      "Handshakes retried with credentials after a challenge",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "pings_sent_total",
			Help:      "Keepalive pings sent",
		}),
		queueFull: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "websocket",
			Name:      "write_queue_full_total",
			Help:      "Writes refused because the write queue was full",
		}),
	}

	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterCounterVec(metricsService, "handshakes_total", m.handshakes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "auth_retries_total", m.authRetries); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "pings_sent_total", m.pings); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "write_queue_full_total", m.queueFull); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) handshake(result string) {
	if m != nil {
		m.handshakes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) authRetry() {
	if m != nil {
		m.authRetries.Inc()
	}
}

func (m *Metrics) ping() {
	if m != nil {
		m.pings.Inc()
	}
}

func (m *Metrics) writeQueueFull() {
	if m != nil {
		m.queueFull.Inc()
	}
}
