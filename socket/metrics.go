package socket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/litesync/metric"
)

const metricsService = "socket"

// Metrics tracks bridge activity. A nil *Metrics records nothing.
type Metrics struct {
	active        prometheus.Gauge
	transitions   *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	writesDropped prometheus.Counter
	closed        *prometheus.CounterVec
}

// NewMetrics creates bridge metrics and registers them with registry.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "socket",
			Name:      "bridges_active",
			Help:      "Bridges bound and not yet closed",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "socket",
			Name:      "transitions_total",
			Help:      "Socket state transitions",
		}, []string{"from", "to"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "socket",
			Name:      "bytes_total",
			Help:      "Payload bytes moved through bridges",
		}, []string{"direction"}),
		writesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "socket",
			Name:      "writes_dropped_total",
			Help:      "Engine writes dropped because the socket was not open or the transport refused them",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "socket",
			Name:      "closed_total",
			Help:      "Bridges closed, by close status domain",
		}, []string{"domain"}),
	}

	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterGauge(metricsService, "bridges_active", m.active); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "transitions_total", m.transitions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "bytes_total", m.bytes); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsService, "writes_dropped_total", m.writesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "closed_total", m.closed); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) transition(from, to State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	switch to {
	case StateOpening:
		m.active.Inc()
	case StateClosed:
		m.active.Dec()
	case StateClosing:
		if from == StateUnopened {
			// Never counted as active.
			m.active.Inc()
		}
	}
}

func (m *Metrics) sent(n int) {
	if m != nil {
		m.bytes.WithLabelValues("sent").Add(float64(n))
	}
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.bytes.WithLabelValues("received").Add(float64(n))
	}
}

func (m *Metrics) dropped() {
	if m != nil {
		m.writesDropped.Inc()
	}
}

func (m *Metrics) closedWith(status CloseStatus) {
	if m != nil {
		m.closed.WithLabelValues(status.Domain.String()).Inc()
	}
}
