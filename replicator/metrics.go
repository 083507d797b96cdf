package replicator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/litesync/metric"
)

const metricsService = "replicator"

// Metrics tracks coordinator activity. A nil *Metrics records nothing.
type Metrics struct {
	pending       prometheus.Gauge
	withheld      prometheus.Gauge
	resolutions   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics creates coordinator metrics and registers them with registry.
func NewMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "replicator",
			Name:      "pending_resolutions",
			Help:      "Conflict resolutions in flight",
		}),
		withheld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "replicator",
			Name:      "withheld_statuses",
			Help:      "Status events held back until pending resolutions finish",
		}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replicator",
			Name:      "resolutions_total",
			Help:      "Finished conflict resolutions by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "replicator",
			Name:      "notifications_total",
			Help:      "Listener notifications scheduled",
		}, []string{"kind"}),
	}

	if registry == nil {
		return m, nil
	}
	if err := registry.RegisterGauge(metricsService, "pending_resolutions", m.pending); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(metricsService, "withheld_statuses", m.withheld); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "resolutions_total", m.resolutions); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsService, "notifications_total", m.notifications); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) setWithheld(n int) {
	if m != nil {
		m.withheld.Set(float64(n))
	}
}

func (m *Metrics) resolved(result string) {
	if m != nil {
		m.resolutions.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) notified(kind string, n int) {
	if m != nil && n > 0 {
		m.notifications.WithLabelValues(kind).Add(float64(n))
	}
}
