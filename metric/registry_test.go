package metric

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/litesync/errors"
)

func gathered(t *testing.T, r *MetricsRegistry, name string) bool {
	t.Helper()
	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return true
		}
	}
	return false
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "A test counter"})
	require.NoError(t, registry.RegisterCounter("bridge", "test_counter", counter))
	counter.Inc()

	assert.True(t, gathered(t, registry, "test_counter"))
	assert.True(t, registry.Registered("bridge", "test_counter"))
}

func TestMetricsRegistry_DuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "dup_gauge", Help: "dup"})
	require.NoError(t, registry.RegisterGauge("coordinator", "dup_gauge", gauge))

	err := registry.RegisterGauge("coordinator", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// Same collector under a different service name collides in Prometheus.
	err = registry.RegisterGauge("other", "dup_gauge", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMetricsRegistry_Vectors(t *testing.T) {
	registry := NewMetricsRegistry()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vec_total", Help: "v"}, []string{"kind"})
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "vec_gauge", Help: "v"}, []string{"kind"})
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "vec_seconds", Help: "v"}, []string{"kind"})

	require.NoError(t, registry.RegisterCounterVec("svc", "vec_total", cv))
	require.NoError(t, registry.RegisterGaugeVec("svc", "vec_gauge", gv))
	require.NoError(t, registry.RegisterHistogramVec("svc", "vec_seconds", hv))

	cv.WithLabelValues("a").Inc()
	assert.True(t, gathered(t, registry, "vec_total"))
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gone_total", Help: "g"})
	require.NoError(t, registry.RegisterCounter("svc", "gone_total", counter))

	assert.True(t, registry.Unregister("svc", "gone_total"))
	assert.False(t, registry.Unregister("svc", "gone_total"))
	assert.False(t, registry.Registered("svc", "gone_total"))

	// Can be registered again once removed.
	require.NoError(t, registry.RegisterCounter("svc", "gone_total", counter))
}

func TestServer_ServesMetrics(t *testing.T) {
	registry := NewMetricsRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "served_total", Help: "s"})
	require.NoError(t, registry.RegisterCounter("svc", "served_total", counter))
	counter.Add(3)

	srv := NewServer("127.0.0.1:0", "", registry)
	require.NoError(t, srv.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	}()

	assert.Error(t, srv.Start())

	resp, err := http.Get(srv.Address())
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "served_total 3")
}
