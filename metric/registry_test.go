package metric

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/certmgr/errors"
)

func familyNames(t *testing.T, r *Registry) map[string]bool {
	t.Helper()
	families, err := r.Prometheus().Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	r.Core().RecordRootCADays(3650)

	names := familyNames(t, r)
	assert.True(t, names["certmgr_root_ca_days_to_expiration"])
	assert.True(t, names["go_goroutines"])
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "api_requests_total", Help: "requests"}, []string{"route"})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "api_latency_seconds", Help: "latency"})

	require.NoError(t, r.Register("gateway", "requests", requests))
	require.NoError(t, r.Register("gateway", "latency", latency))

	requests.WithLabelValues("/v1/certs").Inc()
	latency.Observe(0.2)

	names := familyNames(t, r)
	assert.True(t, names["api_requests_total"])
	assert.True(t, names["api_latency_seconds"])
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	newVec := func() prometheus.Collector {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Name: "dup_total", Help: "dup"}, []string{"x"})
	}

	tests := []struct {
		name      string
		component string
	}{
		{"same key", "gateway"},
		{"same metric name under another key", "other"},
	}

	require.NoError(t, r.Register("gateway", "dup", newVec()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.component, "dup", newVec())
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tmp_gauge", Help: "tmp"})

	require.NoError(t, r.Register("gateway", "tmp", g))
	assert.True(t, r.Unregister("gateway", "tmp"))
	assert.False(t, r.Unregister("gateway", "tmp"))
	require.NoError(t, r.Register("gateway", "tmp", g))
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := prometheus.NewCounter(prometheus.CounterOpts{Name: fmt.Sprintf("concurrent_%d_total", i), Help: "c"})
			errs <- r.Register("comp", fmt.Sprintf("m%d", i), c)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
