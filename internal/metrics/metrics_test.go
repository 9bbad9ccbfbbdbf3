package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RequestsTotal.WithLabelValues("get_access_token", "OK").Inc()
	m.CacheLookupsTotal.WithLabelValues(ResultHit).Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get_access_token", "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookupsTotal.WithLabelValues(ResultHit)))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "trustbroker_broker_requests_total")
	assert.Contains(t, names, "trustbroker_cache_lookups_total")

	// a second registration of the same collectors fails
	assert.Panics(t, func() { New(reg) })
}

func TestNew_Unregistered(t *testing.T) {
	m := New(nil)
	m.SessionsSweptTotal.Add(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsSweptTotal))
}
