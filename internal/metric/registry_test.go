package metric

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Metrics)

	r.Metrics.MessagesReceived.WithLabelValues("Sensor").Inc()
	r.Metrics.MessagesReceived.WithLabelValues("Sensor").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(r.Metrics.MessagesReceived.WithLabelValues("Sensor")))

	families, err := r.Prometheus().Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "tripwire_messages_received_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})

	require.NoError(t, r.Register("svc", "test_total", c))
	assert.ErrorIs(t, r.Register("svc", "test_total", c), ErrDuplicate)

	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_total", Help: "test"})
	assert.ErrorIs(t, r.Register("other", "test_total", other), ErrDuplicate)

	assert.True(t, r.Unregister("svc", "test_total"))
	assert.False(t, r.Unregister("svc", "test_total"))
	require.NoError(t, r.Register("svc", "test_total", c))
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.Metrics.Actions.WithLabelValues("sns", "success").Inc()

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tripwire_actions_executed_total{kind="sns",status="success"} 1`)
}
