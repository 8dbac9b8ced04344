package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordAdmitted("invokeai")
	m.RecordAdmitted("invokeai")
	m.RecordRejected("ollama", "too_many")
	m.RecordDelivery("text", nil)
	m.RecordDelivery("text", errors.New("x"))
	m.RecordTimeout()
	m.SetInFlight(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admitted.WithLabelValues("invokeai")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("ollama", "too_many")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("text", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("text", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.inFlight))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.RecordStarted("invokeai")
	m.ObserveDispatch("invokeai", 120*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `genrelay_jobs_started_total{backend="invokeai"} 1`)
	assert.Contains(t, string(body), "genrelay_dispatch_duration_seconds_bucket")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
