package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.SetSensors("queued", 3)
	m.SetSensors("connected", 1)
	m.ObserveConnect(ResultSuccess, 800*time.Millisecond)
	m.ObserveConnect(ResultFailure, 4*time.Second)
	m.ObserveConnect(ResultFailure, 4*time.Second)
	m.IncDisconnects()
	m.IncReadings()
	m.IncReadings()
	m.IncInvalidReadings()
	m.IncIgnoredEvents()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sensors.WithLabelValues("queued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensors.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectAttempts.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.connectDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invalidReadings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ignoredEvents))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetSensors("queued", 1)
		m.ObserveConnect(ResultSuccess, time.Second)
		m.IncDisconnects()
		m.IncReadings()
		m.IncInvalidReadings()
		m.IncIgnoredEvents()
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncReadings()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "mijiabridge_readings_total 1")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- New().Serve(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
