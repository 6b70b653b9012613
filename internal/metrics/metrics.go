// Package metrics exposes bridge activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mijiabridge"

// Connect attempt results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the bridge collectors on a private registry.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	sensors         *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	connectDuration prometheus.Histogram
	disconnects     prometheus.Counter
	readings        prometheus.Counter
	invalidReadings prometheus.Counter
	ignoredEvents   prometheus.Counter
}

// New creates and registers the bridge collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sensors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensors",
			Help:      "Number of known sensors by connection state.",
		}, []string{"state"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Sensor connection attempts by result.",
		}, []string{"result"}),
		connectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Duration of sensor connection attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Disconnects of connected sensors.",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Decoded sensor readings published.",
		}),
		invalidReadings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_readings_total",
			Help:      "Sensor payloads that could not be decoded.",
		}),
		ignoredEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ignored_events_total",
			Help:      "Transport events that required no action.",
		}),
	}

	m.registry.MustRegister(
		m.sensors,
		m.connectAttempts,
		m.connectDuration,
		m.disconnects,
		m.readings,
		m.invalidReadings,
		m.ignoredEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// SetSensors records how many sensors are in a connection state.
func (m *Metrics) SetSensors(state string, n int) {
	if m == nil {
		return
	}
	m.sensors.WithLabelValues(state).Set(float64(n))
}

// ObserveConnect records one connection attempt.
func (m *Metrics) ObserveConnect(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
	m.connectDuration.Observe(d.Seconds())
}

func (m *Metrics) IncDisconnects() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

func (m *Metrics) IncReadings() {
	if m == nil {
		return
	}
	m.readings.Inc()
}

func (m *Metrics) IncInvalidReadings() {
	if m == nil {
		return
	}
	m.invalidReadings.Inc()
}

func (m *Metrics) IncIgnoredEvents() {
	if m == nil {
		return
	}
	m.ignoredEvents.Inc()
}

// Registry returns the registry holding the bridge collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve serves /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return ctx.Err()
	}
}
