package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Command result labels of command_duration_seconds.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// Metrics provides Prometheus metrics for deploys.
type Metrics struct {
	config MetricsConfig

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	leavesTotal     *prometheus.CounterVec
	leafDuration    prometheus.Histogram
	commandsRunning prometheus.Gauge
	commandDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	namespace := cfg.Namespace
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of finished deploy runs",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of deploy runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		leavesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leaves_total",
				Help:      "Total number of leaves that reached a terminal status",
			},
			[]string{"status"},
		),
		leafDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "leaf_duration_seconds",
				Help:      "Time from reaching a leaf to its terminal status in seconds",
				Buckets:   buckets,
			},
		),
		commandsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "commands_running",
				Help:      "Current number of running external commands",
			},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Duration of external commands in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.leavesTotal,
		m.leafDuration,
		m.commandsRunning,
		m.commandDuration,
	)

	return m
}

// RecordRun records a finished run.
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordLeaf records a leaf reaching a terminal status.
func (m *Metrics) RecordLeaf(status string, duration time.Duration) {
	m.leavesTotal.WithLabelValues(status).Inc()
	m.leafDuration.Observe(duration.Seconds())
}

// CommandStarted marks an external command as running.
func (m *Metrics) CommandStarted() {
	m.commandsRunning.Inc()
}

// CommandFinished records the end of an external command.
func (m *Metrics) CommandFinished(result string, duration time.Duration) {
	m.commandsRunning.Dec()
	m.commandDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done. It returns once the
// listener is bound, so callers can rely on the endpoint being reachable.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) error {
	if m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	logger.Info().Str("addr", ln.Addr().String()).Str("path", path).Msg("Serving metrics")
	return nil
}
