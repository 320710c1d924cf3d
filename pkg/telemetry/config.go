package telemetry

import (
	"errors"
	"fmt"
	"time"
)

// Config gathers the logging, tracing and metrics settings of one CLI
// invocation. The CLI derives it from the project file and flags.
type Config struct {
	ServiceName    string
	ServiceVersion string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

type LoggingConfig struct {
	// Level is a zerolog level name; see ParseLevel.
	Level string
	// Format is "console" or "json".
	Format       string
	EnableCaller bool
}

type TracingConfig struct {
	// Exporter is "otlp", "stdout" or "none".
	Exporter string
	// Endpoint is the OTLP gRPC collector address.
	Endpoint      string
	SamplingRate  float64
	ExportTimeout time.Duration
	Insecure      bool
}

type MetricsConfig struct {
	// ListenAddress serves Path over HTTP when set. Metrics are collected
	// either way.
	ListenAddress string
	Path          string
	Namespace     string
	// Buckets bound the leaf duration histogram, in seconds.
	Buckets []float64
}

// DefaultConfig logs at info to the console, exports no traces and keeps
// metrics in-process.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "playtree",
		ServiceVersion: "dev",
		Logging:        LoggingConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{
			Exporter:      "none",
			Endpoint:      "localhost:4317",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Path:      "/metrics",
			Namespace: "playtree",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	}
}

func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if err := c.Tracing.validate(); err != nil {
		return err
	}
	if c.Metrics.ListenAddress != "" && c.Metrics.Path == "" {
		return errors.New("metrics path is required when the metrics endpoint is enabled")
	}
	return nil
}

func (l LoggingConfig) validate() error {
	if _, err := ParseLevel(l.Level); err != nil {
		return err
	}
	switch l.Format {
	case "console", "json":
		return nil
	default:
		return fmt.Errorf("invalid log format %q: want console or json", l.Format)
	}
}

func (t TracingConfig) validate() error {
	switch t.Exporter {
	case "none", "stdout":
	case "otlp":
		if t.Endpoint == "" {
			return errors.New("otlp trace exporter requires an endpoint")
		}
	default:
		return fmt.Errorf("invalid trace exporter %q", t.Exporter)
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate %v is outside [0, 1]", t.SamplingRate)
	}
	return nil
}
