// Package observability wraps OpenTelemetry tracing and metrics for client
// operations. A zero Config, or one without providers, uses no-op
// implementations.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName identifies the client when no name is configured.
	DefaultServiceName = "odata-client"

	instrumentationName = "github.com/nlstn/go-odataclient"
)

// Config holds the providers and the instruments created from them.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.logger = l }
}

// NewConfig applies opts. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	var traceOpts []trace.TracerOption
	if c.serviceVersion != "" {
		traceOpts = append(traceOpts, trace.WithInstrumentationVersion(c.serviceVersion))
	}
	c.tracer = &Tracer{
		tracer:      c.tracerProvider.Tracer(instrumentationName, traceOpts...),
		serviceName: c.serviceName,
	}

	m, err := newMetrics(c.meterProvider.Meter(instrumentationName), c.serviceName)
	if err != nil {
		return fmt.Errorf("failed to create metric instruments: %w", err)
	}
	c.metrics = m
	return nil
}

// Tracer returns the operation tracer. It is never nil after Initialize.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return &Tracer{tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName)}
	}
	return c.tracer
}

// Metrics returns the client instruments. It is never nil after Initialize.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		m, _ := newMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName), DefaultServiceName)
		return m
	}
	return c.metrics
}

func (c *Config) ServiceName() string { return c.serviceName }
