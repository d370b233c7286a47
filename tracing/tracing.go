// SPDX-License-Identifier: LGPL-3.0-or-later

// Package tracing provides OpenTelemetry distributed tracing support
// for a servicing run: one span per run, one child span per subsystem
// step, so the stdout trace can show where a
// clean-install or A/B update spent its time and which step failed.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration
type Config struct {
	// Enabled determines if tracing is enabled
	Enabled bool

	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Environment is the deployment environment (dev, staging, prod)
	Environment string

	// SamplingRate is the trace sampling rate (0.0 to 1.0)
	SamplingRate float64

	// MaxExportBatchSize is the maximum batch size for export
	MaxExportBatchSize int

	// MaxQueueSize is the maximum queue size for spans
	MaxQueueSize int

	// ExportTimeout is the timeout for exporting spans
	ExportTimeout time.Duration
}

// DefaultConfig returns default tracing configuration. Tracing is off
// by default: hostagentd is usually run non-interactively by a boot
// unit or an orchestrator, and a stdout exporter writing to the
// journal on every step would be noise unless an operator asks for it.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		Enabled:            false,
		ServiceName:        serviceName,
		ServiceVersion:     "1.0.0",
		Environment:        "production",
		SamplingRate:       1.0,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
		ExportTimeout:      30 * time.Second,
	}
}

// Provider wraps the OpenTelemetry trace provider
type Provider struct {
	provider *sdktrace.TracerProvider
	config   *Config
}

// NewProvider creates a new tracing provider. Only the stdout exporter
// is supported: there is no collector deployed alongside a host
// agent, so traces are written to standard output.
func NewProvider(config *Config) (*Provider, error) {
	if !config.Enabled {
		return &Provider{
			provider: sdktrace.NewTracerProvider(),
			config:   config,
		}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	if config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if config.SamplingRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(
			exporter,
			sdktrace.WithMaxExportBatchSize(config.MaxExportBatchSize),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
			sdktrace.WithExportTimeout(config.ExportTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	return &Provider{
		provider: provider,
		config:   config,
	}, nil
}

// Shutdown shuts down the tracing provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Tracer returns a tracer for the given name
func (p *Provider) Tracer(name string) trace.Tracer {
	if p.provider == nil {
		return otel.Tracer(name)
	}
	return p.provider.Tracer(name)
}

// SpanFromContext returns the span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, opts...)
}

// SetStatus sets the status of the current span
func SetStatus(ctx context.Context, code codes.Code, description string) {
	span := trace.SpanFromContext(ctx)
	span.SetStatus(code, description)
}

// Common attribute keys
var (
	AttrServicingID = attribute.Key("servicing.id")
	AttrStep        = attribute.Key("servicing.step")
	AttrSubsystem   = attribute.Key("servicing.subsystem")
	AttrOperation   = attribute.Key("servicing.operation")
	AttrVolume      = attribute.Key("servicing.volume")
	AttrAttempt     = attribute.Key("servicing.attempt")
	AttrHTTPMethod  = attribute.Key("http.method")
	AttrHTTPPath    = attribute.Key("http.path")
	AttrHTTPStatus  = attribute.Key("http.status_code")
	AttrErrorType   = attribute.Key("error.type")
	AttrErrorMessage = attribute.Key("error.message")
)

// Helper functions for common span operations

// TraceServicingRun traces one full stage/finalize run of the
// executor, identified by the servicing ID the executor assigns when
// it starts.
func TraceServicingRun(ctx context.Context, tracer trace.Tracer, servicingID string, operation string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "servicing.run",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrServicingID.String(servicingID),
			AttrOperation.String(operation),
		),
	)
	return ctx, span
}

// TraceStep traces a single subsystem step within a servicing run.
func TraceStep(ctx context.Context, tracer trace.Tracer, step, subsystemName string, attempt int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("step.%s", step),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrStep.String(step),
			AttrSubsystem.String(subsystemName),
			AttrAttempt.Int(attempt),
		),
	)
	return ctx, span
}

// TraceBootCommit traces the boot-commit supervisor's promote-or-roll-back
// check that runs on every boot.
func TraceBootCommit(ctx context.Context, tracer trace.Tracer, volume string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "commit.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrVolume.String(volume),
		),
	)
	return ctx, span
}

// TraceHTTPRequest traces an HTTP request served by the metrics server.
func TraceHTTPRequest(ctx context.Context, tracer trace.Tracer, method, path string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, fmt.Sprintf("HTTP %s %s", method, path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrHTTPMethod.String(method),
			AttrHTTPPath.String(path),
		),
	)
	return ctx, span
}
