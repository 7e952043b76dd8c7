// Package tracing exports micstream spans to Jaeger and offers span helpers
// for the recording, catalog and transport layers.
package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "micstream"

// Config selects the exporter and sampling.
type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	// SampleRate is the fraction of root spans kept. Children follow their parent.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "micstream",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Provider owns the SDK provider installed by Init. A disabled Provider is a
// no-op and leaves the global no-op tracer in place.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.sdk != nil
}

// Init installs a Jaeger-backed provider as the global tracer provider.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	if cfg.JaegerURL == "" {
		return nil, errors.New("jaeger url is required when tracing is enabled")
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	sdk := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{sdk: sdk}, nil
}

func sampler(rate float64) tracesdk.Sampler {
	switch {
	case rate <= 0:
		return tracesdk.ParentBased(tracesdk.NeverSample())
	case rate >= 1:
		return tracesdk.ParentBased(tracesdk.AlwaysSample())
	default:
		return tracesdk.ParentBased(tracesdk.TraceIDRatioBased(rate))
	}
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

// Span attribute keys shared across packages.
var (
	RecordingIDKey  = attribute.Key("recording.id")
	ConnectionIDKey = attribute.Key("connection.id")
	FrameSizeKey    = attribute.Key("frame.size")
)

// StartSpan starts a span on the micstream tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// AddSpanAttributes annotates the span carried by ctx.
func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

// RecordError marks the span carried by ctx as failed.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// MarkOK sets an Ok status on the span carried by ctx.
func MarkOK(ctx context.Context) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
}

// TraceHTTPRequest starts a server span for a routed request.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceAudioFrame starts a span for one inbound stream message.
func TraceAudioFrame(ctx context.Context, outcome, connectionID string, size int) (context.Context, trace.Span) {
	return StartSpan(ctx, "stream."+outcome,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			ConnectionIDKey.String(connectionID),
			FrameSizeKey.Int(size),
		),
	)
}

// TraceRecording starts a span for a recording lifecycle step. An empty id is
// left off and can be attached later with AddSpanAttributes.
func TraceRecording(ctx context.Context, step, recordingID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("recording.step", step)}
	if recordingID != "" {
		attrs = append(attrs, RecordingIDKey.String(recordingID))
	}
	return StartSpan(ctx, "recording."+step, trace.WithAttributes(attrs...))
}

// TraceCatalogOperation starts a client span for a catalog call.
func TraceCatalogOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, "catalog."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String(backend),
			semconv.DBOperationKey.String(operation),
		),
	)
}
