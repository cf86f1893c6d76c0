// Package tracing wires the gateway into the OpenTelemetry SDK, producing
// spans around endpoint probes and request dispatches.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/resource"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer wraps an otel.Tracer with the span conveniences the gateway needs.
type Tracer struct {
	tracer   oteltrace.Tracer
	provider *sdktrace.TracerProvider
}

// New builds a Tracer backed by a fresh OpenTelemetry SDK TracerProvider and
// registers it as the global provider. serviceName/environment populate the
// resource attributes attached to every span.
func New(serviceName, environment string) (*Tracer, error) {
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.DeploymentEnvironmentKey.String(environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return &Tracer{tracer: otel.Tracer(serviceName), provider: tp}, nil
}

// Shutdown flushes and stops the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// StartProbe begins a span covering one endpoint's check_and_update cycle.
func (t *Tracer) StartProbe(ctx context.Context, endpointID, url string) (context.Context, oteltrace.Span) {
	ctx, span := t.tracer.Start(ctx, "endpoint.check_and_update")
	span.SetAttributes(attribute.String("endpoint.id", endpointID), attribute.String("endpoint.url", url))
	return ctx, span
}

// StartDispatch begins a span covering one proxied request.
func (t *Tracer) StartDispatch(ctx context.Context, handler string) (context.Context, oteltrace.Span) {
	ctx, span := t.tracer.Start(ctx, "dispatcher.proxy")
	span.SetAttributes(attribute.String("ocr.handler", handler))
	return ctx, span
}

// RecordError marks the span as failed with err, if err is non-nil.
func RecordError(span oteltrace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ExtractIDs pulls the active trace/span IDs out of ctx, if any span is
// recording there. Used to correlate log lines with traces.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
