// Package tracing wires OpenTelemetry spans around ticks and casts.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Common attribute keys.
const (
	TaskIDKey    = "skillscript.task.id"
	ActorIDKey   = "skillscript.actor.id"
	ScriptKey    = "skillscript.script"
	TriggerKey   = "skillscript.trigger"
	TickKey      = "skillscript.tick"
	TaskCountKey = "skillscript.tasks"
	StatusKey    = "skillscript.task.status"
	ServiceName  = "skillscript"
)

// Noop returns a tracer that records nothing.
//
//nolint:ireturn
func Noop() trace.Tracer {
	return noop.NewTracerProvider().Tracer(ServiceName)
}

// NewTracer installs a global provider exporting over OTLP/HTTP. The exporter
// reads the standard OTEL_EXPORTER_OTLP_* variables. The returned function
// flushes and stops the provider.
//
//nolint:ireturn
func NewTracer(ctx context.Context, serviceName string) (trace.Tracer, func(context.Context) error, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp.Tracer(serviceName), tp.Shutdown, nil
}

// StartSpan starts a span with attrs.
//
//nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetError marks span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}
