// tracing.go — OpenTelemetry span helpers for the autonomy tick.
//
// StartTick opens a root span for one tick, StartStage a child span for one
// pipeline stage, and TraceID reads the OTel trace id from a context. The
// autonomy tick (internal/kernel) holds a Tracing but calls none of these,
// so no tick spans are emitted, and the decision-trace record carries its
// own trace id (trc-<unix_nanos>-<seq>), not an OTel one.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Tracing owns the process-wide TracerProvider used for autonomy-tick spans.
// When disabled, it hands out a no-op tracer so call sites never need a
// nil check.
type Tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// NewTracing builds a Tracing instance. When enabled is false the returned
// Tracing still satisfies the same API but every span is a no-op, so call
// sites need no enabled check.
func NewTracing(enabled bool, serviceName, serviceVersion string) (*Tracing, func(context.Context) error, error) {
	if !enabled {
		return &Tracing{tracer: otel.Tracer("nous-kernel/noop"), enabled: false}, func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	t := &Tracing{
		provider: provider,
		tracer:   provider.Tracer("nous-kernel/autonomy"),
		enabled:  true,
	}
	return t, provider.Shutdown, nil
}

// StartTick opens the root span for one autonomy tick.
func (t *Tracing) StartTick(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "autonomy.tick")
}

// StartStage opens a child span for one pipeline stage (telemetry, inference,
// policy, dispatch, trace) under the current tick's root span.
func (t *Tracing) StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "autonomy."+stage)
}

// TraceID returns the current span's trace id as a hex string, or "" when
// tracing is disabled or ctx carries no span.
func (t *Tracing) TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
