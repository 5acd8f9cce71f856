package observability

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// tracingBatchSize and tracingBatchTimeout tune the span export batcher.
const (
	tracingBatchSize    = 512
	tracingBatchTimeout = 5 * time.Second
)

// InitTracing sets up OpenTelemetry tracing against a Jaeger collector and
// returns a shutdown func. Tracing is off (and the shutdown a no-op) unless
// OTEL_EXPORTER_JAEGER_ENDPOINT is set, e.g.
// http://localhost:14268/api/traces.
func InitTracing(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	endpoint := os.Getenv("OTEL_EXPORTER_JAEGER_ENDPOINT")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp,
			trace.WithMaxExportBatchSize(tracingBatchSize),
			trace.WithBatchTimeout(tracingBatchTimeout)),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
