// Package tracing wires the engine into OpenTelemetry. Spans are exported
// over OTLP/HTTP when OTEL_EXPORTER_OTLP_ENDPOINT is set; otherwise every
// tracer returned here is a no-op and costs nothing per request.
package tracing

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const serviceName = "agentdeck"

var (
	setupOnce sync.Once
	provider  trace.TracerProvider = noop.NewTracerProvider()
	flushable *sdktrace.TracerProvider
)

// Tracer returns a named tracer, initializing the exporter on first use.
func Tracer(name string) trace.Tracer {
	setupOnce.Do(setup)
	return provider.Tracer(name)
}

// Shutdown flushes pending spans. A no-op when tracing never started.
func Shutdown(ctx context.Context) error {
	if flushable == nil {
		return nil
	}
	return flushable.Shutdown(ctx)
}

func setup() {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return
	}
	ctx := context.Background()

	// otlptracehttp wants host:port, not a URL.
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	)
	if err != nil {
		res = resource.Default()
	}

	flushable = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	provider = flushable
	otel.SetTracerProvider(provider)
}
