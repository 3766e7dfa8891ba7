// Package telemetry sets up OpenTelemetry tracing for the engine and
// connection pool. Tracing is opt-in: unless Config.Enabled is set, every
// span is a no-op.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls whether and where spans are exported.
type Config struct {
	Enabled      bool    `toml:"enabled"`
	Endpoint     string  `toml:"endpoint"`
	SamplingRate float64 `toml:"sampling_rate"`
	ServiceName  string  `toml:"service_name"`
}

// Init builds the global tracer provider per cfg. When cfg.Enabled is
// false, it installs a no-op provider and every Tracer() call becomes free.
// The caller is responsible for shutting the returned provider down.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return nil, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "cmcp"
	}
	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns the named tracer off of whatever provider Init installed.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
