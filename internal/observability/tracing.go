// Package observability wires OpenTelemetry distributed tracing. Spans are
// exported over OTLP HTTP to a local collector; an unreachable collector
// degrades to no tracing, never to a failed startup.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/finchlabs/finch/internal/log"
)

// DefaultCollectorHost is the default OTLP HTTP endpoint.
const DefaultCollectorHost = "localhost:4318"

// shutdownTimeout bounds the final span flush on exit.
const shutdownTimeout = 5 * time.Second

// Config for tracing setup.
type Config struct {
	// CollectorHost is the OTLP HTTP endpoint (default: localhost:4318).
	CollectorHost string
	// Environment is the deployment environment tag (dev, staging, prod).
	Environment string
	// ServiceName appears on every exported span.
	ServiceName string
}

// Setup registers a global tracer provider exporting to the collector.
// Returns a shutdown function that flushes pending spans.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	host := cfg.CollectorHost
	if host == "" {
		host = DefaultCollectorHost
	}
	service := cfg.ServiceName
	if service == "" {
		service = "finch"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(host),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter failed, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"collector", host,
		"service", service,
		"environment", cfg.Environment,
	)

	return func(ctx context.Context) error {
		flushCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return provider.Shutdown(flushCtx)
	}, nil
}
